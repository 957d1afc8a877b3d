package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/haatos/stageci/internal"
	"github.com/haatos/stageci/internal/agent"
	"github.com/haatos/stageci/internal/engine"
	"github.com/haatos/stageci/internal/handler"
	"github.com/haatos/stageci/internal/logging"
	"github.com/haatos/stageci/internal/service"
	"github.com/haatos/stageci/internal/settings"
	"github.com/haatos/stageci/internal/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	_ "modernc.org/sqlite"
)

func main() {
	settings.ReadDotenv()
	settings.Settings = settings.NewSettings()
	internal.InitializeConfiguration()
	if err := logging.Initialize(
		envOrDefault("STAGECI_LOG_FORMAT", logging.Tint),
		envOrDefault("STAGECI_LOG_LEVEL", "info"),
	); err != nil {
		log.Fatal(err)
	}

	for _, dir := range []string{
		settings.Settings.WorkspaceDir(),
		settings.Settings.CacheDir(),
		settings.Settings.ArtifactsDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal(err)
		}
	}

	rdb, err := store.OpenDatabase(true)
	if err != nil {
		log.Fatal(err)
	}
	defer rdb.Close()
	rwdb, err := store.OpenDatabase(false)
	if err != nil {
		log.Fatal(err)
	}
	defer rwdb.Close()
	store.RunMigrations(rwdb)

	pipelineScheduler := service.NewScheduler()
	defer func() {
		if err := pipelineScheduler.Shutdown(); err != nil {
			log.Println("err shutting down scheduler:", err)
		}
	}()

	pipelineStore := store.NewPipelineSQLiteStore(rdb, rwdb)
	runStore := store.NewRunSQLiteStore(rdb, rwdb)
	jobStore := store.NewJobSQLiteStore(rdb, rwdb)
	artifactStore := store.NewArtifactSQLiteStore(rdb, rwdb)
	cacheStore := store.NewCacheSQLiteStore(rdb, rwdb)
	apiKeyStore := store.NewAPIKeySQLiteStore(rdb, rwdb)

	cacheMgr := engine.NewCacheManager(settings.Settings.CacheDir(), cacheStore)
	artifactMgr := engine.NewArtifactManager(
		settings.Settings.ArtifactsDir(),
		time.Duration(internal.Config.DefaultRetentionDays)*24*time.Hour,
	)

	apiKeySvc := service.NewAPIKeyService(apiKeyStore, service.NewUUIDGen())
	pipelineSvc := service.NewPipelineService(
		pipelineStore,
		runStore,
		jobStore,
		artifactStore,
		pipelineScheduler,
		newRunner(),
		cacheMgr,
		artifactMgr,
		settings.Settings.WorkspaceDir(),
	)
	if err := pipelineSvc.InitializeRunQueues(context.Background()); err != nil {
		log.Fatal(err)
	}
	defer pipelineSvc.ShutdownAll()

	if err := pipelineSvc.StartArtifactSweeper(
		time.Duration(internal.Config.ArtifactSweepHours),
	); err != nil {
		log.Fatal(err)
	}
	pipelineScheduler.Start()

	e := setupEcho()
	api := e.Group("/api", handler.APIKeyMiddleware(apiKeySvc))
	handler.SetupPipelineRoutes(api, handler.NewPipelineHandler(pipelineSvc))
	handler.SetupRunRoutes(api, handler.NewRunHandler(pipelineSvc))
	handler.SetupArtifactRoutes(api, handler.NewArtifactHandler(pipelineSvc))
	handler.SetupAPIKeyRoutes(api, handler.NewAPIKeyHandler(apiKeySvc))

	internal.GracefulShutdown(e, settings.Settings.Port)
}

// newRunner picks remote SSH execution when an agent host is configured,
// otherwise jobs run in local subprocesses.
func newRunner() engine.Runner {
	host := os.Getenv("STAGECI_AGENT_HOST")
	if host == "" {
		return engine.NewLocalRunner()
	}
	return agent.NewSSHRunner(agent.Config{
		Username:  envOrDefault("STAGECI_AGENT_USER", "stageci"),
		Hostname:  host,
		KeyPath:   envOrDefault("STAGECI_AGENT_KEY_PATH", ".ssh/id_ed25519"),
		Workspace: envOrDefault("STAGECI_AGENT_WORKSPACE", "/tmp/stageci"),
	})
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Use(
		middleware.CORSWithConfig(internal.GetCORSConfig()),
		middleware.RateLimiterWithConfig(internal.GetRateLimiterConfig()),
	)
	return e
}

func envOrDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
