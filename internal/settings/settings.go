package settings

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

var Settings *AppSettings

type AppSettings struct {
	Domain         string
	Port           string
	SQLiteDatabase string
	DataDir        string
}

func NewSettings() *AppSettings {
	settings := AppSettings{
		Domain:         getEnvOrDefault("STAGECI_DOMAIN", "localhost"),
		Port:           getEnvOrDefault("STAGECI_PORT", ":8080"),
		SQLiteDatabase: getEnvOrDefault("STAGECI_DB_PATH", "file:.///db.sqlite"),
		DataDir:        getEnvOrDefault("STAGECI_DATA_DIR", "data"),
	}
	if !strings.HasPrefix(settings.Port, ":") {
		settings.Port = ":" + settings.Port
	}
	return &settings
}

func (s *AppSettings) SQLiteDbString(readonly bool) string {
	conn := s.SQLiteDatabase +
		"?_pragma=journal_mode(wal)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(normal)"
	if readonly {
		conn += "&mode=ro"
	}
	return conn
}

func (s *AppSettings) WorkspaceDir() string {
	return fmt.Sprintf("%s/workspaces", s.DataDir)
}

func (s *AppSettings) CacheDir() string {
	return fmt.Sprintf("%s/cache", s.DataDir)
}

func (s *AppSettings) ArtifactsDir() string {
	return fmt.Sprintf("%s/artifacts", s.DataDir)
}

func getEnvOrDefault(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

func ReadDotenv() {
	if exists, _ := pathExists(".env"); !exists {
		return
	}
	if err := godotenv.Load(); err != nil {
		log.Fatal("err reading dotenv: ", err)
	}
}

func pathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	return false, err
}
