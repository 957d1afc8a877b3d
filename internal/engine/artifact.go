package engine

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/haatos/stageci/internal/util"
)

// ArtifactBundle describes one persisted artifact archive. The caller owns
// recording it in whatever metadata store backs the run.
type ArtifactBundle struct {
	Name        string
	ArchivePath string
	Files       int
	ExpiresOn   *time.Time
}

// ArtifactManager zips a job's declared artifact paths into a named
// bundle. Bundles land under Dir/run_<id>/<job>/<name>.zip.
type ArtifactManager struct {
	Dir              string
	DefaultRetention time.Duration
}

func NewArtifactManager(dir string, defaultRetention time.Duration) *ArtifactManager {
	return &ArtifactManager{Dir: dir, DefaultRetention: defaultRetention}
}

// Collect globs the job's artifact paths out of the workspace and archives
// them. A job with no matching files produces no bundle; that is logged,
// not an error.
func (m *ArtifactManager) Collect(runID int64, job *ExpandedJob, workdir string) (*ArtifactBundle, error) {
	if job.Artifacts == nil {
		return nil, nil
	}

	name := Interpolate(job.Artifacts.NameTemplate, job.Variables)
	if name == "" {
		name = job.Name
	}
	name = util.SanitizeKey(name)

	matches, err := GlobPaths(workdir, job.Artifacts.Paths)
	if err != nil {
		return nil, fmt.Errorf("collecting artifacts for %q: %w", job.Name, err)
	}
	if len(matches) == 0 {
		slog.Warn("no artifact paths matched", "job", job.Name)
		return nil, nil
	}

	archivePath := filepath.Join(
		m.Dir,
		fmt.Sprintf("run_%d", runID),
		util.SanitizeKey(job.Name),
		name+".zip",
	)
	if err := util.ArchiveFiles(workdir, archivePath, matches); err != nil {
		return nil, fmt.Errorf("archiving artifacts for %q: %w", job.Name, err)
	}

	bundle := &ArtifactBundle{
		Name:        name,
		ArchivePath: archivePath,
		Files:       len(matches),
	}

	retention := job.Artifacts.ExpireIn
	if retention == 0 {
		retention = m.DefaultRetention
	}
	if retention > 0 {
		bundle.ExpiresOn = util.AsPtr(time.Now().UTC().Add(retention))
	}

	slog.Info("artifacts archived",
		"job", job.Name, "name", name, "files", bundle.Files)
	return bundle, nil
}
