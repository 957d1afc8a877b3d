package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/haatos/stageci/internal/util"
)

// CacheMetaRecorder persists cache entry metadata after a successful save.
// A nil recorder skips metadata, the filesystem content is authoritative.
type CacheMetaRecorder interface {
	UpsertCacheEntry(ctx context.Context, key string, paths []string) error
}

// CacheManager restores and saves best-effort cache content around job
// execution. Entries live under Dir, one directory per resolved key.
// Consistency across concurrent writers is last-writer-wins by design: the
// cache is an optimization, not a correctness dependency.
type CacheManager struct {
	Dir  string
	Meta CacheMetaRecorder
}

func NewCacheManager(dir string, meta CacheMetaRecorder) *CacheManager {
	return &CacheManager{Dir: dir, Meta: meta}
}

// ResolveKey interpolates the job's cache key template against its
// resolved variables.
func (m *CacheManager) ResolveKey(job *ExpandedJob) string {
	key := Interpolate(job.Cache.KeyTemplate, job.Variables)
	if key == "" {
		key = "default"
	}
	return key
}

// Restore copies cached content for the job's key into the workspace. A
// missing entry is a cache miss, not an error: the job proceeds with an
// empty cache.
func (m *CacheManager) Restore(ctx context.Context, job *ExpandedJob, workdir string) error {
	if job.Cache == nil {
		return nil
	}
	key := m.ResolveKey(job)
	entryDir := filepath.Join(m.Dir, util.SanitizeKey(key))

	if exists, _ := util.PathExists(entryDir); !exists {
		slog.Info("cache miss", "job", job.Name, "key", key)
		return nil
	}

	if err := util.CopyTree(entryDir, workdir); err != nil {
		return fmt.Errorf("restoring cache %q: %w", key, err)
	}
	slog.Info("cache restored", "job", job.Name, "key", key)
	return nil
}

// Save collects the job's cache path globs from the workspace and stores
// them under the resolved key, overwriting any prior entry with the same
// key. The entry is staged into a temporary directory and renamed into
// place, so the last successful writer wins wholesale.
func (m *CacheManager) Save(ctx context.Context, job *ExpandedJob, workdir string) error {
	if job.Cache == nil {
		return nil
	}
	key := m.ResolveKey(job)
	entryDir := filepath.Join(m.Dir, util.SanitizeKey(key))

	matches, err := GlobPaths(workdir, job.Cache.Paths)
	if err != nil {
		return fmt.Errorf("saving cache %q: %w", key, err)
	}
	if len(matches) == 0 {
		slog.Info("no cache content to save", "job", job.Name, "key", key)
		return nil
	}

	staging, err := os.MkdirTemp(m.Dir, ".staging-*")
	if err != nil {
		return fmt.Errorf("saving cache %q: %w", key, err)
	}
	defer os.RemoveAll(staging)

	for _, rel := range matches {
		if err := util.CopyFile(filepath.Join(workdir, rel), filepath.Join(staging, rel)); err != nil {
			return fmt.Errorf("saving cache %q: %w", key, err)
		}
	}

	if err := os.RemoveAll(entryDir); err != nil {
		return fmt.Errorf("saving cache %q: %w", key, err)
	}
	if err := os.Rename(staging, entryDir); err != nil {
		return fmt.Errorf("saving cache %q: %w", key, err)
	}

	if m.Meta != nil {
		if err := m.Meta.UpsertCacheEntry(ctx, key, job.Cache.Paths); err != nil {
			return fmt.Errorf("recording cache entry %q: %w", key, err)
		}
	}

	slog.Info("cache saved", "job", job.Name, "key", key, "files", len(matches))
	return nil
}

// GlobPaths resolves path globs relative to a base directory. A trailing
// slash or a plain directory match includes the whole subtree.
func GlobPaths(baseDir string, globs []string) ([]string, error) {
	fsys := os.DirFS(baseDir)
	var all []string
	seen := map[string]bool{}

	for _, g := range globs {
		pattern := strings.TrimSuffix(filepath.ToSlash(g), "/")
		if info, err := os.Stat(filepath.Join(baseDir, pattern)); err == nil && info.IsDir() {
			pattern += "/**"
		}
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("bad path glob %q: %w", g, err)
		}
		for _, rel := range matches {
			if info, err := os.Stat(filepath.Join(baseDir, rel)); err != nil || info.IsDir() {
				continue
			}
			if !seen[rel] {
				seen[rel] = true
				all = append(all, filepath.FromSlash(rel))
			}
		}
	}
	return all, nil
}
