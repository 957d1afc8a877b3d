package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettings_NewSettings(t *testing.T) {
	t.Run("success - empty env values still produce usable settings", func(t *testing.T) {
		// arrange
		t.Setenv("STAGECI_DOMAIN", "")
		t.Setenv("STAGECI_PORT", "")
		t.Setenv("STAGECI_DATA_DIR", "")

		// act
		s := NewSettings()

		// assert
		assert.Equal(t, ":", s.Port[:1])
		assert.Equal(t, "workspaces", s.WorkspaceDir()[len(s.DataDir)+1:])
	})
	t.Run("success - port gets a colon prefix", func(t *testing.T) {
		// arrange
		t.Setenv("STAGECI_PORT", "9090")

		// act
		s := NewSettings()

		// assert
		assert.Equal(t, ":9090", s.Port)
	})
	t.Run("success - data dir drives derived directories", func(t *testing.T) {
		// arrange
		t.Setenv("STAGECI_DATA_DIR", "/var/lib/stageci")

		// act
		s := NewSettings()

		// assert
		assert.Equal(t, "/var/lib/stageci/workspaces", s.WorkspaceDir())
		assert.Equal(t, "/var/lib/stageci/cache", s.CacheDir())
		assert.Equal(t, "/var/lib/stageci/artifacts", s.ArtifactsDir())
	})
}

func TestSettings_SQLiteDbString(t *testing.T) {
	t.Run("success - readonly appends mode", func(t *testing.T) {
		// arrange
		t.Setenv("STAGECI_DB_PATH", "file:./db.sqlite")
		s := NewSettings()

		// act
		rw := s.SQLiteDbString(false)
		ro := s.SQLiteDbString(true)

		// assert
		assert.Contains(t, rw, "journal_mode(wal)")
		assert.NotContains(t, rw, "mode=ro")
		assert.Contains(t, ro, "mode=ro")
	})
}
