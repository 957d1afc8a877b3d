package internal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_UnmarshalJSON(t *testing.T) {
	t.Run("success - unmarshal json works as expected", func(t *testing.T) {
		// arrange
		jsonInput := []byte(`{
			"queue_size": 4,
			"stage_workers": 8,
			"artifact_sweep_hours": 6,
			"default_retention_days": 14
		}`)
		var config Configuration

		// act
		err := json.Unmarshal(jsonInput, &config)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, int64(4), config.QueueSize)
		assert.Equal(t, 8, config.StageWorkers)
		assert.Equal(t, 6*time.Hour, time.Duration(config.ArtifactSweepHours))
		assert.Equal(t, int64(14), config.DefaultRetentionDays)
	})
}

func TestConfig_MarshalJSON(t *testing.T) {
	t.Run("success - marshal json works as expected", func(t *testing.T) {
		// arrange
		config := Configuration{
			QueueSize:            5,
			StageWorkers:         4,
			ArtifactSweepHours:   NewHoursDuration(1),
			DefaultRetentionDays: 30,
		}

		// act
		b, err := json.Marshal(config)

		// assert
		assert.NoError(t, err)
		assert.Contains(t, string(b), `"queue_size":5`)
		assert.Contains(t, string(b), `"artifact_sweep_hours":1`)
		assert.Contains(t, string(b), `"default_retention_days":30`)
	})
}
