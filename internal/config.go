package internal

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/haatos/stageci/internal/util"
)

var Config *Configuration

type HoursDuration time.Duration

func NewHoursDuration(hours int64) HoursDuration {
	return HoursDuration(time.Duration(hours) * time.Hour)
}

func (hd HoursDuration) MarshalJSON() ([]byte, error) {
	hours := float64(time.Duration(hd)) / float64(time.Hour)
	return json.Marshal(hours)
}

func (hd *HoursDuration) UnmarshalJSON(data []byte) error {
	var hours float64
	if err := json.Unmarshal(data, &hours); err != nil {
		return err
	}
	*hd = HoursDuration(hours * float64(time.Hour))
	return nil
}

type Configuration struct {
	QueueSize            int64         `json:"queue_size"`
	StageWorkers         int           `json:"stage_workers"`
	ArtifactSweepHours   HoursDuration `json:"artifact_sweep_hours"`
	DefaultRetentionDays int64         `json:"default_retention_days"`
}

func InitializeConfiguration() {
	Config = &Configuration{
		QueueSize:            3,
		StageWorkers:         4,
		ArtifactSweepHours:   NewHoursDuration(1),
		DefaultRetentionDays: 30,
	}

	configFileExists, _ := util.PathExists("config.json")
	if !configFileExists {
		b, err := json.MarshalIndent(Config, "", "    ")
		if err != nil {
			log.Fatal(err)
		}
		configFile, err := os.Create("config.json")
		if err != nil {
			log.Fatal(err)
		}
		if _, err := configFile.Write(b); err != nil {
			log.Fatal(err)
		}
	} else {
		configBytes, err := os.ReadFile("config.json")
		if err != nil {
			log.Fatal(err)
		}
		if err := json.Unmarshal(configBytes, &Config); err != nil {
			log.Fatal(err)
		}
	}
}
