package flush

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the pipeline schedule knobs.
type Config struct {
	Schedule      ScheduleConfig `yaml:"schedule"`
	ReplayOnStart bool           `yaml:"replay_on_start"`
}

// ScheduleConfig defines when the daily migration runs.
type ScheduleConfig struct {
	DailyAt string `yaml:"daily_at"`
}

// LoadConfig loads config from the yaml file named by PIPELINE_CONFIG,
// falling back to env defaults.
func LoadConfig() (Config, error) {
	var cfg Config

	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Schedule.DailyAt == "" {
		cfg.Schedule.DailyAt = os.Getenv("FLUSH_DAILY_AT")
	}
	if cfg.Schedule.DailyAt == "" {
		cfg.Schedule.DailyAt = "00:00"
	}
	if !cfg.ReplayOnStart && os.Getenv("STATS_REPLAY_ON_START") == "true" {
		cfg.ReplayOnStart = true
	}
	return cfg, nil
}
