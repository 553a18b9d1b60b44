package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Rules   RulesConfig   `yaml:"rules"`
	Queue   QueueConfig   `yaml:"queue"`
	Vectors VectorConfig  `yaml:"vectors"`
}

type ServerConfig struct {
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type RulesConfig struct {
	// GapThresholdDays is the expected minimum business-day window between
	// acceptance and opening of offers.
	GapThresholdDays int `yaml:"gap_threshold_days"`
}

type QueueConfig struct {
	// AsyncCalendar routes calendar-write recomputations through the durable
	// work queue instead of running them inline with the write.
	AsyncCalendar bool          `yaml:"async_calendar"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type VectorConfig struct {
	// Dimensions is the fixed embedding dimensionality. Changing it requires
	// an explicit re-embed of stored vectors; mismatched rows are skipped by
	// the backfill and rejected by search.
	Dimensions int `yaml:"dimensions"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Rules: RulesConfig{
			GapThresholdDays: 5,
		},
		Queue: QueueConfig{
			AsyncCalendar: true,
			PollInterval:  500 * time.Millisecond,
		},
		Vectors: VectorConfig{
			Dimensions: 1024,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".tenderwatch")
}

// Load reads configuration: defaults, then the optional YAML file at path,
// then TENDERWATCH_* environment variable overrides. An empty path skips the
// file step entirely.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Rules.GapThresholdDays <= 0 {
		return Config{}, fmt.Errorf("rules.gap_threshold_days must be positive, got %d", cfg.Rules.GapThresholdDays)
	}
	if cfg.Vectors.Dimensions <= 0 {
		return Config{}, fmt.Errorf("vectors.dimensions must be positive, got %d", cfg.Vectors.Dimensions)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TENDERWATCH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TENDERWATCH_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("TENDERWATCH_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("TENDERWATCH_GAP_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Rules.GapThresholdDays = n
		}
	}
	if v := os.Getenv("TENDERWATCH_EMBED_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vectors.Dimensions = n
		}
	}
	if v := os.Getenv("TENDERWATCH_QUEUE_ASYNC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Queue.AsyncCalendar = b
		}
	}
}
