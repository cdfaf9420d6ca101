package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// duration decodes "16ms"-style values, which yaml.v3 does not handle
// for time.Duration on its own.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", value.Value, err)
	}
	*d = duration(parsed)
	return nil
}

// config is the daemon configuration. Flags override file values.
type config struct {
	Endpoint         string   `yaml:"endpoint"`
	Directory        string   `yaml:"directory"`
	Listen           string   `yaml:"listen"`
	BatchInterval    duration `yaml:"batch_interval"`
	RoundTripTimeout duration `yaml:"round_trip_timeout"`
	PolicyFile       string   `yaml:"policy_file"`
	LogLevel         string   `yaml:"log_level"`
	AutoApprove      bool     `yaml:"auto_approve"`
}

func defaultConfig() config {
	return config{
		Endpoint: "http://localhost:4096",
		Listen:   ":8090",
		LogLevel: "info",
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
