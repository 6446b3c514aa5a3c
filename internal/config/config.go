package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// EnvMaxTasks overrides Runtime.MaxTasks.
const EnvMaxTasks = "FXN_COMPUTE_MAX_TASKS"

type LoggerConfig struct {
	Verbosity string `yaml:"verbosity"`
	// Encoding is "json" or "console".
	Encoding string `yaml:"encoding"`
}

type Config struct {
	Logger  LoggerConfig `yaml:"logger"`
	Runtime struct {
		Device          string `yaml:"device"`
		MaxTasks        int    `yaml:"maxTasks"`
		Channel         string `yaml:"channel"`
		StorageCapacity int    `yaml:"storageCapacity"`
		// DeallocStrategy defaults to period_tick(2 * maxTasks) when empty.
		DeallocStrategy string `yaml:"deallocStrategy"`
		SliceStrategy   string `yaml:"sliceStrategy"`
	} `yaml:"runtime"`
	Tuner struct {
		WarmupRuns int    `yaml:"warmupRuns"`
		Samples    int    `yaml:"samples"`
		CachePath  string `yaml:"cachePath"`
	} `yaml:"tuner"`
	Metrics struct {
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	var cfg Config
	cfg.Logger.Verbosity = "info"
	cfg.Logger.Encoding = "json"
	cfg.Runtime.Device = "best"
	cfg.Runtime.MaxTasks = 64
	cfg.Runtime.Channel = "mutex"
	cfg.Runtime.SliceStrategy = "ratio(0.8)"
	cfg.Tuner.WarmupRuns = 1
	cfg.Tuner.Samples = 10
	return &cfg
}

// GetDefaultConfigHome returns ~/.fxn, or .fxn if the home directory is unknown.
func GetDefaultConfigHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fxn"
	}
	return filepath.Join(home, ".fxn")
}

// LoadConfig reads a YAML file over the defaults and applies the environment.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvMaxTasks); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMaxTasks, v, err)
		}
		c.Runtime.MaxTasks = n
	}
	return nil
}

// Validate checks values that cannot be parsed later.
func (c *Config) Validate() error {
	if c.Runtime.MaxTasks < 1 {
		return fmt.Errorf("runtime.maxTasks must be at least 1, got %d", c.Runtime.MaxTasks)
	}
	switch c.Runtime.Channel {
	case "mutex", "worker":
	default:
		return fmt.Errorf("runtime.channel must be mutex or worker, got %q", c.Runtime.Channel)
	}
	if c.Runtime.StorageCapacity < 0 {
		return fmt.Errorf("runtime.storageCapacity must not be negative")
	}
	if c.Tuner.Samples < 1 {
		return fmt.Errorf("tuner.samples must be at least 1, got %d", c.Tuner.Samples)
	}
	if c.Tuner.WarmupRuns < 0 {
		return fmt.Errorf("tuner.warmupRuns must not be negative")
	}
	switch c.Logger.Encoding {
	case "", "json", "console":
	default:
		return fmt.Errorf("logger.encoding must be json or console, got %q", c.Logger.Encoding)
	}
	return nil
}
