package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
	DataDir string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	Catalog string `json:"catalog" yaml:"catalog" toml:"catalog"`

	LowMemoryMB          int `json:"low_memory_mb" yaml:"low_memory_mb" toml:"low_memory_mb"`
	CriticalMemoryMB     int `json:"critical_memory_mb" yaml:"critical_memory_mb" toml:"critical_memory_mb"`
	MonitorIntervalSec   int `json:"monitor_interval_sec" yaml:"monitor_interval_sec" toml:"monitor_interval_sec"`
	InactivityTimeoutSec int `json:"inactivity_timeout_sec" yaml:"inactivity_timeout_sec" toml:"inactivity_timeout_sec"`

	MaxAttempts      int  `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	InitialBackoffMs int  `json:"initial_backoff_ms" yaml:"initial_backoff_ms" toml:"initial_backoff_ms"`
	IOWorkers        int  `json:"io_workers" yaml:"io_workers" toml:"io_workers"`
	CPUWorkers       int  `json:"cpu_workers" yaml:"cpu_workers" toml:"cpu_workers"`
	LoadTest         bool `json:"load_test" yaml:"load_test" toml:"load_test"`

	LangCacheSize    int    `json:"lang_cache_size" yaml:"lang_cache_size" toml:"lang_cache_size"`
	StatsDB          string `json:"stats_db" yaml:"stats_db" toml:"stats_db"`
	UsagePath        string `json:"usage_path" yaml:"usage_path" toml:"usage_path"`
	PrefetchSchedule string `json:"prefetch_schedule" yaml:"prefetch_schedule" toml:"prefetch_schedule"`

	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	CORSAllowedMethods []string `json:"cors_allowed_methods" yaml:"cors_allowed_methods" toml:"cors_allowed_methods"`
	CORSAllowedHeaders []string `json:"cors_allowed_headers" yaml:"cors_allowed_headers" toml:"cors_allowed_headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
