package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen         = ":3000"
	DefaultDataDir        = "./data"
	DefaultConduitDataDir = "../data"
	DefaultProcessPattern = "./dist/conduit start"
	DefaultCacheTTL       = "5s"
	DefaultProbeTimeout   = "5s"
	DefaultServerName     = "local"
	DefaultHost           = "localhost"
	DefaultSTUNTimeout    = "3s"
)

// Config holds the dashboard settings. Durations are Go duration strings.
type Config struct {
	Listen         string   `yaml:"listen"`
	DataDir        string   `yaml:"data_dir"`
	DBPath         string   `yaml:"db_path"`
	StatsFile      string   `yaml:"stats_file"`
	ConduitDataDir string   `yaml:"conduit_data_dir"`
	ProcessPattern string   `yaml:"process_pattern"`
	CacheTTL       string   `yaml:"cache_ttl"`
	ProbeTimeout   string   `yaml:"probe_timeout"`
	ServerName     string   `yaml:"server_name"`
	Host           string   `yaml:"host"`
	STUNServers    []string `yaml:"stun_servers,omitempty"`
	STUNTimeout    string   `yaml:"stun_timeout"`
	StaticDir      string   `yaml:"static_dir,omitempty"`
	StreamInterval string   `yaml:"stream_interval"`
}

// Load reads and parses a YAML config file and applies environment
// overrides. A missing file yields an empty config. Callers apply flag
// overrides and then ApplyDefaults, so derived paths follow the overrides.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return Config{}, err
	}

	ApplyEnv(&cfg, os.Getenv)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if cfg.StatsFile == "" {
		return fmt.Errorf("stats_file is required")
	}
	for name, v := range map[string]string{
		"cache_ttl":       cfg.CacheTTL,
		"probe_timeout":   cfg.ProbeTimeout,
		"stun_timeout":    cfg.STUNTimeout,
		"stream_interval": cfg.StreamInterval,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// ApplyEnv overlays the PORT, CONDUIT_DATA_DIR and DASHBOARD_DB_PATH
// environment variables.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if port := getenv("PORT"); port != "" {
		cfg.Listen = ":" + port
	}
	if dir := getenv("CONDUIT_DATA_DIR"); dir != "" {
		cfg.ConduitDataDir = dir
		cfg.StatsFile = ""
	}
	if db := getenv("DASHBOARD_DB_PATH"); db != "" {
		cfg.DBPath = db
	}
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "stats.db")
	}
	if cfg.ConduitDataDir == "" {
		cfg.ConduitDataDir = DefaultConduitDataDir
	}
	if cfg.StatsFile == "" {
		cfg.StatsFile = filepath.Join(cfg.ConduitDataDir, "stats.json")
	}
	if cfg.ProcessPattern == "" {
		cfg.ProcessPattern = DefaultProcessPattern
	}
	if cfg.CacheTTL == "" {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.ProbeTimeout == "" {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.ServerName == "" {
		cfg.ServerName = DefaultServerName
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.STUNTimeout == "" {
		cfg.STUNTimeout = DefaultSTUNTimeout
	}
	if cfg.StreamInterval == "" {
		cfg.StreamInterval = cfg.CacheTTL
	}
}

// Duration parses a duration field, falling back to def when it is empty or
// invalid. Call Validate first to reject bad values.
func Duration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
