package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// MLLPConfig holds connection parameters for the upstream MLLP feed.
type MLLPConfig struct {
	Address string `toml:"address"`
}

// PagerConfig holds connection parameters for the pager service.
type PagerConfig struct {
	Address string `toml:"address"`
}

// StoreConfig holds the durable state locations.
type StoreConfig struct {
	SnapshotPath   string `toml:"snapshot_path"`
	PagerQueuePath string `toml:"pager_queue_path"`
	HistoryPath    string `toml:"history_path"`
}

// ModelConfig holds the classifier artifact location.
type ModelConfig struct {
	Path string `toml:"path"`
}

// MetricsConfig holds the ops/scrape HTTP server settings.
type MetricsConfig struct {
	Port int `toml:"port"`
}

// LoggingConfig holds settings for structured logging.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Config is the top-level configuration for akimon.
type Config struct {
	MLLP    MLLPConfig    `toml:"mllp"`
	Pager   PagerConfig   `toml:"pager"`
	Store   StoreConfig   `toml:"store"`
	Model   ModelConfig   `toml:"model"`
	Metrics MetricsConfig `toml:"metrics"`
	Logging LoggingConfig `toml:"logging"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		MLLP:  MLLPConfig{Address: "0.0.0.0:8440"},
		Pager: PagerConfig{Address: "0.0.0.0:8441"},
		Store: StoreConfig{
			SnapshotPath:   "/state/database.db",
			PagerQueuePath: "/state/pager.pkl",
			HistoryPath:    "data/history.csv",
		},
		Model:   ModelConfig{Path: "dt_model.json"},
		Metrics: MetricsConfig{Port: 8000},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration: defaults, then the TOML file at path (if
// given or found), then environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func findConfigFile() string {
	candidates := []string{"akimon.toml", "/etc/akimon/config.toml"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MLLP_ADDRESS"); v != "" {
		cfg.MLLP.Address = v
	}
	if v := os.Getenv("PAGER_ADDRESS"); v != "" {
		cfg.Pager.Address = v
	}
	if v := os.Getenv("HISTORY_PATH"); v != "" {
		cfg.Store.HistoryPath = v
	}
	if v := os.Getenv("AKIMON_SNAPSHOT_PATH"); v != "" {
		cfg.Store.SnapshotPath = v
	}
	if v := os.Getenv("AKIMON_PAGER_QUEUE_PATH"); v != "" {
		cfg.Store.PagerQueuePath = v
	}
	if v := os.Getenv("AKIMON_MODEL_PATH"); v != "" {
		cfg.Model.Path = v
	}
	if v := os.Getenv("AKIMON_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if v := os.Getenv("AKIMON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AKIMON_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := SplitAddress(c.MLLP.Address); err != nil {
		errs = append(errs, fmt.Errorf("mllp address: %w", err))
	}
	if _, _, err := SplitAddress(c.Pager.Address); err != nil {
		errs = append(errs, fmt.Errorf("pager address: %w", err))
	}
	if c.Store.SnapshotPath == "" {
		errs = append(errs, errors.New("store snapshot path is required"))
	}
	if c.Store.PagerQueuePath == "" {
		errs = append(errs, errors.New("pager queue path is required"))
	}
	if c.Model.Path == "" {
		errs = append(errs, errors.New("model path is required"))
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		errs = append(errs, fmt.Errorf("metrics port %d out of range", c.Metrics.Port))
	}

	return errors.Join(errs...)
}

// SplitAddress parses "host:port", tolerating a scheme prefix and a trailing
// path ("http://host:8440/x" -> "host", 8440).
func SplitAddress(addr string) (string, int, error) {
	if addr == "" {
		return "", 0, errors.New("address is empty")
	}
	if i := strings.Index(addr, "://"); i >= 0 {
		addr = addr[i+3:]
	}
	if i := strings.Index(addr, "/"); i >= 0 {
		addr = addr[:i]
	}
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok {
		return "", 0, fmt.Errorf("address %q has no port", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return strings.TrimSpace(host), port, nil
}
