// Package config reads sandboxd's environment-variable configuration
// surface once at startup. It deliberately uses no config-parsing
// library: the teacher's own CLI reads its settings directly with
// os.Getenv and cobra flags, never pulling in viper or envconfig for it,
// and this package follows the same idiom for the subset of settings
// that come from the environment rather than flags.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is sandboxd's full environment-derived configuration. Zero
// value is never valid; use Load.
type Config struct {
	PoolSize               int
	CacheDir                string
	AgentPort               int
	WorkerStartupTimeoutSec int
	MaxRetries              int
	LogLevel                string
	LogJSON                 bool
	NsjailPath              string
	PythonBin               string
}

const (
	DefaultPoolSize               = 5
	DefaultCacheDir               = "/tmp/sandboxd-cache"
	DefaultAgentPort              = 9000
	DefaultWorkerStartupTimeoutSec = 30
	DefaultMaxRetries             = 2
	DefaultLogLevel               = "info"
	DefaultNsjailPath             = "nsjail"
	DefaultPythonBin              = "python3"
)

// Load reads Config from the process environment, filling in defaults
// for anything unset. It never mutates os.Environ beyond reading it.
func Load() (Config, error) {
	cfg := Config{
		PoolSize:                DefaultPoolSize,
		CacheDir:                DefaultCacheDir,
		AgentPort:               DefaultAgentPort,
		WorkerStartupTimeoutSec: DefaultWorkerStartupTimeoutSec,
		MaxRetries:              DefaultMaxRetries,
		LogLevel:                DefaultLogLevel,
		NsjailPath:              DefaultNsjailPath,
		PythonBin:               DefaultPythonBin,
	}

	var err error
	if cfg.PoolSize, err = intEnv("POOL_SIZE", cfg.PoolSize); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if cfg.AgentPort, err = intEnv("AGENT_PORT", cfg.AgentPort); err != nil {
		return Config{}, err
	}
	if cfg.WorkerStartupTimeoutSec, err = intEnv("WORKER_STARTUP_TIMEOUT_SEC", cfg.WorkerStartupTimeoutSec); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = intEnv("MAX_RETRIES", cfg.MaxRetries); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if cfg.LogJSON, err = boolEnv("LOG_JSON", false); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("NSJAIL_PATH"); v != "" {
		cfg.NsjailPath = v
	}
	if v := os.Getenv("PYTHON_BIN"); v != "" {
		cfg.PythonBin = v
	}

	if cfg.PoolSize <= 0 {
		return Config{}, fmt.Errorf("config: POOL_SIZE must be positive, got %d", cfg.PoolSize)
	}
	if cfg.AgentPort <= 0 || cfg.AgentPort > 65535 {
		return Config{}, fmt.Errorf("config: AGENT_PORT out of range, got %d", cfg.AgentPort)
	}

	return cfg, nil
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q: %w", name, v, err)
	}
	return n, nil
}

func boolEnv(name string, fallback bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean, got %q: %w", name, v, err)
	}
	return b, nil
}
