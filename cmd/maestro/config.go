package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rendis/maestro/internal/scheduler"
)

// Config holds all maestro configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath            string          `json:"db_path"`
	LogLevel          string          `json:"log_level"`
	History           bool            `json:"history"`
	ShellTimeout      string          `json:"shell_timeout"`
	ScheduleInterval  string          `json:"schedule_interval"`
	MaxConcurrentRuns int             `json:"max_concurrent_runs"`
	Schedules         []scheduler.Job `json:"schedules,omitempty"`
}

func defaultConfig() Config {
	return Config{
		DBPath:            filepath.Join(maestroDir(), "maestro.db"),
		LogLevel:          "info",
		History:           true,
		ShellTimeout:      "5m",
		ScheduleInterval:  "30s",
		MaxConcurrentRuns: scheduler.DefaultMaxConcurrent,
	}
}

func maestroDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maestro"
	}
	return filepath.Join(home, ".maestro")
}

func settingsPath() string {
	return filepath.Join(maestroDir(), "settings.json")
}

func loadConfig() (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", settingsPath(), err)
		}
	}

	// Layer 3: env vars override.
	if v := os.Getenv("MAESTRO_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("MAESTRO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MAESTRO_HISTORY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.History = b
		}
	}
	if v := os.Getenv("MAESTRO_SHELL_TIMEOUT"); v != "" {
		cfg.ShellTimeout = v
	}
	if v := os.Getenv("MAESTRO_SCHEDULE_INTERVAL"); v != "" {
		cfg.ScheduleInterval = v
	}
	if v := os.Getenv("MAESTRO_MAX_CONCURRENT_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentRuns = n
		}
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if _, err := c.shellTimeout(); err != nil {
		return err
	}
	if _, err := c.scheduleInterval(); err != nil {
		return err
	}
	return nil
}

func (c Config) shellTimeout() (time.Duration, error) {
	return parseDuration("shell_timeout", c.ShellTimeout)
}

func (c Config) scheduleInterval() (time.Duration, error) {
	return parseDuration("schedule_interval", c.ScheduleInterval)
}

// parseDuration accepts Go duration strings; empty means "use the default".
func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, v)
	}
	return d, nil
}
