package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the host configuration for the alert pipeline.
type Config struct {
	AppName string

	Tracker struct {
		Threshold       int
		WindowSeconds   int
		CooldownSeconds int
	}

	Storage struct {
		AlertsFile   string
		DatabaseFile string
	}

	NATS struct {
		URL            string
		MaxReconnects  int
		ReconnectWait  time.Duration
		ConnectTimeout time.Duration
	}

	Monitor struct {
		Interval time.Duration
	}

	Maintenance struct {
		TrackerCleanupSpec string
		RetentionSpec      string
		VacuumSpec         string
		DaysToKeep         int
	}
}

// Load reads config.yaml from the given directory, falling back to defaults
// when the file is absent. A malformed file is an error; a missing one is
// not.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetDefault("app.name", "safetyguard-alertcore")
	v.SetDefault("tracker.threshold", 3)
	v.SetDefault("tracker.window_seconds", 10)
	v.SetDefault("tracker.cooldown_seconds", 30)
	v.SetDefault("storage.alerts_file", "alerts_log.json")
	v.SetDefault("storage.database_file", "safety_alerts.db")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.connect_timeout", "5s")
	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("maintenance.tracker_cleanup_spec", "@every 10m")
	v.SetDefault("maintenance.retention_spec", "0 3 * * *")
	v.SetDefault("maintenance.vacuum_spec", "0 4 * * 0")
	v.SetDefault("maintenance.days_to_keep", 30)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	cfg.AppName = v.GetString("app.name")
	cfg.Tracker.Threshold = v.GetInt("tracker.threshold")
	cfg.Tracker.WindowSeconds = v.GetInt("tracker.window_seconds")
	cfg.Tracker.CooldownSeconds = v.GetInt("tracker.cooldown_seconds")
	cfg.Storage.AlertsFile = v.GetString("storage.alerts_file")
	cfg.Storage.DatabaseFile = v.GetString("storage.database_file")
	cfg.NATS.URL = v.GetString("nats.url")
	cfg.NATS.MaxReconnects = v.GetInt("nats.max_reconnects")
	cfg.NATS.ReconnectWait = v.GetDuration("nats.reconnect_wait")
	cfg.NATS.ConnectTimeout = v.GetDuration("nats.connect_timeout")
	cfg.Monitor.Interval = v.GetDuration("monitor.interval")
	cfg.Maintenance.TrackerCleanupSpec = v.GetString("maintenance.tracker_cleanup_spec")
	cfg.Maintenance.RetentionSpec = v.GetString("maintenance.retention_spec")
	cfg.Maintenance.VacuumSpec = v.GetString("maintenance.vacuum_spec")
	cfg.Maintenance.DaysToKeep = v.GetInt("maintenance.days_to_keep")

	return cfg, nil
}
