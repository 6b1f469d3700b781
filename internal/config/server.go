package config

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

// Server holds all server-side settings.
type Server struct {
	BindAddress string
	Port        int

	PollInterval   float64 // seconds
	LogRetention   float64 // seconds
	BackupInterval float64 // seconds

	SnapshotDir string
	MetricsAddr string // empty disables the metrics listener
}

// DefaultServer returns server settings with the stock timings.
func DefaultServer() Server {
	return Server{
		BindAddress:    "0.0.0.0",
		Port:           55333,
		PollInterval:   0.5,
		LogRetention:   599,
		BackupInterval: 899,
		SnapshotDir:    ".",
	}
}

// LoadServer reads server settings from an INI file. A missing file yields
// the defaults; the server has no required settings.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	file, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: reading %s: %v", ErrInvalid, path, err)
	}
	sec := file.Section(settingsSection)

	if sec.HasKey("BIND_ADDRESS") {
		cfg.BindAddress = sec.Key("BIND_ADDRESS").String()
	}
	if sec.HasKey("SERVER_PORT") {
		cfg.Port, err = sec.Key("SERVER_PORT").Int()
		if err != nil {
			return cfg, fmt.Errorf("%w: SERVER_PORT: %v", ErrInvalid, err)
		}
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{"POLL_INTERVAL", &cfg.PollInterval},
		{"LOG_RETENTION_DURATION", &cfg.LogRetention},
		{"BACKUP_INTERVAL", &cfg.BackupInterval},
	}
	for _, f := range floats {
		if !sec.HasKey(f.key) {
			continue
		}
		v, err := sec.Key(f.key).Float64()
		if err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalid, f.key, err)
		}
		*f.dst = v
	}
	if sec.HasKey("SNAPSHOT_DIR") {
		cfg.SnapshotDir = sec.Key("SNAPSHOT_DIR").String()
	}
	cfg.MetricsAddr = sec.Key("METRICS_ADDR").String()

	if cfg.PollInterval <= 0 {
		return cfg, fmt.Errorf("%w: POLL_INTERVAL must be positive", ErrInvalid)
	}
	if cfg.Port <= 0 || cfg.Port > 0xFFFF {
		return cfg, fmt.Errorf("%w: SERVER_PORT out of range", ErrInvalid)
	}
	return cfg, nil
}
