// Package config loads ddscore's ambient process configuration — the
// settings the process itself needs before the DDS schema engine
// (internal/cfgschema) ever runs: where to log, where to expose metrics,
// and which Redis endpoint backs the durable-client transport. The
// dispatcher's wall-clock check interval is the dispatcher.CheckInterval
// constant, not a setting here. This is deliberately separate
// from the typed, schema-driven CYCLONEDDS_URI configuration tree in
// internal/cfgschema — that engine is its own component; this package only
// bootstraps the process around it.
package config

import "time"

// Config is ddscore's ambient process configuration.
type Config struct {
	App     AppConfig     `koanf:"app"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	Durable DurableConfig `koanf:"durable"`
}

// AppConfig holds general process identity.
type AppConfig struct {
	Name        string `koanf:"name"`
	Environment string `koanf:"environment"`
}

// LogConfig mirrors obslog.Config's koanf-addressable fields.
type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	Output     string `koanf:"output"`
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"`
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Port    int    `koanf:"port"`
	Path    string `koanf:"path"`
}

// DurableConfig configures the durable-client coordinator's Redis-backed
// transport (internal/durable/transport_redis.go).
type DurableConfig struct {
	RedisAddr        string        `koanf:"redis_addr"`
	RedisPassword    string        `koanf:"redis_password"`
	RedisDB          int           `koanf:"redis_db"`
	DefaultQuorum    int           `koanf:"default_quorum"`
	MaxBlockingTime  time.Duration `koanf:"max_blocking_time"`
	QuorumPollPeriod time.Duration `koanf:"quorum_poll_period"`
}
