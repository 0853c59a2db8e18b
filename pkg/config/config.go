package config

import "time"

// Config is the root configuration for a translog node.
type Config struct {
	Logger   LoggerConfig   `yaml:"logger" validate:"required"`
	Server   ServerConfig   `yaml:"http-server" validate:"required"`
	Translog TranslogConfig `yaml:"translog" validate:"required"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"required,min=1,max=65535"`
}

// TranslogConfig covers the on-disk layout, buffering and durability knobs
// of the log.
type TranslogConfig struct {
	// Dir holds the generation files and the checkpoint file.
	Dir string `yaml:"dir" validate:"required"`

	// BufferSizeBytes sizes the append buffer of the active generation.
	BufferSizeBytes int `yaml:"buffer_size" validate:"required,min=4096"`

	// RolloverSizeBytes triggers a generation rollover once the active file
	// grows past it. Zero disables size-based rollover.
	RolloverSizeBytes int64 `yaml:"rollover_size" validate:"min=0"`

	// SyncInterval drives the background fsync job in the daemon.
	SyncInterval time.Duration `yaml:"sync_interval" validate:"required"`

	// StrictVerification enables the seq-no to primary-term cross-check while
	// draining snapshots. Replay output is identical either way; the check
	// only turns silent inconsistencies into loud failures.
	StrictVerification bool `yaml:"strict_verification"`

	Retention RetentionConfig `yaml:"retention" validate:"required"`
}

// RetentionConfig decides when rolled generations become eligible for
// deletion. A generation is only ever deleted when it is not pinned by an
// open snapshot and every operation in it is already durable.
type RetentionConfig struct {
	MaxAge         time.Duration `yaml:"max_age" validate:"required"`
	MaxTotalBytes  int64         `yaml:"max_total_size" validate:"required,min=1"`
	MinGenerations int           `yaml:"min_generations" validate:"min=0"`
	TrimInterval   time.Duration `yaml:"trim_interval" validate:"required"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "DEBUG",
			JSON:  false,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Translog: TranslogConfig{
			Dir:               "./data/translog",
			BufferSizeBytes:   1 << 20,
			RolloverSizeBytes: 64 << 20,
			SyncInterval:      5 * time.Second,
			Retention: RetentionConfig{
				MaxAge:         12 * time.Hour,
				MaxTotalBytes:  512 << 20,
				MinGenerations: 2,
				TrimInterval:   time.Minute,
			},
		},
	}
}
