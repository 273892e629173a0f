package config

import "time"

// LoggingConfig controls slog output, matching the teacher's log/slog +
// lumberjack rotation setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// File, when set, rotates logs through gopkg.in/natefinch/lumberjack.v2
	// instead of writing to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ObservabilityConfig configures tracing, ambient regardless of
// spec.md's Non-goals around observability layers.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// ArtifactConfig configures the §4.3.3 artifacts provider's backing store.
type ArtifactConfig struct {
	// LocalPath is the directory for the sqlite database file and any
	// large-blob spillover.
	LocalPath string `yaml:"local_path"`

	// TTLs configures retention period by artifact type.
	TTLs map[string]time.Duration `yaml:"ttls"`

	// PruneInterval is how often to cleanup expired artifacts.
	PruneInterval time.Duration `yaml:"prune_interval"`

	// MaxStorageSize is the total quota in bytes (0 = unlimited).
	MaxStorageSize int64 `yaml:"max_storage_size"`

	// Redaction configures rules for sensitive artifacts.
	Redaction ArtifactRedactionConfig `yaml:"redaction"`
}

// ArtifactRedactionConfig controls artifact redaction behavior.
type ArtifactRedactionConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Types            []string `yaml:"types"`
	MimeTypes        []string `yaml:"mime_types"`
	FilenamePatterns []string `yaml:"filename_patterns"`
}
