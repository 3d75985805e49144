// Package config carries tessera's runtime settings: logging and tracing
// setup plus the scan and export toggles. Settings merge from three layers,
// defaults, then an optional YAML file, then TESSERA_* environment
// variables, with the environment winning.
package config

import (
	"github.com/tesseradata/tessera/pkg/errors"
)

// Config is the root settings document.
type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log" json:"log"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
	Schema  SchemaConfig  `mapstructure:"schema" yaml:"schema" json:"schema"`
	Filter  FilterConfig  `mapstructure:"filter" yaml:"filter" json:"filter"`
	Export  ExportConfig  `mapstructure:"export" yaml:"export" json:"export"`
	Remote  RemoteConfig  `mapstructure:"remote" yaml:"remote" json:"remote"`
}

// LogConfig feeds the zap logger setup.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level" json:"level"`

	// Development switches to colored console-friendly output.
	Development bool `mapstructure:"development" yaml:"development" json:"development"`

	// Encoding is json or console.
	Encoding string `mapstructure:"encoding" yaml:"encoding" json:"encoding"`
}

// TracingConfig feeds the OpenTelemetry setup.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// SampleRate is the fraction of traces recorded, in (0, 1].
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate" json:"sample_rate"`

	// Pretty prints indented span documents.
	Pretty bool `mapstructure:"pretty" yaml:"pretty" json:"pretty"`
}

// SchemaConfig holds schema mapping toggles.
type SchemaConfig struct {
	// Overrides consumes the tessera:schema metadata document when present.
	Overrides bool `mapstructure:"overrides" yaml:"overrides" json:"overrides"`
}

// FilterConfig holds filtering toggles.
type FilterConfig struct {
	// Pushdown evaluates attribute filter constraints at the batch level.
	Pushdown bool `mapstructure:"pushdown" yaml:"pushdown" json:"pushdown"`

	// UseBBox uses bounding-box columns for spatial filtering when the
	// dataset declares them.
	UseBBox bool `mapstructure:"use_bbox" yaml:"use_bbox" json:"use_bbox"`
}

// ExportConfig holds export toggles.
type ExportConfig struct {
	// ForceNaive rebuilds every exported batch through a record builder.
	ForceNaive bool `mapstructure:"force_naive" yaml:"force_naive" json:"force_naive"`

	// GeometryEncoding is wkb or source.
	GeometryEncoding string `mapstructure:"geometry_encoding" yaml:"geometry_encoding" json:"geometry_encoding"`

	// MetadataEncoding is ogc or geoarrow.
	MetadataEncoding string `mapstructure:"metadata_encoding" yaml:"metadata_encoding" json:"metadata_encoding"`

	// BatchRows caps rebuilt batch sizes; 0 keeps the export default.
	BatchRows int `mapstructure:"batch_rows" yaml:"batch_rows" json:"batch_rows"`
}

// RemoteConfig holds settings for remote dataset access.
type RemoteConfig struct {
	// CredentialsFile points at a service account key for gs:// datasets.
	// Empty uses ambient credentials.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file" json:"credentials_file"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			SampleRate: 1,
		},
		Schema: SchemaConfig{Overrides: true},
		Filter: FilterConfig{Pushdown: true, UseBBox: true},
		Export: ExportConfig{
			GeometryEncoding: "wkb",
			MetadataEncoding: "ogc",
		},
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown log level %q", c.Log.Level)
	}
	switch c.Log.Encoding {
	case "", "json", "console":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown log encoding %q", c.Log.Encoding)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return errors.Newf(errors.ErrorTypeConfig, "tracing sample rate %v is outside [0, 1]", c.Tracing.SampleRate)
	}
	switch c.Export.GeometryEncoding {
	case "", "wkb", "source":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown geometry encoding %q", c.Export.GeometryEncoding)
	}
	switch c.Export.MetadataEncoding {
	case "", "ogc", "geoarrow":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown metadata encoding %q", c.Export.MetadataEncoding)
	}
	if c.Export.BatchRows < 0 {
		return errors.New(errors.ErrorTypeConfig, "export batch_rows cannot be negative")
	}
	return nil
}
