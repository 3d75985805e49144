package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tesseradata/tessera/pkg/errors"
)

const envPrefix = "TESSERA"

// FileName is the config file looked up in the working directory and in
// ~/.tessera when Load is called without an explicit path.
const FileName = "tessera.yaml"

// Load merges defaults, the YAML file at path, and TESSERA_* environment
// variables. An empty path searches the standard locations and falls back
// to defaults plus environment when no file exists; an explicit path must
// exist. File contents may reference environment variables as ${VAR}.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "reading config file")
		}
		if err := v.ReadConfig(strings.NewReader(substituteEnvVars(string(data)))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parsing config file")
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "decoding configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML. Used by the config init command to seed a file
// the user can edit.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "encoding configuration")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.ErrorTypeIO, "creating config directory")
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "writing config file")
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can bind it even when no
// file provides a value.
func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.development", def.Log.Development)
	v.SetDefault("log.encoding", def.Log.Encoding)
	v.SetDefault("tracing.enabled", def.Tracing.Enabled)
	v.SetDefault("tracing.sample_rate", def.Tracing.SampleRate)
	v.SetDefault("tracing.pretty", def.Tracing.Pretty)
	v.SetDefault("schema.overrides", def.Schema.Overrides)
	v.SetDefault("filter.pushdown", def.Filter.Pushdown)
	v.SetDefault("filter.use_bbox", def.Filter.UseBBox)
	v.SetDefault("export.force_naive", def.Export.ForceNaive)
	v.SetDefault("export.geometry_encoding", def.Export.GeometryEncoding)
	v.SetDefault("export.metadata_encoding", def.Export.MetadataEncoding)
	v.SetDefault("export.batch_rows", def.Export.BatchRows)
	v.SetDefault("remote.credentials_file", def.Remote.CredentialsFile)
}

func findConfigFile() string {
	candidates := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".tessera", FileName))
	}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c
		}
	}
	return ""
}

// substituteEnvVars expands ${VAR} references against the process
// environment. Unset variables expand to the empty string.
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			return content
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			return content
		}
		end += start
		name := content[start+2 : end]
		content = content[:start] + os.Getenv(name) + content[end+1:]
	}
}
