// Package config loads pagepipe settings from a config file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/gogpu/pagepipe"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PAGEPIPE"

// Config aggregates configuration for the pagepipe command.
type Config struct {
	Pipeline pagepipe.Config `mapstructure:"pipeline"`
	Log      LogConfig       `mapstructure:"log"`
}

// LogConfig selects the log level and an optional JSON log file.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// SlogLevel parses Level. An empty level means info.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", l.Level, err)
	}
	return level, nil
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Pipeline: pagepipe.DefaultConfig(),
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads configuration from a file and environment variables.
//
// When path is empty, a file named pagepipe.{toml,yaml,json} is looked up
// in the working directory and the user config directory, and a missing
// file is not an error. Environment variables use the prefix "PAGEPIPE"
// and the dot character in keys is replaced by an underscore. For example,
// "pipeline.max_textures" becomes "PAGEPIPE_PIPELINE_MAX_TEXTURES".
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pagepipe")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "pagepipe"))
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}
	if _, err := cfg.Log.SlogLevel(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
