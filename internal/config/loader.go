package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
)

// DefaultEnvPrefix is the environment variable prefix of every setting.
const DefaultEnvPrefix = "MAPSYNC"

// Sentinel errors wrapped by Load.
var (
	ErrConfigFileNotFound = stderrors.New("config file not found")
	ErrConfigParseError   = stderrors.New("config parse error")
	ErrConfigValidation   = stderrors.New("config validation failed")
)

type loadOptions struct {
	path      string
	envPrefix string
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

// WithConfigPath reads the YAML file at path before applying env overrides.
func WithConfigPath(path string) LoadOption {
	return func(o *loadOptions) { o.path = path }
}

// WithEnvPrefix replaces the MAPSYNC env prefix.
func WithEnvPrefix(prefix string) LoadOption {
	return func(o *loadOptions) { o.envPrefix = prefix }
}

// newViper builds a viper instance with YAML file type, the env prefix,
// automatic env binding and a "." → "_" key replacer, so "sync.quiescence"
// resolves to MAPSYNC_SYNC_QUIESCENCE.
func newViper(prefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvs(v, reflect.TypeOf(Config{}), "")
	return v
}

// bindEnvs registers every scalar key of t with viper.  AutomaticEnv alone
// only consults the environment for keys viper already knows, which keys
// absent from the file are not.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, f.Type, key)
			continue
		}
		if f.Type.Kind() == reflect.Slice && f.Type.Elem().Kind() == reflect.Struct {
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Load builds a Config from the optional YAML file, MAPSYNC_* environment
// overrides and defaults, then validates it.
//
// Environment variable naming convention:
//
//	MAPSYNC_<SECTION>_<FIELD>   e.g.  MAPSYNC_SYNC_QUIESCENCE=150ms, MAPSYNC_REDIS_ADDR
func Load(opts ...LoadOption) (*Config, error) {
	o := loadOptions{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	v := newViper(o.envPrefix)
	if o.path != "" {
		if err := readFile(v, o.path); err != nil {
			return nil, err
		}
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load()
}

func readFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigFileNotFound, path, err)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigParseError, path, err)
	}
	return nil
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParseError, err)
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigValidation, err)
	}
	return cfg, nil
}

// Watch re-reads path whenever it changes on disk and hands every valid
// result to onChange.  Invalid edits are logged and skipped, so the caller
// keeps running on the last good configuration.  Callers apply only the
// settings that are safe to change at runtime (sync timings, log level).
func Watch(path string, log logging.Logger, onChange func(*Config), opts ...LoadOption) error {
	o := loadOptions{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	v := newViper(o.envPrefix)
	if err := readFile(v, path); err != nil {
		return err
	}
	v.OnConfigChange(func(ev fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			log.Warn("ignoring invalid config change", logging.String("file", ev.Name), logging.Err(err))
			return
		}
		log.Info("config reloaded", logging.String("file", ev.Name))
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is a convenience wrapper around Load that panics on any error.
func MustLoad(opts ...LoadOption) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
