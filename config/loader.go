package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type loadOptions struct {
	configFile string
	envFile    string
	defaults   map[string]any
}

// LoaderOption customizes LoadConfig.
type LoaderOption func(*loadOptions)

// WithConfigFile reads YAML from path instead of searching the standard
// locations. A missing file is not an error.
func WithConfigFile(path string) LoaderOption {
	return func(o *loadOptions) { o.configFile = path }
}

// WithEnvFile loads a dotenv file from path instead of searching.
func WithEnvFile(path string) LoaderOption {
	return func(o *loadOptions) { o.envFile = path }
}

// WithDefaults seeds values by dotted key, e.g. "logging.output".
func WithDefaults(defaults map[string]any) LoaderOption {
	return func(o *loadOptions) { o.defaults = defaults }
}

func configCandidates(service string) []string {
	return []string{
		"./cmd/" + service + "/config.yml",
		"./config/" + service + ".yml",
		"./config/config.yml",
		"./config.yml",
	}
}

func envCandidates(service string) []string {
	return []string{"./cmd/" + service + "/.env", ".env." + service, ".env"}
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadConfig fills cfg from, lowest precedence first: defaults, the YAML
// file, then environment variables. Variables from the dotenv file never
// override ones already set in the process.
//
// Every leaf key of cfg is bound to its upper-cased underscore form, so
// health.probe_timeout is read from HEALTH_PROBE_TIMEOUT.
func LoadConfig(serviceName string, cfg any, opts ...LoaderOption) error {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.configFile == "" {
		o.configFile = firstExisting(configCandidates(serviceName))
	}
	if o.envFile == "" {
		o.envFile = firstExisting(envCandidates(serviceName))
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", o.envFile, err)
		}
	}

	v := viper.New()
	for k, val := range o.defaults {
		v.SetDefault(k, val)
	}
	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read config file %s: %w", o.configFile, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range leafKeys(reflect.TypeOf(cfg), "") {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode %s config: %w", serviceName, err)
	}
	return nil
}

// leafKeys lists the dotted mapstructure keys of every non-struct field of
// t. Squashed embeds contribute their fields at the parent's level.
func leafKeys(t reflect.Type, prefix string) []string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}

	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			continue
		}
		if strings.Contains(opts, "squash") {
			keys = append(keys, leafKeys(f.Type, prefix)...)
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		key := prefix + name

		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct {
			keys = append(keys, leafKeys(ft, key+".")...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}
