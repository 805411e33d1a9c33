// Package config provides configuration management for helpdeck using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration file (.helpdeck.yml by default) holds server, renderer,
// cache, store, logging and telemetry settings. Help content itself lives
// in a separate file referenced by content.path so that it can be reloaded
// on its own. Environment variables with the HELPDECK_ prefix override file
// values (server.port becomes HELPDECK_SERVER_PORT).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/helpdeck/internal/renderer"
)

// Renderer kinds.
const (
	RendererExec   = "exec"
	RendererMarkup = "markup"
)

// Store backends.
const (
	StoreNone   = "none"
	StoreFS     = "fs"
	StoreSQLite = "sqlite"
)

// Defaults.
const (
	DefaultHost            = "localhost"
	DefaultPort            = 8080
	DefaultContentPath     = "help_config.toml"
	DefaultDebounce        = 300 * time.Millisecond
	DefaultRenderTimeout   = 30 * time.Second
	DefaultConcurrency     = 1
	DefaultStoreDir        = ".helpdeck/artifacts"
	DefaultSQLitePath      = ".helpdeck/helpdeck.db"
	DefaultServiceName     = "helpdeck"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRateLimit       = 600
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Content   ContentConfig   `mapstructure:"content" yaml:"content"`
	Renderer  RendererConfig  `mapstructure:"renderer" yaml:"renderer"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ContentConfig struct {
	Path     string        `mapstructure:"path" yaml:"path"`
	Watch    bool          `mapstructure:"watch" yaml:"watch"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type RendererConfig struct {
	Kind            string        `mapstructure:"kind" yaml:"kind"`
	Command         string        `mapstructure:"command" yaml:"command"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	ContentType     string        `mapstructure:"content_type" yaml:"content_type"`
	AllowedCommands []string      `mapstructure:"allowed_commands" yaml:"allowed_commands"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"`
}

type CacheConfig struct {
	MaxBytes   int64         `mapstructure:"max_bytes" yaml:"max_bytes"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Warm       bool          `mapstructure:"warm" yaml:"warm"`
	SearchMemo int           `mapstructure:"search_memo" yaml:"search_memo"`
}

type StoreConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// Dir switches logging to one dated file per day inside it.
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`
}

type TelemetryConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HELPDECK"

var envReplacer = strings.NewReplacer(".", "_")

// ConfigureEnv makes v read HELPDECK_* environment overrides, with dots in
// keys replaced by underscores.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v, applies defaults and validates
// the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	config, err := Decode(v)
	if err != nil {
		return nil, err
	}

	result := Validate(config)
	if result.HasErrors() {
		return nil, fmt.Errorf("invalid configuration: %w", &result.Errors[0])
	}

	return config, nil
}

// Decode reads the configuration from v and applies defaults without
// validating it.
func Decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Slices set through flags or env arrive as a single string.
	if v.IsSet("renderer.args") && len(config.Renderer.Args) == 0 {
		config.Renderer.Args = v.GetStringSlice("renderer.args")
	}
	if v.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	applyDefaults(&config, v)
	return &config, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	var config Config
	applyDefaults(&config, viper.New())
	return &config
}

func applyDefaults(config *Config, v *viper.Viper) {
	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if !v.IsSet("server.port") && config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}
	if len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = []string{
			fmt.Sprintf("http://localhost:%d", config.Server.Port),
			fmt.Sprintf("http://127.0.0.1:%d", config.Server.Port),
		}
	}
	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if !v.IsSet("server.rate_limit") && config.Server.RateLimit == 0 {
		config.Server.RateLimit = DefaultRateLimit
	}

	if config.Content.Path == "" {
		config.Content.Path = DefaultContentPath
	}
	if !v.IsSet("content.watch") {
		config.Content.Watch = true
	}
	if config.Content.Debounce == 0 {
		config.Content.Debounce = DefaultDebounce
	}

	if config.Renderer.Kind == "" {
		config.Renderer.Kind = RendererExec
	}
	config.Renderer.Kind = strings.ToLower(config.Renderer.Kind)
	if config.Renderer.Command == "" && config.Renderer.Kind == RendererExec {
		config.Renderer.Command = renderer.DefaultCommand
		if len(config.Renderer.Args) == 0 {
			config.Renderer.Args = append([]string(nil), renderer.DefaultArgs...)
		}
	}
	if config.Renderer.Timeout == 0 {
		config.Renderer.Timeout = DefaultRenderTimeout
	}
	if !v.IsSet("renderer.concurrency") && config.Renderer.Concurrency == 0 {
		config.Renderer.Concurrency = DefaultConcurrency
	}

	if !v.IsSet("cache.warm") {
		config.Cache.Warm = true
	}

	if config.Store.Backend == "" {
		config.Store.Backend = StoreFS
	}
	config.Store.Backend = strings.ToLower(config.Store.Backend)
	if config.Store.Dir == "" {
		config.Store.Dir = DefaultStoreDir
	}
	if config.Store.SQLitePath == "" {
		config.Store.SQLitePath = DefaultSQLitePath
	}

	if config.Log.Level == "" {
		config.Log.Level = DefaultLogLevel
	}
	if config.Log.Format == "" {
		config.Log.Format = DefaultLogFormat
	}

	if config.Telemetry.ServiceName == "" {
		config.Telemetry.ServiceName = DefaultServiceName
	}
	if !v.IsSet("telemetry.sample_ratio") && config.Telemetry.SampleRatio == 0 {
		config.Telemetry.SampleRatio = 1
	}
}

// AllowedCommandSet returns the renderer allowlist as a set, or nil when
// any command is allowed.
func (r RendererConfig) AllowedCommandSet() map[string]bool {
	if len(r.AllowedCommands) == 0 {
		return nil
	}
	set := make(map[string]bool, len(r.AllowedCommands))
	for _, c := range r.AllowedCommands {
		set[c] = true
	}
	return set
}
