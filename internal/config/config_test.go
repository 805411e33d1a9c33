package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			setup: func() {
				viper.Reset()
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultHost, cfg.Server.Host)
				assert.Equal(t, DefaultPort, cfg.Server.Port)
				assert.Equal(t, []string{"http://localhost:8080", "http://127.0.0.1:8080"}, cfg.Server.AllowedOrigins)
				assert.Equal(t, DefaultContentPath, cfg.Content.Path)
				assert.Equal(t, DefaultRateLimit, cfg.Server.RateLimit)
				assert.True(t, cfg.Content.Watch)
				assert.Equal(t, DefaultDebounce, cfg.Content.Debounce)
				assert.Equal(t, RendererExec, cfg.Renderer.Kind)
				assert.Equal(t, "wkhtmltoimage", cfg.Renderer.Command)
				assert.NotEmpty(t, cfg.Renderer.Args)
				assert.Equal(t, DefaultRenderTimeout, cfg.Renderer.Timeout)
				assert.Equal(t, 1, cfg.Renderer.Concurrency)
				assert.True(t, cfg.Cache.Warm)
				assert.Zero(t, cfg.Cache.MaxBytes)
				assert.Zero(t, cfg.Cache.TTL)
				assert.Equal(t, StoreFS, cfg.Store.Backend)
				assert.Equal(t, "info", cfg.Log.Level)
				assert.Equal(t, "text", cfg.Log.Format)
				assert.Empty(t, cfg.Log.Dir)
				assert.Equal(t, "helpdeck", cfg.Telemetry.ServiceName)
				assert.Empty(t, cfg.Telemetry.Endpoint)
			},
		},
		{
			name: "explicit values",
			setup: func() {
				viper.Reset()
				viper.Set("server.port", 3000)
				viper.Set("server.host", "0.0.0.0")
				viper.Set("server.rate_limit", 0)
				viper.Set("content.path", "menus/help.yaml")
				viper.Set("content.watch", false)
				viper.Set("renderer.kind", "MARKUP")
				viper.Set("renderer.timeout", "5s")
				viper.Set("renderer.concurrency", 4)
				viper.Set("cache.max_bytes", 1<<20)
				viper.Set("cache.ttl", "10m")
				viper.Set("cache.warm", false)
				viper.Set("store.backend", "sqlite")
				viper.Set("log.format", "json")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "0.0.0.0:3000", cfg.Server.Addr())
				assert.Zero(t, cfg.Server.RateLimit)
				assert.Equal(t, "menus/help.yaml", cfg.Content.Path)
				assert.False(t, cfg.Content.Watch)
				assert.Equal(t, RendererMarkup, cfg.Renderer.Kind)
				assert.Empty(t, cfg.Renderer.Command)
				assert.Equal(t, 5*time.Second, cfg.Renderer.Timeout)
				assert.Equal(t, 4, cfg.Renderer.Concurrency)
				assert.Equal(t, int64(1<<20), cfg.Cache.MaxBytes)
				assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
				assert.False(t, cfg.Cache.Warm)
				assert.Equal(t, StoreSQLite, cfg.Store.Backend)
				assert.Equal(t, "json", cfg.Log.Format)
			},
		},
		{
			name: "args from a single string",
			setup: func() {
				viper.Reset()
				viper.Set("renderer.command", "cat")
				viper.Set("renderer.args", "-u")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"-u"}, cfg.Renderer.Args)
			},
		},
		{
			name: "unparseable port",
			setup: func() {
				viper.Reset()
				viper.Set("server.port", "invalid_port")
			},
			expectError: true,
		},
		{
			name: "port out of range",
			setup: func() {
				viper.Reset()
				viper.Set("server.port", 70000)
			},
			expectError: true,
		},
		{
			name: "zero concurrency",
			setup: func() {
				viper.Reset()
				viper.Set("renderer.concurrency", 0)
			},
			expectError: true,
		},
		{
			name: "unknown renderer",
			setup: func() {
				viper.Reset()
				viper.Set("renderer.kind", "chrome")
			},
			expectError: true,
		},
		{
			name: "command injection",
			setup: func() {
				viper.Reset()
				viper.Set("renderer.command", "wkhtmltoimage; rm -rf /")
			},
			expectError: true,
		},
		{
			name: "content path traversal",
			setup: func() {
				viper.Reset()
				viper.Set("content.path", "../../secrets.toml")
			},
			expectError: true,
		},
		{
			name: "unsupported content format",
			setup: func() {
				viper.Reset()
				viper.Set("content.path", "help.ini")
			},
			expectError: true,
		},
		{
			name: "unknown store",
			setup: func() {
				viper.Reset()
				viper.Set("store.backend", "redis")
			},
			expectError: true,
		},
		{
			name: "log dir outside the project",
			setup: func() {
				viper.Reset()
				viper.Set("log.dir", "/proc/helpdeck")
			},
			expectError: true,
		},
		{
			name: "bad telemetry endpoint",
			setup: func() {
				viper.Reset()
				viper.Set("telemetry.endpoint", "ftp://collector")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer viper.Reset()

			cfg, err := Load()
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_FromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".helpdeck.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
renderer:
  kind: markup
store:
  backend: none
`), 0o644))

	t.Setenv("HELPDECK_SERVER_PORT", "9191")

	v := viper.New()
	v.SetConfigFile(path)
	ConfigureEnv(v)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, RendererMarkup, cfg.Renderer.Kind)
	assert.Equal(t, StoreNone, cfg.Store.Backend)
}

func TestValidate_Warnings(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 80
	cfg.Renderer.Concurrency = 32

	result := Validate(cfg)
	assert.True(t, result.Valid)
	assert.False(t, result.HasErrors())
	require.True(t, result.HasWarnings())
	assert.Len(t, result.Warnings, 2)
	assert.Contains(t, result.String(), "server.port")
	assert.Contains(t, result.String(), "renderer.concurrency")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = -1
	cfg.Renderer.Concurrency = 0
	cfg.Log.Level = "loud"
	cfg.Cache.TTL = -time.Second

	result := Validate(cfg)
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 4)
	assert.Contains(t, result.String(), "❌ Validation Errors:")
}

func TestDefault_IsValid(t *testing.T) {
	result := Validate(Default())
	assert.True(t, result.Valid, result.String())
}

func TestAllowedCommandSet(t *testing.T) {
	assert.Nil(t, RendererConfig{}.AllowedCommandSet())
	set := RendererConfig{AllowedCommands: []string{"wkhtmltoimage", "cat"}}.AllowedCommandSet()
	assert.True(t, set["cat"])
	assert.False(t, set["rm"])
}

func TestValidateHostname(t *testing.T) {
	assert.NoError(t, validateHostname("localhost"))
	assert.NoError(t, validateHostname("127.0.0.1"))
	assert.NoError(t, validateHostname("::1"))
	assert.NoError(t, validateHostname("help.example.com"))
	assert.Error(t, validateHostname("host;rm"))
	assert.Error(t, validateHostname("bad..host"))
}

func TestDecode_DoesNotValidate(t *testing.T) {
	v := viper.New()
	v.Set("renderer.concurrency", 0)
	v.Set("log.level", "loud")

	cfg, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Renderer.Concurrency)
	assert.Equal(t, DefaultContentPath, cfg.Content.Path)

	result := Validate(cfg)
	assert.Len(t, result.Errors, 2)

	_, err = LoadFrom(v)
	assert.Error(t, err)
}
