package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/conneroisu/helpdeck/internal/logging"
	"github.com/conneroisu/helpdeck/internal/validation"
)

// ContentExtensions are the content file formats the loader understands.
var ContentExtensions = []string{".toml", ".yaml", ".yml", ".json"}

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("❌ Validation Errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("⚠️  Validation Warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

func (vr *ValidationResult) addError(field string, value interface{}, msg string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

func (vr *ValidationResult) addWarning(field string, value interface{}, msg string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

// Validate checks config and reports every problem with suggestions.
func Validate(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateServer(&config.Server, result)
	validateContent(&config.Content, result)
	validateRenderer(&config.Renderer, result)
	validateCache(&config.Cache, result)
	validateStore(&config.Store, result)
	validateLog(&config.Log, result)
	validateTelemetry(&config.Telemetry, result)

	result.Valid = !result.HasErrors()
	return result
}

func validateServer(config *ServerConfig, result *ValidationResult) {
	if config.Port < 0 || config.Port > 65535 {
		result.addError("server.port", config.Port,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			"Use a port between 1024-65535 for non-privileged access",
			"Port 0 allows system to assign an available port")
	} else if config.Port > 0 && config.Port < 1024 {
		result.addWarning("server.port", config.Port,
			"port below 1024 requires elevated privileges",
			"Consider using a port above 1024")
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.addError("server.host", config.Host, err.Error(),
				"Use 'localhost' for local access",
				"Use '0.0.0.0' to bind to all interfaces")
		}
	}

	for _, origin := range config.AllowedOrigins {
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") && strings.ContainsAny(origin, "/ ") {
			result.addWarning("server.allowed_origins", origin,
				"origin is neither a full origin nor a bare host",
				"Use 'http://localhost:8080' or 'localhost:8080'")
		}
	}

	if config.ShutdownTimeout < 0 {
		result.addError("server.shutdown_timeout", config.ShutdownTimeout, "shutdown timeout cannot be negative")
	}
	if config.RateLimit < 0 {
		result.addError("server.rate_limit", config.RateLimit, "rate limit cannot be negative",
			"Use 0 to disable rate limiting")
	}
}

func validateHostname(host string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", " "}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}
	if net.ParseIP(host) != nil || host == "localhost" {
		return nil
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return fmt.Errorf("invalid hostname: %s", host)
		}
	}
	return nil
}

func validateContent(config *ContentConfig, result *ValidationResult) {
	if err := validation.ValidatePath(config.Path); err != nil {
		result.addError("content.path", config.Path, err.Error(),
			"Use a path inside the working directory, e.g. help_config.toml")
		return
	}
	if err := validation.ValidateFileExtension(config.Path, ContentExtensions); err != nil {
		result.addError("content.path", config.Path, err.Error(),
			"Supported formats: "+strings.Join(ContentExtensions, ", "))
	}
	if config.Debounce < 0 {
		result.addError("content.debounce", config.Debounce, "debounce cannot be negative")
	}
}

func validateRenderer(config *RendererConfig, result *ValidationResult) {
	switch config.Kind {
	case RendererExec:
		if err := validation.ValidateCommand(config.Command, config.AllowedCommandSet()); err != nil {
			result.addError("renderer.command", config.Command, err.Error(),
				"Avoid shell metacharacters in the renderer command",
				"Use a command name on PATH such as 'wkhtmltoimage'")
		}
		for _, arg := range config.Args {
			if err := validation.ValidateArgument(arg); err != nil {
				result.addError("renderer.args", arg, err.Error(),
					"Arguments are passed directly to the command, no shell is involved")
			}
		}
	case RendererMarkup:
	default:
		result.addError("renderer.kind", config.Kind,
			fmt.Sprintf("unknown renderer kind '%s'", config.Kind),
			"Use 'exec' to run an external rasterizer",
			"Use 'markup' to serve the HTML itself")
	}

	if config.Concurrency < 1 {
		result.addError("renderer.concurrency", config.Concurrency,
			"concurrency must be at least 1",
			"Each concurrent render runs one rasterizer process")
	} else if config.Concurrency > 16 {
		result.addWarning("renderer.concurrency", config.Concurrency,
			"high renderer concurrency may exhaust memory",
			"Browser-based rasterizers use a lot of memory per process")
	}

	if config.Timeout < 0 {
		result.addError("renderer.timeout", config.Timeout, "timeout cannot be negative")
	}
}

func validateCache(config *CacheConfig, result *ValidationResult) {
	if config.MaxBytes < 0 {
		result.addError("cache.max_bytes", config.MaxBytes, "max_bytes cannot be negative",
			"Use 0 for an unbounded cache")
	}
	if config.TTL < 0 {
		result.addError("cache.ttl", config.TTL, "ttl cannot be negative",
			"Use 0 to keep artifacts until the content changes")
	}
	if config.SearchMemo < 0 {
		result.addError("cache.search_memo", config.SearchMemo, "search_memo cannot be negative")
	}
}

func validateStore(config *StoreConfig, result *ValidationResult) {
	switch config.Backend {
	case StoreNone:
	case StoreFS:
		if err := validation.ValidatePath(config.Dir); err != nil {
			result.addError("store.dir", config.Dir, err.Error())
		}
	case StoreSQLite:
		if err := validation.ValidatePath(config.SQLitePath); err != nil {
			result.addError("store.sqlite_path", config.SQLitePath, err.Error())
		}
	default:
		result.addError("store.backend", config.Backend,
			fmt.Sprintf("unknown store backend '%s'", config.Backend),
			"Available backends: none, fs, sqlite")
	}
}

func validateLog(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.addError("log.level", config.Level, err.Error(),
			"Available levels: debug, info, warn, error")
	}
	if config.Format != "text" && config.Format != "json" {
		result.addError("log.format", config.Format,
			fmt.Sprintf("unknown log format '%s'", config.Format),
			"Use 'text' or 'json'")
	}
	if config.Dir != "" {
		if err := validation.ValidatePath(config.Dir); err != nil {
			result.addError("log.dir", config.Dir, err.Error(),
				"Leave log.dir empty to log to stderr")
		}
	}
}

func validateTelemetry(config *TelemetryConfig, result *ValidationResult) {
	if config.Endpoint != "" {
		if err := validation.ValidateEndpoint(config.Endpoint); err != nil {
			result.addError("telemetry.endpoint", config.Endpoint, err.Error(),
				"Use the OTLP/HTTP collector URL, e.g. http://localhost:4318")
		}
	}
	if config.SampleRatio < 0 || config.SampleRatio > 1 {
		result.addError("telemetry.sample_ratio", config.SampleRatio, "sample_ratio must be between 0 and 1")
	}
}
