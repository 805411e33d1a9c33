package content

import (
	"bytes"
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/conneroisu/helpdeck/internal/errors"
	"github.com/conneroisu/helpdeck/internal/logging"
)

//go:embed default_content.toml
var defaultContent []byte

// OriginEmbedded is the origin of models built from the built-in content.
const OriginEmbedded = "embedded"

// Source loads a fresh Model. It is called at start-up and on every reload.
type Source interface {
	Load(ctx context.Context) (*Model, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*Model, error)

// Load implements Source.
func (f SourceFunc) Load(ctx context.Context) (*Model, error) {
	return f(ctx)
}

// FileSource reads the content file with viper. The format follows the file
// extension: .toml, .yaml, .yml or .json. A missing file is a ConfigError
// wrapping fs.ErrNotExist; DefaultSource serves as the start-up fallback.
type FileSource struct {
	Path   string
	Logger logging.Logger
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string, logger logging.Logger) *FileSource {
	return &FileSource{Path: path, Logger: logger}
}

// Load implements Source.
func (s *FileSource) Load(ctx context.Context) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.Path == "" {
		return Default()
	}

	if _, err := os.Stat(s.Path); stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.NewConfigError(errors.ErrCodeConfigParse,
			"content file not found", err).WithContext("path", s.Path)
	}

	v := viper.New()
	v.SetConfigFile(s.Path)
	if !supportedExt(s.Path) {
		return nil, errors.NewConfigError(errors.ErrCodeConfigParse,
			fmt.Sprintf("unsupported content file type %q", filepath.Ext(s.Path)), nil)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigParse,
			"failed to read content file", err).WithContext("path", s.Path)
	}

	m, err := decode(v, s.Path)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Debug(ctx, "Loaded content", "path", s.Path, "digest", m.Digest())
	}
	return m, nil
}

// DefaultSource serves the built-in content. When WritePath names a .toml
// file that does not exist yet, the built-in content is written there first.
// An existing file is never touched.
type DefaultSource struct {
	WritePath string
	Logger    logging.Logger
}

// Load implements Source.
func (s DefaultSource) Load(ctx context.Context) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.WritePath != "" && strings.EqualFold(filepath.Ext(s.WritePath), ".toml") {
		if _, err := os.Stat(s.WritePath); stderrors.Is(err, fs.ErrNotExist) {
			if err := WriteDefault(s.WritePath, false); err != nil {
				if s.Logger != nil {
					s.Logger.Warn(ctx, err, "Failed to write built-in content", "path", s.WritePath)
				}
			} else if s.Logger != nil {
				s.Logger.Info(ctx, "Wrote built-in content", "path", s.WritePath)
			}
		}
	}
	return Default()
}

// Default builds the model from the built-in content.
func Default() (*Model, error) {
	return Parse(defaultContent, "toml", OriginEmbedded)
}

// Parse builds a model from raw file bytes of the given format.
func Parse(data []byte, format, origin string) (*Model, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigParse,
			"failed to parse content", err).WithContext("origin", origin)
	}
	return decode(v, origin)
}

func decode(v *viper.Viper, origin string) (*Model, error) {
	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigParse,
			"failed to decode content", err).WithContext("origin", origin)
	}
	return Build(doc, origin)
}

// WriteDefault writes the built-in content to path. It refuses to overwrite
// an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.NewIOError(errors.ErrCodeStoreIO,
				fmt.Sprintf("%s already exists", path), fs.ErrExist)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapIO(err, errors.ErrCodeStoreIO, "failed to create content directory")
		}
	}
	if err := os.WriteFile(path, defaultContent, 0o644); err != nil {
		return errors.WrapIO(err, errors.ErrCodeStoreIO, "failed to write content file")
	}
	return nil
}

func supportedExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
