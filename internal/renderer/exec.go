package renderer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/conneroisu/helpdeck/internal/content"
	"github.com/conneroisu/helpdeck/internal/errors"
	"github.com/conneroisu/helpdeck/internal/logging"
	"github.com/conneroisu/helpdeck/internal/validation"
)

// Default rasterizer invocation: HTML on stdin, PNG on stdout. The width
// matches the 900px page plus padding; zoom 2 gives a sharp image on
// high-density screens.
var (
	DefaultCommand = "wkhtmltoimage"
	DefaultArgs    = []string{"--quiet", "--format", "png", "--width", "932", "--zoom", "2", "-", "-"}
)

// maxStderr caps how much of the rasterizer's stderr ends up in errors.
const maxStderr = 2048

// ExecConfig configures an ExecRenderer.
type ExecConfig struct {
	Command     string
	Args        []string
	ContentType string
	// AllowedCommands, when non-nil, restricts Command to these base names.
	AllowedCommands map[string]bool
}

// ExecRenderer runs an external rasterizer per render.
type ExecRenderer struct {
	command     string
	args        []string
	contentType string
	logger      logging.Logger
	buffers     sync.Pool
}

// NewExecRenderer validates cfg and creates the renderer. The command is
// never run through a shell.
func NewExecRenderer(cfg ExecConfig, logger logging.Logger) (*ExecRenderer, error) {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
		if cfg.Args == nil {
			cfg.Args = DefaultArgs
		}
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "image/png"
	}
	if logger == nil {
		logger = logging.Discard()
	}

	if err := validation.ValidateCommand(cfg.Command, cfg.AllowedCommands); err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeCommandInjection,
			fmt.Sprintf("renderer command rejected: %v", err)).WithComponent("renderer")
	}
	for _, arg := range cfg.Args {
		if err := validation.ValidateArgument(arg); err != nil {
			return nil, errors.NewValidationError(errors.ErrCodeCommandInjection,
				fmt.Sprintf("renderer argument %q rejected: %v", arg, err)).WithComponent("renderer")
		}
	}

	r := &ExecRenderer{
		command:     cfg.Command,
		args:        append([]string(nil), cfg.Args...),
		contentType: cfg.ContentType,
		logger:      logger.WithComponent("renderer"),
	}
	r.buffers.New = func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 256*1024))
	}
	return r, nil
}

// Render implements Renderer.
func (r *ExecRenderer) Render(ctx context.Context, markup string, _ content.Theme) ([]byte, error) {
	stdout := r.buffers.Get().(*bytes.Buffer)
	stdout.Reset()
	defer r.buffers.Put(stdout)

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, r.command, r.args...)
	cmd.Stdin = strings.NewReader(markup)
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s interrupted: %w", r.command, ctx.Err())
		}
		return nil, errors.NewRenderError(errors.ErrCodeRenderFailed,
			fmt.Sprintf("%s failed", r.command), err).
			WithComponent("renderer").
			WithContext("stderr", truncate(stderr.String(), maxStderr))
	}

	if stdout.Len() == 0 {
		return nil, errors.NewRenderError(errors.ErrCodeRenderFailed,
			fmt.Sprintf("%s produced no output", r.command), nil).
			WithComponent("renderer").
			WithContext("stderr", truncate(stderr.String(), maxStderr))
	}

	// The buffer goes back to the pool; the caller owns this copy.
	out := make([]byte, stdout.Len())
	copy(out, stdout.Bytes())
	return out, nil
}

// Warm checks that the rasterizer can be found, so a missing binary shows up
// at start-up instead of on the first request.
func (r *ExecRenderer) Warm(ctx context.Context) error {
	path, err := exec.LookPath(r.command)
	if err != nil {
		return errors.NewRenderError(errors.ErrCodeRenderFailed,
			fmt.Sprintf("renderer command %q not found", r.command), err).WithComponent("renderer")
	}
	r.logger.Debug(ctx, "Renderer command resolved", "command", r.command, "path", path)
	return nil
}

// Target implements Renderer.
func (r *ExecRenderer) Target() string {
	return "exec:" + r.command + " " + strings.Join(r.args, " ") + "|" + r.contentType
}

// ContentType implements Renderer.
func (r *ExecRenderer) ContentType() string {
	return r.contentType
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
