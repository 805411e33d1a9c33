// Package renderer turns help-menu markup into an image.
//
// The actual rasterizer is an external program. ExecRenderer pipes markup
// into it on stdin and reads the image from stdout; MarkupRenderer skips
// rasterizing and returns the markup itself. Pool bounds how many renders
// run at once, since a rasterizer is slow and rarely safe to run unbounded.
package renderer

import (
	"context"

	"github.com/conneroisu/helpdeck/internal/content"
)

// Renderer produces artifact bytes from markup.
type Renderer interface {
	// Render rasterizes markup. It may take seconds and must honour ctx.
	Render(ctx context.Context, markup string, theme content.Theme) ([]byte, error)
	// Target identifies the renderer configuration. Changing anything that
	// alters the output bytes must change Target.
	Target() string
	// ContentType is the MIME type of Render's output.
	ContentType() string
}

// Warmer is implemented by renderers with a start-up cost worth paying
// before the first request.
type Warmer interface {
	Warm(ctx context.Context) error
}

// MarkupRenderer returns the markup unchanged. It is meant for development
// and for environments without a rasterizer.
type MarkupRenderer struct{}

// Render implements Renderer.
func (MarkupRenderer) Render(ctx context.Context, markup string, _ content.Theme) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte(markup), nil
}

// Target implements Renderer.
func (MarkupRenderer) Target() string { return "markup" }

// ContentType implements Renderer.
func (MarkupRenderer) ContentType() string { return "text/html; charset=utf-8" }

// Func adapts a function to Renderer.
type Func struct {
	Fn   func(ctx context.Context, markup string, theme content.Theme) ([]byte, error)
	Name string
	Type string
}

// Render implements Renderer.
func (f Func) Render(ctx context.Context, markup string, theme content.Theme) ([]byte, error) {
	return f.Fn(ctx, markup, theme)
}

// Target implements Renderer.
func (f Func) Target() string { return "func:" + f.Name }

// ContentType implements Renderer.
func (f Func) ContentType() string {
	if f.Type == "" {
		return "application/octet-stream"
	}
	return f.Type
}
