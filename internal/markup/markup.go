// Package markup turns a content model into the HTML document the renderer
// rasterizes. Components are plain templ components; the finished page is
// minified so that whitespace-only template edits do not reach the
// rasterizer.
package markup

import (
	"bytes"
	"context"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"

	"github.com/conneroisu/helpdeck/internal/content"
	"github.com/conneroisu/helpdeck/internal/errors"
)

// Builder renders models to minified HTML. It is safe for concurrent use.
type Builder struct {
	minifier *minify.M
	minify   bool
}

// NewBuilder creates a Builder. With minified false the raw component
// output is returned, which is easier to read while editing styles.
func NewBuilder(minified bool) *Builder {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	return &Builder{minifier: m, minify: minified}
}

// Build renders the full page for m.
func (b *Builder) Build(ctx context.Context, m *content.Model) (string, error) {
	var buf bytes.Buffer
	if err := Page(m).Render(ctx, &buf); err != nil {
		return "", errors.NewRenderError(errors.ErrCodeMarkupFailed, "failed to render page", err).
			WithComponent("markup")
	}

	if !b.minify {
		return buf.String(), nil
	}

	out, err := b.minifier.Bytes("text/html", buf.Bytes())
	if err != nil {
		return "", errors.NewRenderError(errors.ErrCodeMarkupFailed, "failed to minify page", err).
			WithComponent("markup")
	}
	return string(out), nil
}
