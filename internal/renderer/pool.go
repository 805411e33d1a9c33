package renderer

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/conneroisu/helpdeck/internal/content"
)

// Pool bounds the number of concurrent renders on a Renderer. It is itself
// a Renderer, so callers never see the bound except as waiting time.
type Pool struct {
	renderer Renderer
	sem      *semaphore.Weighted
	size     int64

	active  int64
	peak    int64
	waiting int64
	total   int64
	failed  int64
}

// NewPool wraps r so that at most size renders run at once. A size below
// one is treated as one.
func NewPool(r Renderer, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		renderer: r,
		sem:      semaphore.NewWeighted(int64(size)),
		size:     int64(size),
	}
}

// Render acquires a slot, honouring ctx while waiting, then renders.
func (p *Pool) Render(ctx context.Context, markup string, theme content.Theme) ([]byte, error) {
	ctx, span := otel.Tracer("helpdeck/renderer").Start(ctx, "renderer.render")
	defer span.End()
	span.SetAttributes(
		attribute.String("renderer.target", p.renderer.Target()),
		attribute.Int("markup.bytes", len(markup)),
	)

	atomic.AddInt64(&p.waiting, 1)
	err := p.sem.Acquire(ctx, 1)
	atomic.AddInt64(&p.waiting, -1)
	if err != nil {
		span.SetStatus(codes.Error, "acquire")
		return nil, fmt.Errorf("waiting for renderer: %w", err)
	}
	defer p.sem.Release(1)

	n := atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)
	for {
		peak := atomic.LoadInt64(&p.peak)
		if n <= peak || atomic.CompareAndSwapInt64(&p.peak, peak, n) {
			break
		}
	}
	atomic.AddInt64(&p.total, 1)

	out, err := p.renderer.Render(ctx, markup, theme)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "render")
		return nil, err
	}
	span.SetAttributes(attribute.Int("artifact.bytes", len(out)))
	return out, nil
}

// Warm warms the wrapped renderer if it supports it.
func (p *Pool) Warm(ctx context.Context) error {
	if w, ok := p.renderer.(Warmer); ok {
		return w.Warm(ctx)
	}
	return nil
}

// Target implements Renderer. The pool does not change output, so it
// reports the wrapped renderer's target.
func (p *Pool) Target() string { return p.renderer.Target() }

// ContentType implements Renderer.
func (p *Pool) ContentType() string { return p.renderer.ContentType() }

// PoolStats describes pool usage.
type PoolStats struct {
	Size    int64 `json:"size"`
	Active  int64 `json:"active"`
	Peak    int64 `json:"peak"`
	Waiting int64 `json:"waiting"`
	Total   int64 `json:"total"`
	Failed  int64 `json:"failed"`
}

// Stats returns a snapshot of pool usage.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Size:    p.size,
		Active:  atomic.LoadInt64(&p.active),
		Peak:    atomic.LoadInt64(&p.peak),
		Waiting: atomic.LoadInt64(&p.waiting),
		Total:   atomic.LoadInt64(&p.total),
		Failed:  atomic.LoadInt64(&p.failed),
	}
}
