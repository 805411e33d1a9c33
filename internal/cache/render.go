package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/conneroisu/helpdeck/internal/errors"
	"github.com/conneroisu/helpdeck/internal/fingerprint"
)

// Producer renders the artifact for a key on a cache miss. It only needs to
// fill Data, ContentType and Digest (and CreatedAt, if it knows better than
// now); the cache sets the rest.
type Producer func(ctx context.Context) (*Artifact, error)

// call is one in-flight render. done is closed once artifact/err are set.
type call struct {
	done       chan struct{}
	generation uint64
	artifact   *Artifact
	err        error
}

// GetOrRender returns the artifact for key at generation gen.
//
// A ready entry of the same generation is returned directly. If a render of
// the key is already in flight the caller waits for it and shares its
// outcome. Otherwise the caller installs an in-flight marker and the producer
// runs exactly once; every caller waiting on it sees the same artifact or the
// same error, and a failed render leaves the key free for a retry.
//
// The producer runs detached from the caller's cancellation, bounded only by
// the render timeout, so one impatient caller cannot fail the others. A
// caller whose ctx ends stops waiting and gets ctx.Err().
//
// A gen newer than the cache's advances it. A gen older than the cache's
// (a reader still holding a previous snapshot) is rendered once per key and
// generation for all such readers, and never stored.
func (c *RenderCache) GetOrRender(ctx context.Context, gen uint64, key fingerprint.Key, produce Producer) (*Artifact, error) {
	c.mu.Lock()

	if gen < c.generation {
		sk := staleKey{gen: gen, key: key}
		if cl, ok := c.stale[sk]; ok {
			c.mu.Unlock()
			atomic.AddInt64(&c.joins, 1)
			return c.wait(ctx, cl)
		}
		cl := &call{done: make(chan struct{}), generation: gen}
		c.stale[sk] = cl
		c.mu.Unlock()
		atomic.AddInt64(&c.staleRenders, 1)
		go c.run(ctx, key, cl, produce)
		return c.wait(ctx, cl)
	}

	if gen > c.generation {
		c.advanceLocked(gen)
	}

	if e, ok := c.lookupLocked(key, gen); ok {
		c.mu.Unlock()
		atomic.AddInt64(&c.hits, 1)
		return e.artifact, nil
	}

	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		atomic.AddInt64(&c.joins, 1)
		return c.wait(ctx, cl)
	}

	cl := &call{done: make(chan struct{}), generation: gen}
	c.inflight[key] = cl
	c.mu.Unlock()
	atomic.AddInt64(&c.misses, 1)

	go c.run(ctx, key, cl, produce)
	return c.wait(ctx, cl)
}

func (c *RenderCache) wait(ctx context.Context, cl *call) (*Artifact, error) {
	select {
	case <-cl.done:
		return cl.artifact, cl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type outcome struct {
	artifact *Artifact
	err      error
}

// run invokes the producer and publishes the outcome to every waiter.
func (c *RenderCache) run(ctx context.Context, key fingerprint.Key, cl *call, produce Producer) {
	defer close(cl.done)

	start := c.now()
	atomic.AddInt64(&c.renders, 1)

	rctx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if c.renderTimeout > 0 {
		rctx, cancel = context.WithTimeout(rctx, c.renderTimeout)
	}
	defer cancel()

	results := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error(ctx, nil, "Producer panicked",
					"key", key.Short(), "panic", r, "stack", string(debug.Stack()))
				results <- outcome{err: errors.NewRenderError(errors.ErrCodeRenderPanic,
					fmt.Sprintf("render panicked: %v", r), nil)}
			}
		}()
		a, err := produce(rctx)
		results <- outcome{artifact: a, err: err}
	}()

	var out outcome
	select {
	case out = <-results:
	case <-rctx.Done():
		out.err = rctx.Err()
	}

	artifact, err := c.finish(rctx, key, cl.generation, start, out)

	c.mu.Lock()
	if c.inflight[key] == cl {
		delete(c.inflight, key)
		if err == nil && cl.generation == c.generation {
			c.storeLocked(artifact)
		}
	} else if sk := (staleKey{gen: cl.generation, key: key}); c.stale[sk] == cl {
		delete(c.stale, sk)
	}
	c.mu.Unlock()

	if err != nil {
		atomic.AddInt64(&c.failures, 1)
		c.logger.Warn(ctx, err, "Render failed",
			"key", key.Short(), "generation", cl.generation)
	} else {
		c.logger.Debug(ctx, "Render completed",
			"key", key.Short(), "generation", cl.generation,
			"size", artifact.Size, "duration_ms", c.now().Sub(start).Milliseconds())
	}

	cl.artifact, cl.err = artifact, err
}

// finish turns a raw producer outcome into the artifact or RenderError every
// waiter receives.
func (c *RenderCache) finish(rctx context.Context, key fingerprint.Key, gen uint64, start time.Time, out outcome) (*Artifact, error) {
	if out.err != nil {
		if stderrors.Is(rctx.Err(), context.DeadlineExceeded) {
			return nil, errors.NewRenderError(errors.ErrCodeRenderTimeout,
				fmt.Sprintf("render timed out after %s", c.renderTimeout), out.err).
				WithContext("key", key.String())
		}
		if errors.IsRenderError(out.err) {
			return nil, out.err
		}
		return nil, errors.WrapRender(out.err, errors.ErrCodeRenderFailed, "render failed").
			WithContext("key", key.String())
	}
	if out.artifact == nil {
		return nil, errors.NewRenderError(errors.ErrCodeRenderFailed, "producer returned no artifact", nil)
	}

	a := *out.artifact
	a.Key = key
	a.Generation = gen
	a.Size = int64(len(a.Data))
	if a.CreatedAt.IsZero() {
		a.CreatedAt = start
	}
	return &a, nil
}
