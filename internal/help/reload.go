package help

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/conneroisu/helpdeck/internal/content"
	"github.com/conneroisu/helpdeck/internal/errors"
	"github.com/conneroisu/helpdeck/internal/fingerprint"
	"github.com/conneroisu/helpdeck/internal/logging"
	"github.com/conneroisu/helpdeck/internal/search"
)

// Reply texts for the reload command.
const (
	ReloadOKText     = "✅ 配置重载成功！下次查看帮助将使用新配置"
	reloadFailedText = "❌ 配置重载失败: "
)

// ReloadFailedText is the reply for a failed reload.
func ReloadFailedText(err error) string {
	return reloadFailedText + err.Error()
}

// EventType names a service event.
type EventType string

const (
	EventReloaded     EventType = "reloaded"
	EventReloadFailed EventType = "reload_failed"
)

// Event is delivered to subscribers after every reload attempt.
type Event struct {
	Type        EventType `json:"type"`
	Generation  uint64    `json:"generation"`
	Digest      string    `json:"digest,omitempty"`
	Changed     bool      `json:"changed"`
	Invalidated int       `json:"invalidated"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// ReloadResult describes a successful reload.
type ReloadResult struct {
	Generation  uint64             `json:"generation"`
	Digest      fingerprint.Digest `json:"-"`
	Changed     bool               `json:"changed"`
	Invalidated int                `json:"invalidated"`
	Pruned      int                `json:"pruned"`
	Categories  int                `json:"categories"`
	Plugins     int                `json:"plugins"`
	Duration    time.Duration      `json:"duration"`
}

// Reload loads the content source again and publishes a new snapshot.
//
// Reloads are serialized. The new model and its index are built completely
// before a single pointer swap publishes them, so readers see either the
// old pair or the new pair. Cached renders of older generations are dropped
// right after the swap and persisted artifacts of other content are pruned.
// On failure the live snapshot is left untouched.
func (s *Service) Reload(ctx context.Context) (*ReloadResult, error) {
	return s.reload(ctx, s.source, true)
}

// reload publishes a snapshot loaded from src. Persisted artifacts are pruned
// only when prune is set.
func (s *Service) reload(ctx context.Context, src content.Source, prune bool) (*ReloadResult, error) {
	ctx, span := s.tracer.Start(ctx, "help.reload")
	defer span.End()

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	start := time.Now()
	perf := logging.StartOperation(s.logger, "reload")

	m, err := src.Load(ctx)
	if err != nil {
		if !errors.IsConfigError(err) {
			err = errors.WrapConfig(err, errors.ErrCodeConfigParse, "failed to load help content")
		}
		perf.EndWithError(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load")

		gen := uint64(0)
		if prev := s.snap.Load(); prev != nil {
			gen = prev.Generation
		}
		s.notify(Event{Type: EventReloadFailed, Generation: gen, Error: err.Error(), At: time.Now()})
		return nil, err
	}

	prev := s.snap.Load()
	gen := uint64(1)
	if prev != nil {
		gen = prev.Generation + 1
	}

	m = m.WithGeneration(gen)
	next := &Snapshot{
		Model:      m,
		Index:      search.BuildWithMemo(m, s.memo),
		Generation: gen,
	}
	s.snap.Store(next)

	invalidated := s.cache.Advance(gen)

	var pruned int
	if prune {
		pruned, err = s.store.Prune(ctx, m.Digest())
		if err != nil {
			s.logger.Warn(ctx, err, "Failed to prune persisted artifacts")
		}
	}

	res := &ReloadResult{
		Generation:  gen,
		Digest:      m.Digest(),
		Changed:     prev == nil || prev.Model.Digest() != m.Digest(),
		Invalidated: invalidated,
		Pruned:      pruned,
		Categories:  m.NumCategories(),
		Plugins:     m.NumPlugins(),
		Duration:    time.Since(start),
	}

	span.SetAttributes(
		attribute.Int64("content.generation", int64(gen)),
		attribute.Bool("content.changed", res.Changed),
		attribute.Int("cache.invalidated", invalidated),
	)
	perf.End(ctx,
		"generation", gen,
		"digest", m.Digest().String()[:16],
		"changed", res.Changed,
		"invalidated", invalidated,
		"pruned", pruned,
		"origin", m.Origin())

	s.notify(Event{
		Type:        EventReloaded,
		Generation:  gen,
		Digest:      m.Digest().String(),
		Changed:     res.Changed,
		Invalidated: invalidated,
		At:          time.Now(),
	})
	return res, nil
}

// Subscribe registers fn for service events and returns a function that
// removes it. fn is called synchronously from the reloading goroutine and
// must not block.
func (s *Service) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Service) notify(ev Event) {
	s.listenersMu.RLock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
