// Package help is the dispatcher: it owns the live content snapshot and
// answers full-menu, search and category requests through the render cache.
package help

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/helpdeck/internal/cache"
	"github.com/conneroisu/helpdeck/internal/content"
	"github.com/conneroisu/helpdeck/internal/errors"
	"github.com/conneroisu/helpdeck/internal/fingerprint"
	"github.com/conneroisu/helpdeck/internal/logging"
	"github.com/conneroisu/helpdeck/internal/markup"
	"github.com/conneroisu/helpdeck/internal/renderer"
	"github.com/conneroisu/helpdeck/internal/search"
	"github.com/conneroisu/helpdeck/internal/store"
)

// Replies for the category view.
const (
	categoryHeader = "📂 当前分类列表：\n\n"
	categoryTip    = "\n💡 发送「帮助 分类名」可搜索该分类下的指令"
	noCategories   = "📂 暂无分类配置"
)

// Snapshot ties a model to the index built from it. A snapshot is never
// modified once published.
type Snapshot struct {
	Model      *content.Model
	Index      *search.Index
	Generation uint64
}

// Options configures a Service.
type Options struct {
	Source content.Source
	// Fallback serves the first load when Source fails. Later reloads never
	// use it.
	Fallback content.Source
	Renderer renderer.Renderer
	// Cache defaults to an unbounded cache without a render timeout.
	Cache *cache.RenderCache
	// Store defaults to store.Nop.
	Store store.Store
	// Markup defaults to a minifying builder.
	Markup *markup.Builder
	Logger logging.Logger
	// SearchMemo is the per-index query memo size.
	SearchMemo int
}

// Service answers help requests against the live snapshot.
type Service struct {
	source   content.Source
	renderer renderer.Renderer
	cache    *cache.RenderCache
	store    store.Store
	markup   *markup.Builder
	logger   logging.Logger
	memo     int
	tracer   trace.Tracer

	snap     atomic.Pointer[Snapshot]
	reloadMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   map[int]func(Event)
	nextID      int

	storeHits   int64
	storeMisses int64
}

// New creates the service and performs the first load. When the first load
// fails it is retried from opts.Fallback, which leaves persisted artifacts
// alone. Without a fallback the failure is returned since there is nothing
// to serve yet.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Source == nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "help: a content source is required", nil)
	}
	if opts.Renderer == nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "help: a renderer is required", nil)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(cache.Options{Logger: logger})
	}
	if opts.Store == nil {
		opts.Store = store.Nop{}
	}
	if opts.Markup == nil {
		opts.Markup = markup.NewBuilder(true)
	}
	if opts.SearchMemo <= 0 {
		opts.SearchMemo = search.DefaultMemoSize
	}

	s := &Service{
		source:    opts.Source,
		renderer:  opts.Renderer,
		cache:     opts.Cache,
		store:     opts.Store,
		markup:    opts.Markup,
		logger:    logger.WithComponent("help"),
		memo:      opts.SearchMemo,
		tracer:    otel.Tracer("helpdeck/help"),
		listeners: make(map[int]func(Event)),
	}

	if _, err := s.Reload(ctx); err != nil {
		if opts.Fallback == nil {
			return nil, err
		}
		s.logger.Warn(ctx, err, "Failed to load help content, serving the built-in content")
		if _, ferr := s.reload(ctx, opts.Fallback, false); ferr != nil {
			return nil, errors.Combine(err, ferr)
		}
	}
	return s, nil
}

// Snapshot returns the live snapshot.
func (s *Service) Snapshot() *Snapshot {
	return s.snap.Load()
}

// FullMenu returns the rendered full menu.
func (s *Service) FullMenu(ctx context.Context) (*cache.Artifact, error) {
	ctx, span := s.tracer.Start(ctx, "help.full_menu")
	defer span.End()

	snap := s.snap.Load()
	a, err := s.render(ctx, snap, fingerprint.FullMenu(), snap.Model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render")
		return nil, err
	}
	return a, nil
}

// SearchOutcome is the answer to a keyword lookup. NotFound is set, and
// Artifact is nil, when nothing matched.
type SearchOutcome struct {
	Keyword    string          `json:"keyword" yaml:"keyword"`
	Normalized string          `json:"normalized" yaml:"normalized"`
	Results    []search.Result `json:"results" yaml:"results"`
	NotFound   bool            `json:"not_found" yaml:"not_found"`
	Generation uint64          `json:"generation" yaml:"generation"`
	Artifact   *cache.Artifact `json:"-" yaml:"-"`
}

// Text is the chat reply for the outcome.
func (o *SearchOutcome) Text() string {
	if o.NotFound {
		return search.NotFoundText(o.Keyword)
	}
	return search.FormatText(o.Keyword, o.Results)
}

// Search looks keyword up and renders the matching plugins. An empty
// keyword or no match is not an error.
func (s *Service) Search(ctx context.Context, keyword string) (*SearchOutcome, error) {
	return s.search(ctx, keyword, true)
}

// Lookup runs the search without rendering anything.
func (s *Service) Lookup(ctx context.Context, keyword string) (*SearchOutcome, error) {
	return s.search(ctx, keyword, false)
}

func (s *Service) search(ctx context.Context, keyword string, render bool) (*SearchOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "help.search")
	defer span.End()

	snap := s.snap.Load()
	out := &SearchOutcome{
		Keyword:    strings.TrimSpace(keyword),
		Normalized: search.Normalize(keyword),
		Generation: snap.Generation,
	}
	out.Results = snap.Index.Search(out.Normalized)
	span.SetAttributes(
		attribute.String("search.query", out.Normalized),
		attribute.Int("search.results", len(out.Results)),
	)

	if len(out.Results) == 0 {
		out.NotFound = true
		out.Results = nil
		return out, nil
	}
	if !render {
		return out, nil
	}

	// The subtitle uses the normalized query so that one key always maps
	// to one image.
	sub := snap.Model.Subset(search.Refs(out.Results), search.SubtitleFor(out.Normalized, len(out.Results)))
	a, err := s.render(ctx, snap, fingerprint.SearchResult(out.Normalized), sub)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render")
		return nil, err
	}
	out.Artifact = a
	return out, nil
}

// CategoryList is the plain-text list of category names.
func (s *Service) CategoryList() string {
	names := s.Categories()
	if len(names) == 0 {
		return noCategories
	}

	var b strings.Builder
	b.WriteString(categoryHeader)
	for i, name := range names {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, name)
	}
	b.WriteString(categoryTip)
	return b.String()
}

// Categories returns the category names of the live snapshot.
func (s *Service) Categories() []string {
	return s.snap.Load().Model.CategoryNames()
}

// IsTrigger reports whether text is one of the live trigger words.
func (s *Service) IsTrigger(text string) bool {
	return s.snap.Load().Model.IsTrigger(text)
}

// Artifact returns a previously rendered artifact by key, from the cache or
// from the persisted store. Persisted records are only returned while they
// belong to the live content.
func (s *Service) Artifact(ctx context.Context, key fingerprint.Key) (*cache.Artifact, bool) {
	if a, ok := s.cache.Get(key); ok {
		return a, true
	}

	snap := s.snap.Load()
	rec, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn(ctx, err, "Store lookup failed", "key", key.Short())
		return nil, false
	}
	if !ok || rec.Digest != snap.Model.Digest() {
		return nil, false
	}
	return &cache.Artifact{
		Key:         key,
		Data:        rec.Data,
		ContentType: rec.ContentType,
		Generation:  snap.Generation,
		Digest:      rec.Digest,
		CreatedAt:   rec.CreatedAt,
		Size:        int64(len(rec.Data)),
	}, true
}

// Warm checks the renderer and renders the full menu ahead of the first
// request.
func (s *Service) Warm(ctx context.Context) error {
	if w, ok := s.renderer.(renderer.Warmer); ok {
		if err := w.Warm(ctx); err != nil {
			return err
		}
	}

	perf := logging.StartOperation(s.logger, "warm")
	a, err := s.FullMenu(ctx)
	if err != nil {
		perf.EndWithError(ctx, err)
		return err
	}
	perf.End(ctx, "key", a.Key.Short(), "size", a.Size)
	return nil
}

func (s *Service) render(ctx context.Context, snap *Snapshot, view fingerprint.View, model *content.Model) (*cache.Artifact, error) {
	key := fingerprint.Compute(snap.Model.Digest(), view, snap.Model.Theme(), s.renderer.Target())
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("render.key", key.Short()),
		attribute.String("render.view", view.Kind.String()),
		attribute.Int64("content.generation", int64(snap.Generation)),
	)

	return s.cache.GetOrRender(ctx, snap.Generation, key, func(ctx context.Context) (*cache.Artifact, error) {
		return s.produce(ctx, key, snap.Model.Digest(), model)
	})
}

// produce builds one artifact on a cache miss. A persisted record is reused
// when it was rendered from the same content; otherwise the page is built,
// rendered and written back. Store failures never fail the request.
func (s *Service) produce(ctx context.Context, key fingerprint.Key, digest fingerprint.Digest, model *content.Model) (*cache.Artifact, error) {
	contentType := s.renderer.ContentType()

	rec, ok, err := s.store.Get(ctx, key)
	switch {
	case err != nil:
		s.logger.Warn(ctx, err, "Store lookup failed", "key", key.Short())
	case ok && rec.Digest == digest && rec.ContentType == contentType:
		atomic.AddInt64(&s.storeHits, 1)
		s.logger.Debug(ctx, "Serving persisted artifact", "key", key.Short())
		return &cache.Artifact{
			Data:        rec.Data,
			ContentType: rec.ContentType,
			Digest:      digest,
			CreatedAt:   rec.CreatedAt,
		}, nil
	}
	atomic.AddInt64(&s.storeMisses, 1)

	page, err := s.markup.Build(ctx, model)
	if err != nil {
		return nil, err
	}
	data, err := s.renderer.Render(ctx, page, model.Theme())
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.store.Put(ctx, store.Record{
		Key:         key,
		Digest:      digest,
		ContentType: contentType,
		Data:        data,
		CreatedAt:   now,
	}); err != nil {
		s.logger.Warn(ctx, err, "Failed to persist artifact", "key", key.Short())
	}

	return &cache.Artifact{
		Data:        data,
		ContentType: contentType,
		Digest:      digest,
		CreatedAt:   now,
	}, nil
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Generation  uint64              `json:"generation"`
	Digest      string              `json:"digest"`
	Origin      string              `json:"origin"`
	LoadedAt    time.Time           `json:"loaded_at"`
	Categories  int                 `json:"categories"`
	Plugins     int                 `json:"plugins"`
	Target      string              `json:"renderer_target"`
	Cache       cache.Stats         `json:"cache"`
	HitRate     float64             `json:"hit_rate"`
	Pool        *renderer.PoolStats `json:"pool,omitempty"`
	StoreHits   int64               `json:"store_hits"`
	StoreMisses int64               `json:"store_misses"`
}

// Stats returns service statistics.
func (s *Service) Stats() Stats {
	snap := s.snap.Load()
	cs := s.cache.GetStats()
	st := Stats{
		Generation:  snap.Generation,
		Digest:      snap.Model.Digest().String(),
		Origin:      snap.Model.Origin(),
		LoadedAt:    snap.Model.LoadedAt(),
		Categories:  snap.Model.NumCategories(),
		Plugins:     snap.Model.NumPlugins(),
		Target:      s.renderer.Target(),
		Cache:       cs,
		HitRate:     cs.HitRate(),
		StoreHits:   atomic.LoadInt64(&s.storeHits),
		StoreMisses: atomic.LoadInt64(&s.storeMisses),
	}
	if p, ok := s.renderer.(*renderer.Pool); ok {
		ps := p.Stats()
		st.Pool = &ps
	}
	return st
}
