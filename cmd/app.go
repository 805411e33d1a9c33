package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/conneroisu/helpdeck/internal/cache"
	"github.com/conneroisu/helpdeck/internal/config"
	"github.com/conneroisu/helpdeck/internal/content"
	"github.com/conneroisu/helpdeck/internal/errors"
	"github.com/conneroisu/helpdeck/internal/help"
	"github.com/conneroisu/helpdeck/internal/logging"
	"github.com/conneroisu/helpdeck/internal/renderer"
	"github.com/conneroisu/helpdeck/internal/store"
)

// app is the help service plus what it needs closed on exit.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	service  *help.Service
	store    store.Store
	closeLog func() error
}

func noClose() error { return nil }

// newLogger builds the process logger from the log section. With log.dir
// set the logs go to a dated file there instead of out, and the returned
// func closes it.
func newLogger(cfg config.LogConfig, out io.Writer) (logging.Logger, func() error, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	if out == nil {
		out = os.Stderr
	}
	lc := &logging.LoggerConfig{
		Level:  level,
		Format: cfg.Format,
		Output: out,
	}
	if cfg.Dir == "" {
		return logging.NewLogger(lc), noClose, nil
	}

	fl, err := logging.NewFileLogger(lc, cfg.Dir)
	if err != nil {
		return nil, nil, errors.WrapIO(err, errors.ErrCodeStoreIO, "failed to open log file")
	}
	return fl, fl.Close, nil
}

// newRenderer builds the configured renderer, bounded by a pool.
func newRenderer(cfg config.RendererConfig, logger logging.Logger) (renderer.Renderer, error) {
	var r renderer.Renderer
	switch cfg.Kind {
	case config.RendererMarkup:
		r = renderer.MarkupRenderer{}
	default:
		exec, err := renderer.NewExecRenderer(renderer.ExecConfig{
			Command:         cfg.Command,
			Args:            cfg.Args,
			ContentType:     cfg.ContentType,
			AllowedCommands: cfg.AllowedCommandSet(),
		}, logger)
		if err != nil {
			return nil, err
		}
		r = exec
	}
	return renderer.NewPool(r, cfg.Concurrency), nil
}

// newStore opens the configured artifact store.
func newStore(cfg config.StoreConfig, logger logging.Logger) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreNone:
		return store.Nop{}, nil
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, errors.WrapIO(err, errors.ErrCodeStoreIO, "failed to create store directory")
		}
		return store.OpenSQLite(cfg.SQLitePath)
	default:
		return store.NewFSStore(cfg.Dir, logger)
	}
}

// newApp loads the configuration and builds the help service. The first
// content load happens here.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := newLogger(cfg.Log, nil)
	if err != nil {
		return nil, err
	}
	a, err := newAppFrom(ctx, cfg, logger)
	if err != nil {
		return nil, errors.Combine(err, closeLog())
	}
	a.closeLog = closeLog
	return a, nil
}

func newAppFrom(ctx context.Context, cfg *config.Config, logger logging.Logger) (*app, error) {
	r, err := newRenderer(cfg.Renderer, logger)
	if err != nil {
		return nil, err
	}

	st, err := newStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	svc, err := help.New(ctx, help.Options{
		Source:   content.NewFileSource(cfg.Content.Path, logger.WithComponent("content")),
		Fallback: content.DefaultSource{WritePath: cfg.Content.Path, Logger: logger.WithComponent("content")},
		Renderer: r,
		Cache: cache.New(cache.Options{
			MaxBytes:      cfg.Cache.MaxBytes,
			TTL:           cfg.Cache.TTL,
			RenderTimeout: cfg.Renderer.Timeout,
			Logger:        logger,
		}),
		Store:      st,
		Logger:     logger,
		SearchMemo: cfg.Cache.SearchMemo,
	})
	if err != nil {
		return nil, errors.Combine(err, st.Close())
	}

	return &app{cfg: cfg, logger: logger, service: svc, store: st, closeLog: noClose}, nil
}

func (a *app) Close() error {
	return errors.Combine(a.store.Close(), a.closeLog())
}
