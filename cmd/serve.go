package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/helpdeck/internal/config"
	"github.com/conneroisu/helpdeck/internal/errors"
	"github.com/conneroisu/helpdeck/internal/server"
	"github.com/conneroisu/helpdeck/internal/telemetry"
	"github.com/conneroisu/helpdeck/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Serve help menus over HTTP",
	Long: `Serve rendered help menus over HTTP and reload when the content file
changes.

Endpoints:
  GET  /menu                 Full help menu
  GET  /search?q=KEYWORD     Rendered search result (format=json for data)
  GET  /categories           Category list
  POST /message              Route a chat line: {"text": "帮助 签到"}
  POST /reload               Reload the content file
  GET  /artifacts/{key}      Previously rendered artifact
  GET  /stats, /health       Service status
  GET  /ws                   Reload notifications

Examples:
  helpdeck serve                         # Serve on localhost:8080
  helpdeck serve --port 3000 --no-watch  # Serve without watching content`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", config.DefaultPort, "Port to serve on")
	serveCmd.Flags().String("host", config.DefaultHost, "Host to bind to")
	serveCmd.Flags().Bool("no-watch", false, "Don't reload when the content file changes")
	serveCmd.Flags().Bool("no-warm", false, "Don't render the full menu at start-up")
	AddFlagValidation(serveCmd, "port", ValidatePort)

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if noWatch, _ := cmd.Flags().GetBool("no-watch"); noWatch {
		cfg.Content.Watch = false
	}
	if noWarm, _ := cmd.Flags().GetBool("no-warm"); noWarm {
		cfg.Cache.Warm = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, closeLog, err := newLogger(cfg.Log, nil)
	if err != nil {
		return err
	}
	defer closeLog()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	a, err := newAppFrom(ctx, cfg, logger)
	if err != nil {
		return errors.Combine(err, shutdownTracing(context.Background()))
	}

	if cfg.Cache.Warm {
		if err := a.service.Warm(ctx); err != nil {
			// The first request renders instead.
			logger.Warn(ctx, err, "Warm-up failed")
		}
	}

	var fw *watcher.FileWatcher
	if cfg.Content.Watch {
		fw, err = startWatcher(ctx, a)
		if err != nil {
			logger.Warn(ctx, err, "Content watching disabled", "path", cfg.Content.Path)
			fw = nil
		}
	}

	srv := server.New(cfg.Server, a.service, logger)

	fmt.Fprintf(cmd.OutOrStdout(), "Serving help menus at http://%s\n", cfg.Server.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	var watchErr error
	if fw != nil {
		watchErr = fw.Stop()
	}
	return errors.Combine(runErr, watchErr, a.Close(), shutdownTracing(context.Background()))
}

// startWatcher reloads the service whenever the content file changes.
func startWatcher(ctx context.Context, a *app) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(a.cfg.Content.Debounce, a.logger)
	if err != nil {
		return nil, err
	}
	reload := watcher.ReloaderFunc(func(ctx context.Context) error {
		_, err := a.service.Reload(ctx)
		return err
	})
	fw.AddHandler(watcher.ReloadHandler(reload, a.logger.WithComponent("watcher")))

	if err := fw.WatchFile(a.cfg.Content.Path); err != nil {
		return nil, errors.Combine(err, fw.Stop())
	}
	if err := fw.Start(ctx); err != nil {
		return nil, errors.Combine(err, fw.Stop())
	}
	return fw, nil
}
