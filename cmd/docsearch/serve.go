package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/docsearch/internal/models"
	"github.com/hyperjump/docsearch/internal/server"
	"github.com/hyperjump/docsearch/internal/watcher"
)

func newServeCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), watch || a.cfg.Watch.Enabled)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "rebuild technologies whose files change")
	return cmd
}

func (a *app) serve(parent context.Context, watch bool) error {
	logger := a.logger
	m, err := a.open()
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("close index failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watch {
		w := watcher.NewWatcher(m.Corpus(), func(tech string) {
			report, err := m.Build(ctx, models.BuildRequest{TechFilter: tech})
			if err != nil {
				logger.Warn("watch rebuild failed", zap.String("tech", tech), zap.Error(err))
				return
			}
			logger.Info("watch rebuild finished", zap.String("tech", tech),
				zap.Int("created", report.Created), zap.Int("updated", report.Updated), zap.Int("deleted", report.Deleted))
		}, watcher.WithDebounce(a.cfg.Watch.Debounce), watcher.WithLogger(logger.Named("watch")))
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	srv := server.NewServer(m, &a.cfg.Server, logger.Named("http"))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
