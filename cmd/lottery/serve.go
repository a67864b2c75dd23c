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
	"golang.org/x/sync/errgroup"

	"lottery_engine/internal/engine"
	"lottery_engine/internal/httpapi"
	"lottery_engine/internal/notify"
	"lottery_engine/internal/store/sqlite"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the account engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.bus.Log("info", "server starting", map[string]any{"addr": a.cfg.Server.Addr})

	store, err := sqlite.Open(ctx, a.cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	notifier := notify.NewEmailNotifier(store, a.bus)
	p := a.newPipeline()
	defer func() {
		if err := p.close(); err != nil {
			a.logger.Warn("closing browser failed", zap.Error(err))
		}
	}()

	eng := engine.New(engine.Options{
		Store:    store,
		Sessions: p.launcher,
		Runner:   p.runner,
		Bus:      a.bus,
		Notifier: notifier,
		Limits:   a.cfg.Limits,
		Numbers:  a.cfg.Lottery.Numbers,
	})

	api := httpapi.New(httpapi.Options{
		Cfg:    a.cfg,
		Bus:    a.bus,
		Store:  store,
		Engine: eng,
	})
	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.bus.Log("info", "shutdown signal received, stopping", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := eng.StopAll(shutdownCtx); err != nil {
			a.logger.Warn("engine stop timed out", zap.Error(err))
		}
		if err := notifier.Close(shutdownCtx); err != nil {
			a.logger.Warn("email queue not drained", zap.Error(err))
		}
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	a.bus.Log("info", "server stopped", nil)
	return err
}
