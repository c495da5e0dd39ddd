package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tabletop/internal/config"
	"tabletop/internal/engine/systems"
	"tabletop/internal/game"
	"tabletop/internal/game/skirmish"
	"tabletop/internal/game/tictactoe"
	"tabletop/internal/logging"
	"tabletop/internal/metrics"
	"tabletop/internal/server"
	"tabletop/internal/session"
	"tabletop/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)

	undo := systems.DefaultUndoConfig()
	undo.MaxSnapshots = cfg.UndoMaxSnapshots
	gameLog := game.WithLogger(logger.Named("engine"))

	registry := game.NewRegistry()
	registry.Register(tictactoe.New(undo, gameLog))
	registry.Register(skirmish.New(undo, gameLog))

	mgr := session.NewManager(registry, store,
		session.WithLogger(logger.Named("session")),
		session.WithMetrics(mt),
	)
	if err := mgr.Restore(); err != nil {
		logger.Warn("restore sessions", zap.Error(err))
	}

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: server.New(registry, mgr, os.DirFS(cfg.WebDir),
			server.WithLogger(logger.Named("http")),
			server.WithMetrics(mt),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		mgr.CleanupLoop(ctx, cfg.CleanupInterval, cfg.SessionMaxAge)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
