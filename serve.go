package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ecyb/daynight-tracking/internal/config"
	"github.com/ecyb/daynight-tracking/internal/database"
	logger "github.com/ecyb/daynight-tracking/internal/logging"
	"github.com/ecyb/daynight-tracking/internal/router"
	"github.com/ecyb/daynight-tracking/internal/session"
	"github.com/ecyb/daynight-tracking/internal/widgets"
)

const shutdownTimeout = 15 * time.Second

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot, err := config.Load(projectRoot)
	if err != nil {
		return err
	}
	if verbose {
		boot.Logging.Level = "debug"
	}

	// Initialize Logger
	log, err := logger.Init(projectRoot, boot.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	// Initialize Config (with hot reload)
	if err := config.Init(projectRoot, log); err != nil {
		log.Error("Failed to load configuration", zap.Error(err))
		return err
	}
	cfg := config.Get()

	// Initialize Database
	dbCfg := cfg.Database
	if dbCfg.Driver == "sqlite" && dbCfg.Path != "" && !filepath.IsAbs(dbCfg.Path) {
		dbCfg.Path = filepath.Join(projectRoot, dbCfg.Path)
	}
	database.Init(dbCfg, log)

	ev, err := loadWidgets(log, cfg.Widgets.Path)
	if err != nil {
		return err
	}

	sink, closeSink, err := newSink(ctx, log, cfg)
	if err != nil {
		log.Error("Failed to set up dispatch transport", zap.String("transport", cfg.Dispatch.Transport), zap.Error(err))
		return err
	}
	defer closeSink()

	manager := session.NewManager(log, sessionConfig(cfg), sink, ev)
	config.OnReload(func(c *config.Config) {
		manager.SetConfig(sessionConfig(c))
		if ev, err := loadWidgets(log, c.Widgets.Path); err == nil {
			manager.SetWidgets(ev)
		}
		log.Info("Applied new engine settings to future sessions")
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Setup(log, cfg, manager),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening on http://localhost:" + cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return manager.RunReaper(gctx, cfg.Engine.ReapInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", zap.Error(err))
		}
		// Sessions are ended after the listener closes so no event
		// arrives for a session that is already flushing.
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Warn("Some sessions did not deliver their final state", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
		return err
	}
	return nil
}

// loadWidgets reads the widget definitions. A missing file just means the
// site has no widgets.
func loadWidgets(log *zap.Logger, path string) (*widgets.Evaluator, error) {
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(projectRoot, path)
	}
	defs, err := widgets.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("No widgets file, widgets disabled", zap.String("path", path))
		return widgets.NewEvaluator(nil), nil
	}
	if err != nil {
		log.Error("Failed to load widgets", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	log.Info("Widgets loaded", zap.Int("count", len(defs)))
	return widgets.NewEvaluator(defs), nil
}
