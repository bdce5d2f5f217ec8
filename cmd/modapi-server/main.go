package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mcdiamondfire/modapi/internal/config"
	"github.com/mcdiamondfire/modapi/internal/logging"
	"github.com/mcdiamondfire/modapi/internal/observability"
	"github.com/mcdiamondfire/modapi/internal/protocol"
	"github.com/mcdiamondfire/modapi/internal/store"
	"github.com/mcdiamondfire/modapi/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modapi-server: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modapi-server: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("modapi server starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("protocol", cfg.Protocol),
	)

	reg, err := protocol.ByName(cfg.Protocol)
	if err != nil {
		return err
	}
	codec := protocol.NewCodec(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var journal ws.Journal
	if cfg.JournalEnabled {
		db, err := store.New(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()
		logger.Info("journal opened", zap.String("path", cfg.DatabasePath))
		journal = db

		if cfg.JournalRetention > 0 {
			go pruneLoop(ctx, db, cfg.JournalRetention, logger)
		}
	}

	hub := ws.NewHub(codec, logger)
	go hub.Run()

	router, err := newRouter(reg, logger)
	if err != nil {
		return err
	}

	upgrade := ws.UpgradeHandler(hub, ws.Options{
		Subprotocol:    cfg.Subprotocol,
		Protocol:       cfg.Protocol,
		MaxMessageSize: cfg.MaxMessageSize,
		Codec:          codec,
		Router:         router,
		Journal:        journal,
		Logger:         logger,
		Greeting:       greeting(reg, cfg.ServerName, hub),
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: newHTTPRouter(cfg, reg, hub, upgrade, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("server listening", zap.String("addr", cfg.ListenAddr))

	select {
	case err := <-errCh:
		hub.Stop()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	hub.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}

// pruneLoop drops journaled frames older than retention.
func pruneLoop(ctx context.Context, db *store.Store, retention time.Duration, logger *zap.Logger) {
	interval := min(retention/4, time.Hour)
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := db.PruneFrames(ctx, time.Now().Add(-retention))
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("prune journal", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				observability.RecordPrune(n)
				logger.Info("pruned journal", zap.Int64("frames", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
