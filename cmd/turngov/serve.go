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

	"github.com/Rogers-F/turngov/internal/ipc"
	"github.com/Rogers-F/turngov/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.New()
	engine, err := newEngine(ctx, cfg, db, logger, m)
	if err != nil {
		return err
	}
	pg, closeSinks, err := newPolicy(cfg, db, logger, m)
	if err != nil {
		return err
	}
	defer closeSinks()

	cycles := pg.Cycles()
	cycles.StartSweeper(ctx, cfg.Cycle.SweepInterval, func(removed int) {
		m.SetActiveCycles(cycles.Len())
		if removed > 0 {
			logger.Debug("swept expired cycles", zap.Int("removed", removed))
		}
	})
	defer cycles.Stop()

	h := &ipc.Handler{
		Pipeline: newPipeline(cfg, logger, m),
		Engine:   engine,
		Policy:   pg,
		Metrics:  m,
		Logger:   logger.Named("http"),

		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}
	srv := ipc.NewServer(h, cfg.ListenAddr)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("turngov listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("rules", cfg.Policy.RulesPath),
		zap.Bool("tracker", cfg.TrackerEnabled()),
	)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
