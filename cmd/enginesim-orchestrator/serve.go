package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"enginesim-orchestrator/internal/admin"
	"enginesim-orchestrator/internal/config"
	"enginesim-orchestrator/internal/logging"
	"enginesim-orchestrator/internal/run"
	"enginesim-orchestrator/internal/store"
	"enginesim-orchestrator/internal/supervisor"
)

var (
	serveConfigPath string
	serveSchemaPath string
	serveJSONOutput bool
	serveTUI        bool
	serveLogFile    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration server",
	Long:  "serve starts the simulation orchestrator, the crash supervisor, and the admin control surface.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath, serveSchemaPath)
		if err != nil {
			return err
		}

		logger := logging.New(cfg.LogLevel, cfg.LogJSON)
		slog.SetDefault(logger)

		guard := supervisor.NewInstanceGuard(cfg.DataDir, logger)
		if err := guard.Acquire(); err != nil {
			if errors.Is(err, supervisor.ErrAlreadyRunning) {
				return fmt.Errorf("startup refused: %w", err)
			}
			return err
		}

		progressW, resultW, alertW, cleanup, err := newWriters(serveJSONOutput, serveTUI, serveLogFile)
		if err != nil {
			guard.Release()
			return err
		}
		defer cleanup()

		sup := supervisor.New(supervisor.Options{
			Config: &supervisor.RecoveryConfig{
				MaxRetries:                cfg.Recovery.MaxRetries,
				RetryDelay:                time.Duration(cfg.Recovery.RetryDelayMs) * time.Millisecond,
				ExponentialBackoff:        cfg.Recovery.ExponentialBackoff,
				CrashRateThresholdPerHour: cfg.Recovery.CrashRateThresholdPerHour,
				AutoRestart:               cfg.Recovery.AutoRestart,
				GracefulShutdownTimeout:   time.Duration(cfg.Recovery.GracefulShutdownTimeoutMs) * time.Millisecond,
			},
			Alerts:  alertW,
			Logger:  logger,
			TempDir: filepath.Join(cfg.DataDir, "tmp"),
		})

		statusStore, err := store.NewFileStatusStore(filepath.Join(cfg.DataDir, "run-status.jsonl"))
		if err != nil {
			guard.Release()
			return err
		}

		orch := run.NewOrchestrator(run.Options{
			Binary:             cfg.Engine.Binary,
			DefaultTimeout:     cfg.DefaultTimeoutDuration(),
			GracePeriod:        cfg.GracePeriodDuration(),
			ArtifactExtensions: cfg.Engine.ArtifactExtensions,
			Progress:           progressW,
			Results:            resultW,
			Status:             statusStore,
			Logger:             logger,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go guard.RefreshLoop(ctx, cfg.HealthCheckInterval())

		srv := admin.NewServer(orch, sup)
		go sup.Protect("admin-server", func() {
			logger.Info("admin surface listening", "addr", cfg.AdminAddr)
			if err := srv.Start(ctx, cfg.AdminAddr); err != nil && err != http.ErrServerClosed {
				logger.Error("admin server failed", "error", err)
			}
		})

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigs
		sup.Report(fmt.Sprintf("termination signal %s", sig), "", nil, sig.String())
		logger.Info("termination signal received, shutting down", "signal", sig.String())

		sup.Shutdown(func() {
			cancel()
			shutdownCtx, stop := context.WithTimeout(context.Background(), time.Duration(cfg.Recovery.GracefulShutdownTimeoutMs)*time.Millisecond)
			defer stop()
			orch.Shutdown(shutdownCtx)
			statusStore.Close()
			guard.Release()
		})
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "config/orchestrator.yaml", "Path to orchestrator configuration YAML")
	serveCmd.Flags().StringVar(&serveSchemaPath, "schema", "schemas/orchestrator.cue", "Path to CUE schema file")
	serveCmd.Flags().BoolVar(&serveJSONOutput, "json", false, "Print event rows as JSON lines instead of colored output")
	serveCmd.Flags().BoolVar(&serveTUI, "tui", false, "Render a live run monitor TUI")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Path to export event logs (JSONL)")
}
