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
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/user/parley/internal/httpapi"
	"github.com/user/parley/internal/telegram"
)

const shutdownTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the parley daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "parley.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger := setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		a.close(shutdownCtx)
	}()

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	if err := a.callbacks.Start(); err != nil {
		return err
	}

	var metrics http.Handler
	if cfg.Metrics.Enabled {
		metrics = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
	}
	httpServer := &http.Server{
		Addr: cfg.HTTP.Listen,
		Handler: httpapi.NewServer(httpapi.Options{
			Engine:               a.engine,
			Conversations:        a.conversations,
			Messages:             a.messages,
			Users:                a.directory.Users(),
			Callbacks:            a.callbacks,
			Metrics:              metrics,
			DefaultConfiguration: a.defaultConfiguration(),
			Texts:                cfg.Texts,
			Logger:               logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	var adapter *telegram.Adapter
	if cfg.Telegram.Token != "" {
		adapter, err = telegram.New(cfg.Telegram.Token, telegram.Options{
			Engine:          a.engine,
			Conversations:   a.conversations,
			Callbacks:       a.callbacks,
			ConfigurationID: cfg.Telegram.ConfigurationID,
			Group:           cfg.Telegram.Group,
			Logger:          logger,
		})
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		slog.Info("telegram adapter started", "configuration", cfg.Telegram.ConfigurationID)
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	slog.Info("parley started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.Execution.MaxConcurrent,
		"max_tool_rounds", cfg.Execution.MaxToolRounds,
		"configurations", len(cfg.Configurations),
		"pid_file", pidFile,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return errors.New("http server stopped")
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				restart(cfg.DataDir, pidFile)
				continue
			}

			slog.Info("shutting down", "signal", sig)
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Warn("http shutdown incomplete", "error", err)
			}
			done()
			cancel()
			if adapter != nil {
				adapter.Wait()
			}
			return nil
		}
	}
}

// restart re-executes the binary in place. On failure the PID file is restored
// and the daemon keeps running.
func restart(dataDir, pidFile string) {
	execPath, err := os.Executable()
	if err != nil {
		slog.Error("failed to get executable path", "error", err)
		return
	}
	os.Remove(pidFile)
	if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
		slog.Error("failed to re-exec", "error", err)
		if _, writeErr := writePIDFile(dataDir); writeErr != nil {
			slog.Error("failed to re-write PID file", "error", writeErr)
		}
	}
}
