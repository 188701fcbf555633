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

	"github.com/spf13/cobra"

	"github.com/user/toolchat/internal/buildinfo"
	"github.com/user/toolchat/internal/delivery"
	"github.com/user/toolchat/internal/gateway"
	"github.com/user/toolchat/internal/runtime"
	"github.com/user/toolchat/internal/scheduler"
	"github.com/user/toolchat/internal/telegram"
	"github.com/user/toolchat/internal/types"
	"github.com/user/toolchat/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the toolchat daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "toolchat.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a := mustApp()
	defer a.close()
	cfg := a.cfg

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.discover(ctx)

	gw := gateway.New(int64(cfg.MaxConcurrent),
		gateway.WithErrorFormatter(runtime.UserMessage),
		gateway.WithLogger(a.logger))
	gw.SetProcessor(a.runtime.ProcessRun)
	gw.Start(ctx)
	defer gw.Stop()

	slog.Info("toolchat started",
		"version", buildinfo.Version,
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"model", cfg.LLM.Model,
		"storage", cfg.Storage.Driver,
		"tools", len(a.registry.Declarations()),
		"pid_file", pidFile,
	)

	deliveryReg := delivery.NewRegistry()
	deliveryReg.Register("log:", func(_ context.Context, key, message string) error {
		slog.Info("notification", "key", key, "message", message)
		return nil
	})

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, gw, a.runtime, a.registry, a.logger)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		deliveryReg.Register(telegram.KeyPrefix, adapter.Deliver)
		slog.Info("telegram adapter started", "bot", adapter.Username())
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	var sched *scheduler.Scheduler
	if cfg.Monitor.Enabled {
		a.monitor.SetNotifier(deliveryReg)
		sched = scheduler.New(a.watches, a.monitor.Handle, a.logger)
		n, err := sched.Start(ctx)
		if err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
		slog.Info("scheduler started", "watches", n)
	}

	if cfg.HTTP.Enabled {
		submit := func(ctx context.Context, key types.ConversationKey, prompt string) (string, error) {
			return gw.Submit(ctx, &types.InboundEvent{
				Source:          "webhook",
				ConversationKey: key,
				UserID:          "webhook",
				Text:            prompt,
			})
		}
		opts := []webhook.Option{
			webhook.WithConversations(a.conversations),
			webhook.WithPrices(a.prices),
			webhook.WithTools(a.registry),
			webhook.WithLogger(a.logger),
		}
		if cfg.Monitor.Enabled {
			opts = append(opts, webhook.WithWatches(a.watches, a.monitor))
		}
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           webhook.NewServer(submit, opts...),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidFile)
			if sched != nil {
				sched.Stop()
			}
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				if sched != nil {
					if _, err := sched.Reload(); err != nil {
						slog.Error("failed to restart scheduler", "error", err)
					}
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		cancel()
		return nil
	}
}
