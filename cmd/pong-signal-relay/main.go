package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/PASBarbari/Trascendence-sub000/internal/config"
	"github.com/PASBarbari/Trascendence-sub000/internal/metrics"
	"github.com/PASBarbari/Trascendence-sub000/internal/relayserver"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.LoadRelay(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if cfg.Mode == config.ModeProd {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("starting pong-signal-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"presence", presenceKind(cfg),
		"turn_rest", cfg.TURNRESTEnabled(),
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"ping_interval", cfg.PingInterval,
		"idle_timeout", cfg.IdleTimeout,
	)
	logStartupSecurityWarnings(logger, cfg)

	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	presence, err := relayserver.NewPresence(startCtx, cfg)
	cancelStart()
	if err != nil {
		logger.Error("failed to configure presence store", "err", err)
		os.Exit(2)
	}
	defer presence.Close()

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv, err := relayserver.New(cfg, relayserver.Options{
		Presence: presence,
		Logger:   logger,
		Metrics:  metrics.New(),
		Build:    relayserver.BuildInfo{Commit: commit, BuildTime: built},
	})
	if err != nil {
		logger.Error("failed to configure relay", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, relayserver.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, relayserver.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func presenceKind(cfg config.RelayConfig) string {
	if cfg.RedisAddr != "" {
		return "redis"
	}
	return "memory"
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info,
	// which is populated for `go run` and dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return commit, buildTime
}
