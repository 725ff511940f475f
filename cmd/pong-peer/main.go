package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PASBarbari/Trascendence-sub000/internal/config"
	"github.com/PASBarbari/Trascendence-sub000/internal/game"
	"github.com/PASBarbari/Trascendence-sub000/internal/metrics"
	"github.com/PASBarbari/Trascendence-sub000/internal/session"
	"github.com/PASBarbari/Trascendence-sub000/internal/signaling"
	"github.com/PASBarbari/Trascendence-sub000/internal/syncproto"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
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

	logger.Info("starting pong-peer",
		"signaling_url", cfg.SignalingURL,
		"room_id", cfg.RoomID,
		"initiator", cfg.Initiator,
		"mode", cfg.Mode,
		"tick_rate", cfg.TickRate,
		"win_score", cfg.WinScore,
		"ice_servers", len(cfg.ICEServers),
		"auto_ready", cfg.AutoReady,
		"auto_rematch", cfg.AutoRematch,
		"ice_from_relay", cfg.ICEFromRelay,
	)

	cfg, err = session.ResolveIdentity(cfg, time.Now())
	if err != nil {
		logger.Error("failed to resolve peer identity", "err", err)
		os.Exit(2)
	}
	if cfg.ICEFromRelay {
		if err := useRelayICEServers(&cfg, logger); err != nil {
			logger.Error("failed to fetch ice servers from relay", "err", err)
			os.Exit(1)
		}
	}

	m := metrics.New()
	sim := game.New(syncproto.FieldDimensions{HalfX: cfg.FieldHalfX, HalfY: cfg.FieldHalfY, HalfZ: cfg.FieldHalfZ})
	bot := newBot(sim, cfg, logger)

	peer, err := session.NewPeer(session.PeerOptions{
		Config:   cfg,
		Sim:      sim,
		Observer: bot,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		logger.Error("failed to configure peer", "err", err)
		os.Exit(2)
	}
	bot.attach(peer.Controller())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv, err := serveMetrics(cfg.MetricsAddr, m, logger)
		if err != nil {
			logger.Error("failed to start metrics server", "err", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	go bot.drivePaddle(ctx, peer, cfg.PaddleSendInterval)

	// A signal leaves the match so the opponent hears player_left; the loop
	// is only cancelled outright if that fails.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			if err := peer.Leave(); err != nil {
				cancelRun()
			}
		case <-peer.Closed():
		}
	}()

	err = peer.Run(runCtx)
	switch {
	case err == nil:
		logger.Info("session ended")
	case errors.Is(err, context.Canceled):
		logger.Info("session cancelled")
	case errors.Is(err, session.ErrPeerLeft):
		logger.Info("opponent left the match")
	default:
		logger.Error("session failed", "err", err)
		os.Exit(1)
	}
}

func useRelayICEServers(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()
	servers, err := signaling.FetchICEServers(ctx, nil, cfg.SignalingURL, cfg.RoomID, cfg.Token, cfg.PeerID)
	if err != nil {
		return err
	}
	if err := config.ValidateICEServers(servers); err != nil {
		return err
	}
	if len(servers) == 0 {
		logger.Warn("relay returned no ice servers; keeping configured list")
		return nil
	}
	cfg.ICEServers = servers
	logger.Info("using relay ice servers", "count", len(servers))
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.PrometheusHandler(m, metrics.Exposition{Namespace: "pong_peer"}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server exited", "err", err)
		}
	}()
	logger.Info("metrics server serving", "addr", ln.Addr().String())
	return srv, nil
}
