package main

import (
	"log/slog"
	"slices"
	"time"

	"github.com/PASBarbari/Trascendence-sub000/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.RelayConfig) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: PONG_RELAY_AUTH_MODE=none lets anyone join any room",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if cfg.AuthMode == config.AuthModeNone && cfg.TURNRESTEnabled() && len(cfg.TURNURLs) > 0 {
		logger.Warn("startup security warning: TURN credentials are minted for unauthenticated requests (anyone can relay traffic through the TURN server)",
			"warning_code", "turn_rest_without_auth",
			"turn_urls", cfg.TURNURLs,
			"mode", cfg.Mode,
		)
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: PONG_RELAY_ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.AuthMode == config.AuthModeJWT && len(cfg.JWTSecret) < 32 {
		logger.Warn("startup security warning: PONG_RELAY_JWT_SECRET is shorter than 32 bytes",
			"warning_code", "jwt_secret_short",
			"jwt_secret_len", len(cfg.JWTSecret),
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxMessagesPerSecond == 0 {
		logger.Warn("startup security warning: PONG_RELAY_MAX_MESSAGES_PER_SECOND is 0 (unlimited) while --mode=prod",
			"warning_code", "rate_limit_disabled_in_prod",
			"max_messages_per_second", cfg.MaxMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	// SDP offers are a few KiB; anything far beyond that only helps abuse.
	if cfg.MaxMessageBytes > 1<<20 {
		logger.Warn("startup security warning: PONG_RELAY_MAX_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_message_bytes_large",
			"max_message_bytes", cfg.MaxMessageBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.IdleTimeout > 10*time.Minute {
		logger.Warn("startup security warning: PONG_RELAY_IDLE_TIMEOUT is very large (dead sockets hold room slots longer)",
			"warning_code", "idle_timeout_large",
			"idle_timeout", cfg.IdleTimeout,
			"mode", cfg.Mode,
		)
	}
}
