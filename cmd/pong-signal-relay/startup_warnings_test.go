package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PASBarbari/Trascendence-sub000/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	return slog.New(h), func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	return &recordingHandler{
		mu:      h.mu,
		records: h.records,
		attrs:   append([]slog.Attr(nil), h.attrs...),
		groups:  append([]string(nil), h.groups...),
	}
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := make(map[string]recordedLog)
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupSecurityWarnings_AuthModeNone(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.RelayConfig{
		Logging:              config.Logging{Mode: config.ModeDev},
		AuthMode:             config.AuthModeNone,
		MaxMessageBytes:      config.DefaultRelayMaxMessageBytes,
		MaxMessagesPerSecond: config.DefaultRelayMaxMessagesPerSecond,
		IdleTimeout:          config.DefaultRelayIdleTimeout,
	})

	codes := warningCodes(records())
	r, ok := codes["auth_mode_none"]
	if !ok {
		t.Fatalf("expected warning_code=auth_mode_none, got %#v", records())
	}
	if r.attrs["auth_mode"] != config.AuthModeNone {
		t.Fatalf("auth_mode attr = %#v, want %q", r.attrs["auth_mode"], config.AuthModeNone)
	}
	if len(codes) != 1 {
		t.Fatalf("unexpected extra warnings: %#v", codes)
	}
}

func TestStartupSecurityWarnings_ProdHardening(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.RelayConfig{
		Logging:              config.Logging{Mode: config.ModeProd},
		AuthMode:             config.AuthModeJWT,
		JWTSecret:            "short",
		AllowedOrigins:       []string{"*"},
		MaxMessageBytes:      4 << 20,
		MaxMessagesPerSecond: 0,
		IdleTimeout:          time.Hour,
	})

	codes := warningCodes(records())
	for _, want := range []string{
		"allowed_origins_wildcard",
		"jwt_secret_short",
		"rate_limit_disabled_in_prod",
		"max_message_bytes_large",
		"idle_timeout_large",
	} {
		if _, ok := codes[want]; !ok {
			t.Fatalf("expected warning_code=%s, got %#v", want, codes)
		}
	}
	if _, ok := codes["auth_mode_none"]; ok {
		t.Fatal("auth_mode_none should not fire in jwt mode")
	}
}

func TestStartupSecurityWarnings_TURNWithoutAuth(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.RelayConfig{
		AuthMode:       config.AuthModeNone,
		TURNURLs:       []string{"turn:turn.example:3478"},
		TURNRESTSecret: "shared",
	})

	if _, ok := warningCodes(records())["turn_rest_without_auth"]; !ok {
		t.Fatalf("expected warning_code=turn_rest_without_auth, got %#v", records())
	}
}
