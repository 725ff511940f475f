package webrtcpeer

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerFactory_BridgesToSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l := NewLoggerFactory(logger).NewLogger("ice")
	l.Warnf("pair %d failed", 3)
	l.Trace("hidden")

	out := buf.String()
	if !strings.Contains(out, "pair 3 failed") || !strings.Contains(out, "scope=ice") {
		t.Fatalf("unexpected output: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("trace output should be filtered at debug level: %q", out)
	}
}
