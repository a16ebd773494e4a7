package obslog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

// countingHandler counts Handle calls and satisfies slog.Handler so
// fanoutHandler's fan-out to both its console and otel handlers can be
// verified without a real OTel exporter.
type countingHandler struct {
	calls *int
}

func (h countingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h countingHandler) Handle(context.Context, slog.Record) error {
	*h.calls++
	return nil
}
func (h countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h countingHandler) WithGroup(string) slog.Handler      { return h }

func TestFanoutHandlerHandlesBothSinks(t *testing.T) {
	t.Parallel()
	var consoleCalls, otelCalls int
	h := fanoutHandler{
		console: countingHandler{calls: &consoleCalls},
		otel:    countingHandler{calls: &otelCalls},
	}

	logger := slog.New(h)
	logger.Info("hello")

	if consoleCalls != 1 {
		t.Fatalf("console handler calls = %d, want 1", consoleCalls)
	}
	if otelCalls != 1 {
		t.Fatalf("otel handler calls = %d, want 1", otelCalls)
	}
}

func TestFanoutHandlerWithAttrsPropagatesToBothSinks(t *testing.T) {
	t.Parallel()
	var consoleCalls, otelCalls int
	h := fanoutHandler{
		console: countingHandler{calls: &consoleCalls},
		otel:    countingHandler{calls: &otelCalls},
	}

	derived := h.WithAttrs([]slog.Attr{slog.String("k", "v")}).(fanoutHandler)
	logger := slog.New(derived)
	logger.Info("hello")

	if consoleCalls != 1 || otelCalls != 1 {
		t.Fatalf("console=%d otel=%d, want 1 and 1", consoleCalls, otelCalls)
	}
}

func TestNewWritesRotatedFileAlongsideStderr(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "mediaproxy.log")

	logger := New("info", path)
	logger.Info("hello from the proxy")

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lumberjack to create %s: %v", path, err)
	}
}

func TestNewWithoutFilePathDoesNotPanic(t *testing.T) {
	t.Parallel()
	logger := New("debug", "")
	logger.Debug("stderr only")
}

func TestNewTracerProviderAndTracer(t *testing.T) {
	t.Parallel()
	tp, shutdown, err := NewTracerProvider("", "0.0.0-test")
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}
	defer shutdown(context.Background())

	if tp == nil {
		t.Fatal("NewTracerProvider returned a nil provider")
	}

	tr := Tracer()
	_, span := tr.Start(context.Background(), "test-span")
	span.End()
}
