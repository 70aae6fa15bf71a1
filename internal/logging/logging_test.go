package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	cases := []struct {
		level       string
		wantDebug   bool
		wantInfo    bool
		description string
	}{
		{"debug", true, true, "debug enables everything"},
		{"info", false, true, "info is the default gate"},
		{"error", false, false, "error suppresses info"},
		{"bogus", false, true, "unknown level falls back to info"},
		{"", false, true, "empty level falls back to info"},
	}
	for _, tc := range cases {
		logger := New(tc.level, "text")
		if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tc.wantDebug {
			t.Errorf("%s: debug enabled = %v, want %v", tc.description, got, tc.wantDebug)
		}
		if got := logger.Enabled(context.Background(), slog.LevelInfo); got != tc.wantInfo {
			t.Errorf("%s: info enabled = %v, want %v", tc.description, got, tc.wantInfo)
		}
	}
}

func TestNew_Formats(t *testing.T) {
	if New("info", "json") == nil || New("info", "text") == nil {
		t.Fatal("expected logger for both formats")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if id := RequestID(ctx); id != "" {
		t.Errorf("fresh context: got %q, want empty", id)
	}

	ctx = WithRequestID(ctx, "req-123")
	if id := RequestID(ctx); id != "req-123" {
		t.Errorf("got %q, want req-123", id)
	}

	ctx = WithRequestID(ctx, "req-456")
	if id := RequestID(ctx); id != "req-456" {
		t.Errorf("latest id should win, got %q", id)
	}
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected default logger")
	}

	custom := New("debug", "json")
	ctx := WithLogger(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Error("expected the stored logger back")
	}
}

func TestL_AttachesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-789")

	L(ctx).Info("verifying payment")
	if !strings.Contains(buf.String(), "request_id=req-789") {
		t.Errorf("expected request_id in output, got %q", buf.String())
	}
}

func TestL_NoRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	L(ctx).Info("sweep complete")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("did not expect request_id in output, got %q", buf.String())
	}
}
