package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNopTracer(t *testing.T) {
	tracer := NopTracer()
	ctx := context.Background()
	ctx2, span := tracer.StartSpan(ctx, "test")
	if ctx2 != ctx {
		t.Fatalf("nop tracer should return same context")
	}
	span.SetTag("key", "value")
	span.SetError(nil)
	span.Finish()
}

func TestSlogLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := NewSlogLogger(slog.New(h)).With(String("component", "engine"))

	log.Debug("state", String("from", "Header"), Int("page", 3), Int64("offset", 1024), Bool("linearized", true))
	log.Warn("fallback", Error("err", errors.New("bad hint stream")))

	out := buf.String()
	for _, want := range []string{
		"component=engine", "from=Header", "page=3", "offset=1024", "linearized=true",
		`err="bad hint stream"`, "level=WARN",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestNewSlogLoggerNilUsesDefault(t *testing.T) {
	if NewSlogLogger(nil) == nil {
		t.Fatalf("expected a logger")
	}
}
