package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

func preserveLogGlobals(t *testing.T) {
	t.Helper()
	prev, prevLevel, prevDefault := log.Logger, zerolog.GlobalLevel(), zerolog.DefaultContextLogger
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
		zerolog.DefaultContextLogger = prevDefault
	})
}

func TestSetupLogger_FieldsAndLevel(t *testing.T) {
	preserveLogGlobals(t)
	var buf bytes.Buffer

	SetupLogger(LogOptions{Level: "warn", Service: "chat-bridge", Version: "v1.2.3", Out: &buf})

	log.Info().Msg("dropped")
	log.Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line must be filtered at warn level: %s", out)
	}
	for _, want := range []string{`"message":"kept"`, `"service":"chat-bridge"`, `"version":"v1.2.3"`, `"time":`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}

	// log.Ctx falls back to the configured logger for bare contexts
	buf.Reset()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Ctx(context.Background()).Info().Msg("from-ctx")
	if !strings.Contains(buf.String(), `"service":"chat-bridge"`) {
		t.Fatalf("context fallback did not use the service logger: %s", buf.String())
	}
}

func TestSetupLogger_Pretty(t *testing.T) {
	preserveLogGlobals(t)
	var buf bytes.Buffer

	SetupLogger(LogOptions{Level: "info", Pretty: true, Out: &buf})
	log.Info().Str("channel", "C1").Msg("relayed")

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") || !strings.Contains(out, "relayed") || !strings.Contains(out, "channel=C1") {
		t.Fatalf("expected console output, got %q", out)
	}
}

func TestTraceHook(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).Hook(TraceHook{})

	l.Info().Msg("no-ctx")
	l.Info().Ctx(context.Background()).Msg("no-span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Fatalf("trace fields without a span: %s", buf.String())
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03},
		SpanID:     trace.SpanID{0x0a},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	buf.Reset()
	l.Info().Ctx(ctx).Msg("with-span")
	out := buf.String()
	if !strings.Contains(out, `"trace_id":"`+sc.TraceID().String()+`"`) || !strings.Contains(out, `"span_id":"`+sc.SpanID().String()+`"`) {
		t.Fatalf("missing trace fields: %s", out)
	}
}
