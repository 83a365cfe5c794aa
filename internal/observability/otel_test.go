package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tbourn/chat-bridge/internal/config"
)

// restoreOTel puts the global provider and propagator back after the test.
func restoreOTel(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func otelCfg(insecure bool, ratio float64) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    insecure,
		Endpoint:    "localhost:4317",
		ServiceName: "chat-bridge",
		SampleRatio: ratio,
	}
}

func TestSetupOTel_DisabledLeavesGlobals(t *testing.T) {
	restoreOTel(t)
	prev := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Endpoint: "ignored:4317"}, "v0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Fatalf("disabled tracing must not replace the provider")
	}
}

func TestSetupOTel_InstallsProviderAndPropagator(t *testing.T) {
	for name, insecure := range map[string]bool{"insecure": true, "tls": false} {
		t.Run(name, func(t *testing.T) {
			restoreOTel(t)

			shutdown, err := SetupOTel(context.Background(), otelCfg(insecure, 1), "v1.2.3")
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			t.Cleanup(func() { _ = shutdown(context.Background()) })

			if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
				t.Fatalf("expected *sdktrace.TracerProvider, got %T", otel.GetTracerProvider())
			}

			ctx, span := otel.Tracer("relay").Start(context.Background(), "relay.dispatch")
			defer span.End()
			if !span.SpanContext().IsSampled() {
				t.Fatalf("ratio 1 must sample root spans")
			}

			carrier := propagation.MapCarrier{}
			otel.GetTextMapPropagator().Inject(ctx, carrier)
			if carrier.Get("traceparent") == "" {
				t.Fatalf("traceparent not injected: %v", carrier)
			}
		})
	}
}

func TestSetupOTel_RatioZeroDropsRootSpans(t *testing.T) {
	restoreOTel(t)

	shutdown, err := SetupOTel(context.Background(), otelCfg(true, 0), "v1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := otel.Tracer("relay").Start(context.Background(), "relay.dispatch")
	defer span.End()
	if span.SpanContext().IsSampled() {
		t.Fatalf("ratio 0 must not sample root spans")
	}
}

func TestSetupOTel_CanceledContextAndShutdown(t *testing.T) {
	restoreOTel(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // the gRPC exporter connects lazily

	shutdown, err := SetupOTel(ctx, otelCfg(true, 1), "v1")
	if err != nil {
		t.Fatalf("unexpected err with canceled ctx: %v", err)
	}
	sctx, scancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer scancel()
	if err := shutdown(sctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupOTel_ConstructorErrorsKeepGlobals(t *testing.T) {
	origExp, origRes := newOTLPExporterFn, newServiceResourceFn
	t.Cleanup(func() { newOTLPExporterFn, newServiceResourceFn = origExp, origRes })

	cases := map[string]func(){
		"exporter": func() {
			newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
				return nil, errors.New("exporter down")
			}
		},
		"resource": func() {
			newServiceResourceFn = func(context.Context, string, string) (*resource.Resource, error) {
				return nil, errors.New("resource detect failed")
			}
		},
	}
	for name, breakIt := range cases {
		t.Run(name, func(t *testing.T) {
			restoreOTel(t)
			newOTLPExporterFn, newServiceResourceFn = origExp, origRes
			breakIt()

			prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
			if _, err := SetupOTel(context.Background(), otelCfg(true, 1), "v0"); err == nil {
				t.Fatalf("expected error")
			}
			if otel.GetTracerProvider() != prevTP || otel.GetTextMapPropagator() != prevProp {
				t.Fatalf("globals changed on failure")
			}
		})
	}
}

func TestServiceResource_Attributes(t *testing.T) {
	res, err := newServiceResourceFn(context.Background(), "chat-bridge", "v2.0.0")
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	want := map[string]string{
		string(semconv.ServiceNameKey):    "chat-bridge",
		string(semconv.ServiceVersionKey): "v2.0.0",
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %q, want %q", k, got[k], v)
		}
	}
	if got[string(semconv.HostNameKey)] == "" {
		t.Fatalf("host.name not detected: %v", got)
	}
}
