package tracing

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/botparty/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetup_UnsupportedProtocol(t *testing.T) {
	_, err := Setup(context.Background(), config.TelemetryConfig{Enabled: true, Protocol: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}

func TestSetup_HTTPExporter(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{
		Enabled:  true,
		Protocol: "http",
		Endpoint: "127.0.0.1:1",
		Insecure: true,
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Nothing was recorded, so shutdown has nothing to flush.
	_ = shutdown(ctx)
}
