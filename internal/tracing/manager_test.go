package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/thesamesam/dtrace-utils/internal/config"
)

func TestNewManager_Disabled(t *testing.T) {
	original := config.TracingEnabled
	config.TracingEnabled = false
	defer func() { config.TracingEnabled = original }()

	manager, err := NewManager()
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if manager == nil {
		t.Fatal("NewManager() returned nil")
	}
	if manager.enabled {
		t.Error("Manager should be disabled when TracingEnabled is false")
	}
}

func TestManager_StartSession_Disabled(t *testing.T) {
	manager := &Manager{enabled: false}
	ctx, end := manager.StartSession(context.Background(), "sess-1")
	if ctx == nil {
		t.Fatal("StartSession() returned nil context")
	}
	end(nil)
}

func TestManager_StartDiscoveryTick_Disabled(t *testing.T) {
	manager := &Manager{enabled: false}
	ctx, end := manager.StartDiscoveryTick(context.Background())
	if ctx == nil {
		t.Fatal("StartDiscoveryTick() returned nil context")
	}
	end(errors.New("boom"))
}

func TestManager_Shutdown_Disabled(t *testing.T) {
	manager := &Manager{enabled: false}
	if err := manager.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewManager_Enabled(t *testing.T) {
	originalTracing := config.TracingEnabled
	originalEndpoint := config.OTLPEndpoint
	config.TracingEnabled = true
	config.OTLPEndpoint = "http://localhost:4318"
	defer func() {
		config.TracingEnabled = originalTracing
		config.OTLPEndpoint = originalEndpoint
	}()

	manager, err := NewManager()
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if manager == nil {
		t.Fatal("NewManager() returned nil")
	}
	if !manager.enabled {
		t.Error("Manager should be enabled when TracingEnabled is true")
	}

	ctx, end := manager.StartSession(context.Background(), "sess-2")
	if ctx == nil {
		t.Fatal("StartSession() returned nil context")
	}
	end(nil)

	if err := manager.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
