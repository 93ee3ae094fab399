package exporter

import (
	"context"
	"errors"
	"testing"
)

func TestNewOTLPExporter_EmptyEndpoint(t *testing.T) {
	exporter, err := NewOTLPExporter("")
	if err != nil {
		t.Fatalf("NewOTLPExporter() error = %v", err)
	}
	if exporter == nil {
		t.Fatal("NewOTLPExporter() returned nil")
	}
	defer func() { _ = exporter.Shutdown(context.Background()) }()
}

func TestOTLPExporter_StartSpan_Nil(t *testing.T) {
	var e *OTLPExporter
	_, end := e.StartSpan(context.Background(), "session.start")
	end(nil)
}

func TestOTLPExporter_StartSpan_Disabled(t *testing.T) {
	e := &OTLPExporter{enabled: false}
	_, end := e.StartSpan(context.Background(), "discovery.tick")
	end(errors.New("boom"))
}

func TestOTLPExporter_Shutdown_Nil(t *testing.T) {
	var e *OTLPExporter
	if err := e.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() on nil exporter should be a no-op, got %v", err)
	}
}
