// Package tracing wraps session lifecycle and discovery-loop ticks in
// OpenTelemetry spans: one span per session start and one per
// discovery tick (spec §4.F), rather than the per-request spans a
// typical HTTP service would emit.
package tracing

import (
	"context"

	"go.uber.org/zap"

	"github.com/thesamesam/dtrace-utils/internal/config"
	"github.com/thesamesam/dtrace-utils/internal/logger"
	"github.com/thesamesam/dtrace-utils/internal/tracing/exporter"
)

type Manager struct {
	enabled bool
	otlp    *exporter.OTLPExporter
}

func NewManager() (*Manager, error) {
	if !config.TracingEnabled {
		return &Manager{enabled: false}, nil
	}

	otlp, err := exporter.NewOTLPExporter(config.OTLPEndpoint)
	if err != nil {
		logger.Warn("failed to create OTLP exporter", zap.Error(err))
		return &Manager{enabled: false}, nil
	}

	return &Manager{enabled: true, otlp: otlp}, nil
}

// StartSession opens the "session.start" span covering session start
// (spec §4.C session states); the caller ends it when start completes.
func (m *Manager) StartSession(ctx context.Context, sessionID string) (context.Context, func(error)) {
	if !m.enabled {
		return ctx, func(error) {}
	}
	return m.otlp.StartSpan(ctx, "session.start")
}

// StartDiscoveryTick opens one span per reconciliation pass of the
// pid/USDT discovery loop (spec §4.F).
func (m *Manager) StartDiscoveryTick(ctx context.Context) (context.Context, func(error)) {
	if !m.enabled {
		return ctx, func(error) {}
	}
	return m.otlp.StartSpan(ctx, "discovery.tick")
}

func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.enabled || m.otlp == nil {
		return nil
	}
	return m.otlp.Shutdown(ctx)
}
