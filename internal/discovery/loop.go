// Package discovery implements the periodic reconciliation pass driving
// provider discovery, USDT liveness pruning, and newly-inserted-probe
// enablement (spec §4.F).
package discovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thesamesam/dtrace-utils/internal/logger"
	"github.com/thesamesam/dtrace-utils/internal/metricsexporter"
	"github.com/thesamesam/dtrace-utils/internal/probe"
	"github.com/thesamesam/dtrace-utils/internal/session"
	"github.com/thesamesam/dtrace-utils/internal/tracing"
)

// PIDLiveChecker reports whether a pid still refers to a live process,
// the seam discovery uses instead of touching /proc directly so tests
// can fake process liveness.
type PIDLiveChecker interface {
	Exists(pid uint32) bool
}

// Loop drives one tick at a time; the caller decides the tick cadence
// (spec §4.F "Per session tick").
type Loop struct {
	sess   *session.Session
	live   PIDLiveChecker
	tracer *tracing.Manager
}

func NewLoop(sess *session.Session, live PIDLiveChecker) *Loop {
	return &Loop{sess: sess, live: live}
}

// WithTracer attaches an OpenTelemetry manager so each tick gets its own
// span, mirroring the per-session span opened by Session.Start.
func (l *Loop) WithTracer(t *tracing.Manager) *Loop {
	l.tracer = t
	return l
}

// Tick runs the four discovery steps in order (spec §4.F).
func (l *Loop) Tick(ctx context.Context) error {
	if l.tracer != nil {
		var end func(error)
		ctx, end = l.tracer.StartDiscoveryTick(ctx)
		defer func() { end(nil) }()
	}

	start := time.Now()
	processesTracked := l.pruneStaleUSDTBindings()
	l.disableDeadUSDTEnablings()

	if err := l.runProviderDiscover(ctx); err != nil {
		logger.Warn("discovery: provider discover error", zap.Error(err))
	}

	attached := l.enableNewlyInsertedProbes()
	l.sess.AdvanceHighWater()

	metricsexporter.ObserveDiscoveryTick(time.Since(start), processesTracked)
	for i := 0; i < attached; i++ {
		metricsexporter.RecordDiscoveryAttach("new-probe")
	}
	return nil
}

// pruneStaleUSDTBindings implements step 1: iterate usdt_prids, queue
// keys whose pid is no longer live, then delete them after iteration so
// key iteration itself is never disturbed (spec §4.F step 1).
func (l *Loop) pruneStaleUSDTBindings() int {
	keys := l.sess.USDT.Keys()

	live := make(map[uint32]bool)
	for _, k := range keys {
		if _, seen := live[k.PID]; !seen {
			live[k.PID] = l.live.Exists(k.PID)
		}
	}

	deleted := 0
	for _, k := range keys {
		if live[k.PID] {
			continue
		}
		if err := l.sess.USDT.Delete(k.PID, k.UnderlyingPRID); err != nil {
			logger.Warn("discovery: failed to prune stale usdt binding",
				zap.Uint32("pid", k.PID), zap.Uint32("underlying_prid", k.UnderlyingPRID), zap.Error(err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		logger.Debug("discovery: pruned stale usdt bindings", zap.Int("count", deleted))
	}

	tracked := 0
	for _, alive := range live {
		if alive {
			tracked++
		}
	}
	return tracked
}

// disableDeadUSDTEnablings implements step 2: any enabled overlying USDT
// probe whose process has exited is disabled (spec §4.F step 2).
func (l *Loop) disableDeadUSDTEnablings() {
	for _, o := range append([]*probe.Overlying(nil), l.sess.Graph.Enablings()...) {
		if !o.IsUSDT {
			continue
		}
		pid, ok := usdtPID(o.Desc)
		if !ok || l.live.Exists(pid) {
			continue
		}
		l.sess.Graph.Disable(o)
		logger.Debug("discovery: disabled usdt probe for dead pid", zap.String("probe", o.Desc.String()), zap.Uint32("pid", pid))
	}
}

func usdtPID(desc probe.Description) (uint32, bool) {
	var pid uint32
	if _, err := fmt.Sscanf(desc.Module, "%d", &pid); err != nil {
		return 0, false
	}
	return pid, true
}

// runProviderDiscover implements step 3: ask every registered provider
// to reconcile its probe set against currently-matching processes (spec
// §4.F step 3). Errors are logged but never stop the loop.
func (l *Loop) runProviderDiscover(ctx context.Context) error {
	var firstErr error
	for _, p := range l.sess.Registry.Ordered() {
		if err := p.Discover(ctx, l.sess.Graph); err != nil {
			logger.Warn("discovery: provider discover failed", zap.String("provider", p.Name()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// enableNewlyInsertedProbes implements step 4: every probe whose PRID is
// above the high-water mark gets enable then add_probe called on its
// provider. Compile/load/attach errors are non-fatal per-probe (spec
// §4.F step 4).
func (l *Loop) enableNewlyInsertedProbes() int {
	attached := 0
	highWater := l.sess.HighWater()

	for _, o := range allOverlyingAbove(l.sess.Graph, highWater) {
		p, ok := l.sess.Registry.Lookup(o.Provider)
		if !ok {
			continue
		}
		if err := p.Enable(l.sess.Graph, o); err != nil {
			logger.Warn("discovery: enable failed", zap.String("probe", o.Desc.String()), zap.Error(err))
			continue
		}
		if err := p.AddProbe(o); err != nil {
			logger.Warn("discovery: add_probe failed, probe left disabled", zap.String("probe", o.Desc.String()), zap.Error(err))
			continue
		}
		metricsexporter.SetProbesEnabled(o.Provider, 1)
		attached++
	}
	return attached
}

// allOverlyingAbove returns every overlying probe whose PRID exceeds
// highWater, the discovery loop's notion of "newly-inserted".
func allOverlyingAbove(g *probe.Graph, highWater probe.PRID) []*probe.Overlying {
	var out []*probe.Overlying
	for prid := highWater + 1; prid <= g.HighWater(); prid++ {
		if o, ok := g.LookupPRID(prid); ok {
			out = append(out, o)
		}
	}
	return out
}
