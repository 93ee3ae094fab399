// Package session implements the tracing session's control plane: the
// activity state machine, the PRID high-water mark discovery tracks
// against, the single error slot, and the session-wide compiled-clause
// registry (spec §4.F, §5, §7). It composes the provider registry, the
// probe graph, and the tracepoint backend into one session lifecycle.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/thesamesam/dtrace-utils/internal/alerting"
	"github.com/thesamesam/dtrace-utils/internal/backend"
	"github.com/thesamesam/dtrace-utils/internal/bvar"
	"github.com/thesamesam/dtrace-utils/internal/config"
	"github.com/thesamesam/dtrace-utils/internal/kmap"
	"github.com/thesamesam/dtrace-utils/internal/logger"
	"github.com/thesamesam/dtrace-utils/internal/metricsexporter"
	"github.com/thesamesam/dtrace-utils/internal/probe"
	"github.com/thesamesam/dtrace-utils/internal/provider"
	"github.com/thesamesam/dtrace-utils/internal/tracing"
	"github.com/thesamesam/dtrace-utils/internal/trampoline"
)

// Activity is the session-wide activity flag the trampoline's USDT
// dispatch tests before invoking each clause (spec §4.D (g), spec §7
// "The session's activity flag is the sole early-exit signal").
type Activity int32

const (
	ActivityInactive Activity = iota
	ActivityActive
	ActivityDraining
	ActivityStopped
)

func (a Activity) String() string {
	switch a {
	case ActivityInactive:
		return "inactive"
	case ActivityActive:
		return "active"
	case ActivityDraining:
		return "draining"
	case ActivityStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session is the single-threaded control-plane owner (spec §5 "All
// provider registry, graph, and discovery operations run on one thread;
// there are no locks inside the core"). The mutex here guards only the
// activity flag, error slot, high-water mark and raw-error list, which
// data-plane-adjacent goroutines (metrics polling, signal handling) may
// read concurrently.
type Session struct {
	mu       sync.Mutex
	activity Activity
	errSlot  *SessionError

	Graph    *probe.Graph
	Registry *provider.Registry
	dtrace   *provider.DtraceProvider
	Backend  backend.Controller
	USDT     *kmap.USDTTable

	prids *probe.PRIDAllocator

	// highWater is the PRID value recorded at the end of the previous
	// discovery tick; probes above it are "newly-inserted" (spec §4.F
	// step 4).
	highWater probe.PRID

	tracer *tracing.Manager
	alerts *alerting.Manager

	rawErrors []error
}

// New bootstraps a session: raises RLIMIT_MEMLOCK the way loading a real
// kernel VM program requires, constructs the probe graph and provider
// registry, and registers the fixed provider set in the order spec §4.A
// requires ("dtrace" first).
func New(b backend.Controller, tracer *tracing.Manager) (*Session, error) {
	raiseMemlock()

	prids := probe.NewPRIDAllocator()
	graph := probe.NewGraph(prids)
	registry := provider.NewRegistry()
	usdtTable := kmap.NewUSDTTable(kmap.NewMemMap())

	// Shared across the pid and USDT provider instances so ignore_clause's
	// provider-shape decision (spec §4.D `ClassifyClause`) is computed at
	// most once per provider string for the whole session, regardless of
	// which provider instance's underlying probes first reference it.
	clauseCache := trampoline.NewClauseCache()

	dtraceProv := provider.NewDtraceProvider()
	registry.Register(dtraceProv)
	registry.Register(provider.NewRawFBTProvider(b, provider.NewKallsymsResolver()))
	registry.Register(provider.NewPIDProvider(b, clauseCache))
	registry.Register(provider.NewUSDTProvider(b, usdtTable, clauseCache))

	alerts, err := alerting.NewManager()
	if err != nil {
		logger.Warn("failed to create alert manager, faults will only be logged", zap.Error(err))
		alerts = nil
	}

	return &Session{
		activity: ActivityInactive,
		Graph:    graph,
		Registry: registry,
		dtrace:   dtraceProv,
		Backend:  b,
		USDT:     usdtTable,
		prids:    prids,
		tracer:   tracer,
		alerts:   alerts,
	}, nil
}

// raiseMemlock increases RLIMIT_MEMLOCK so kernel map/program allocation
// does not fail under the default limit, falling back to removing the
// limit entirely on cgroup v2 kernels the way rlimit.RemoveMemlock does.
func raiseMemlock() {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlim); err != nil {
		if err := rlimit.RemoveMemlock(); err != nil {
			logger.Warn("failed to remove memlock limit", zap.Error(err))
		}
		return
	}
	if rlim.Cur >= config.MemlockLimitBytes {
		return
	}
	if rlim.Max < config.MemlockLimitBytes {
		rlim.Max = config.MemlockLimitBytes
	}
	rlim.Cur = config.MemlockLimitBytes
	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &rlim); err != nil {
		if err := rlimit.RemoveMemlock(); err != nil {
			logger.Warn("failed to raise memlock limit", zap.Error(err))
		}
	}
}

// Start begins a session: populates every provider (spec §4.A
// `populate`, aborting on the first failure without releasing providers
// already populated), marks the session active and records the PRID
// high-water mark. The BEGIN probe's PRID is logged; no probe is fired.
func (s *Session) Start(ctx context.Context) error {
	ctx, end := s.tracer.StartSession(ctx, fmt.Sprintf("pid-%d", os.Getpid()))

	if err := s.Registry.PopulateAll(ctx, s.Graph); err != nil {
		sErr := NewSessionError(ErrBPFError, "populate failed, session start aborted", err)
		s.setError(sErr)
		end(sErr)
		return sErr
	}

	s.setActivity(ActivityActive)
	for providerName, n := range probeCountByProvider(s.Graph, s.Registry) {
		metricsexporter.SetProbesRegistered(providerName, n)
	}
	s.highWater = s.prids.HighWater()

	logger.Info("session started", zap.Uint32("begin_prid", uint32(s.dtrace.BeginPRID())))
	end(nil)
	return nil
}

// Stop drains the session: disables every enabled overlying probe,
// detaches every underlying site, and marks the session stopped. The END
// probe's PRID is logged; no probe is fired.
func (s *Session) Stop(ctx context.Context) error {
	s.setActivity(ActivityDraining)

	for _, o := range append([]*probe.Overlying(nil), s.Graph.Enablings()...) {
		p, ok := s.Registry.Lookup(o.Provider)
		if !ok {
			continue
		}
		for _, u := range o.Underlying {
			if err := p.Detach(u); err != nil {
				logger.Warn("detach failed during stop", zap.String("probe", o.Desc.String()), zap.Error(err))
			}
		}
		p.ProbeDestroy(o)
		s.Graph.Disable(o)
	}

	s.setActivity(ActivityStopped)
	logger.Info("session stopped", zap.Uint32("end_prid", uint32(s.dtrace.EndPRID())))
	return nil
}

// Activity returns the current activity flag.
func (s *Session) Activity() Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity
}

func (s *Session) setActivity(a Activity) {
	s.mu.Lock()
	s.activity = a
	s.mu.Unlock()
}

// Error returns the session's single error slot, or nil.
func (s *Session) Error() *SessionError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errSlot
}

func (s *Session) setError(err *SessionError) {
	s.mu.Lock()
	s.errSlot = err
	s.mu.Unlock()
}

// HighWater returns the PRID high-water mark recorded at the last
// discovery tick boundary (spec §4.F step 4).
func (s *Session) HighWater() probe.PRID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highWater
}

// AdvanceHighWater records the current PRID counter as the new
// high-water mark, called once per discovery tick after newly-inserted
// probes have been enabled.
func (s *Session) AdvanceHighWater() {
	s.mu.Lock()
	s.highWater = s.prids.HighWater()
	s.mu.Unlock()
}

// RaiseFault routes a data-plane fault into the session's raw-error
// channel, counts it in the fault metric, logs its (epid, fault-kind,
// illegal-value) and posts an alert when alerting is enabled. It does not
// fire the dtrace ERROR probe. It never returns an error: faults are
// reported, not propagated.
func (s *Session) RaiseFault(f *bvar.Fault) {
	s.mu.Lock()
	s.rawErrors = append(s.rawErrors, f)
	s.mu.Unlock()

	metricsexporter.RecordFault(string(f.Kind))
	logger.Warn("probe firing fault",
		zap.Uint32("epid", f.EPID),
		zap.String("kind", string(f.Kind)),
		zap.Uint64("illegal_value", f.IllValue))

	if s.alerts != nil && s.alerts.IsEnabled() {
		s.alerts.SendAlert(&alerting.Alert{
			Severity:  alerting.SeverityWarning,
			Title:     "probe firing fault",
			Message:   f.Error(),
			Timestamp: time.Now(),
			Source:    "dtracecore",
			ErrorCode: string(f.Kind),
		})
	}
}

// RawErrors returns every fault and non-fatal provider error recorded
// this session, oldest first (spec §7 "the session's raw-error channel").
func (s *Session) RawErrors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.rawErrors...)
}

func (s *Session) logProbeError(desc string, kind ErrKind, err error) {
	pe := &ProbeError{Description: desc, Kind: kind, Err: err}
	s.mu.Lock()
	s.rawErrors = append(s.rawErrors, pe)
	s.mu.Unlock()
	logger.Warn("probe error", zap.String("probe", desc), zap.String("kind", kind.String()), zap.Error(err))
}

func probeCountByProvider(g *probe.Graph, r *provider.Registry) map[string]int {
	counts := make(map[string]int)
	for _, p := range r.Ordered() {
		counts[p.Name()] = 0
	}
	for _, o := range g.Enablings() {
		counts[o.Provider]++
	}
	return counts
}
