// Package metricsexporter exposes Prometheus counters and gauges for the
// probe graph, the clause backend, and the discovery loop: PRID
// registrations, enabled clauses, tracepoint faults, and discovery tick
// duration (spec §4.A, §4.D, §4.F, §7).
package metricsexporter

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thesamesam/dtrace-utils/internal/config"
)

var (
	probesRegistered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dtrace_probes_registered",
			Help: "Number of probes currently registered, by provider.",
		},
		[]string{"provider"},
	)

	probesEnabled = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dtrace_probes_enabled",
			Help: "Number of probes with at least one enabled clause, by provider.",
		},
		[]string{"provider"},
	)

	clausesEnabled = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dtrace_clauses_enabled",
			Help: "Number of clauses currently enabled across all probes.",
		},
		[]string{"provider"},
	)

	tracepointCreateFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtrace_tracepoint_create_failures_total",
			Help: "Tracepoint creation failures, by backend and reason.",
		},
		[]string{"backend", "reason"},
	)

	faultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtrace_vm_faults_total",
			Help: "Trampoline VM faults recorded into the per-CPU fault ring, by kind.",
		},
		[]string{"kind"},
	)

	probeFiringsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtrace_probe_firings_total",
			Help: "Probe firings observed, by provider.",
		},
		[]string{"provider"},
	)

	discoveryTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dtrace_discovery_tick_seconds",
			Help:    "Duration of one pid/USDT discovery reconciliation pass.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
	)

	discoveryProcessesTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dtrace_discovery_processes_tracked",
			Help: "Number of live processes currently tracked by the discovery loop.",
		},
	)

	discoveryProbesAttached = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dtrace_discovery_probes_attached_total",
			Help: "pid/USDT probes attached as a result of discovery, by reason (new-process, exec, exit).",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(probesRegistered)
	prometheus.MustRegister(probesEnabled)
	prometheus.MustRegister(clausesEnabled)
	prometheus.MustRegister(tracepointCreateFailures)
	prometheus.MustRegister(faultsTotal)
	prometheus.MustRegister(probeFiringsTotal)
	prometheus.MustRegister(discoveryTickDuration)
	prometheus.MustRegister(discoveryProcessesTracked)
	prometheus.MustRegister(discoveryProbesAttached)
}

// SetProbesRegistered records the current probe count for a provider
// (spec §4.A registration).
func SetProbesRegistered(provider string, n int) {
	probesRegistered.WithLabelValues(provider).Set(float64(n))
}

// SetProbesEnabled records the current count of probes with at least one
// enabled clause, for a provider.
func SetProbesEnabled(provider string, n int) {
	probesEnabled.WithLabelValues(provider).Set(float64(n))
}

// SetClausesEnabled records the current enabled-clause count for a
// provider (bounded by the 64-bit selector width, spec §3).
func SetClausesEnabled(provider string, n int) {
	clausesEnabled.WithLabelValues(provider).Set(float64(n))
}

// RecordTracepointCreateFailure counts a tracepoint backend create/attach
// failure (spec §6), e.g. reason "kprobe-control-file" or "elf-symbol".
func RecordTracepointCreateFailure(backend, reason string) {
	tracepointCreateFailures.WithLabelValues(backend, reason).Inc()
}

// RecordFault counts one synthetic ERROR-probe firing drained from the
// per-CPU fault ring (spec §7); kind is e.g. "bad-address" or "illegal-op".
func RecordFault(kind string) {
	faultsTotal.WithLabelValues(kind).Inc()
}

// RecordProbeFiring counts one probe firing for a provider.
func RecordProbeFiring(provider string) {
	probeFiringsTotal.WithLabelValues(provider).Inc()
}

// ObserveDiscoveryTick records the wall-clock duration of one discovery
// reconciliation pass (spec §4.F) and the resulting tracked-process count.
func ObserveDiscoveryTick(d time.Duration, processesTracked int) {
	discoveryTickDuration.Observe(d.Seconds())
	discoveryProcessesTracked.Set(float64(processesTracked))
}

// RecordDiscoveryAttach counts a pid/USDT probe attached by the discovery
// loop, labeled by the reason it was attached.
func RecordDiscoveryAttach(reason string) {
	discoveryProbesAttached.WithLabelValues(reason).Inc()
}

var (
	limiter        = rate.NewLimiter(rate.Every(time.Second/time.Duration(config.RateLimitPerSec)), config.RateLimitBurst)
	maxRequestSize = config.MaxRequestSize
)

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxRequestSize {
			http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type Server struct {
	server *http.Server
}

func StartServer() *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", securityHeadersMiddleware(rateLimitMiddleware(promhttp.Handler())))

	addr := config.GetMetricsAddress()

	if host, _, err := net.SplitHostPort(addr); err == nil {
		if ip := net.ParseIP(host); ip != nil && !ip.IsLoopback() {
			if !config.AllowNonLoopbackMetrics() {
				fmt.Fprintf(os.Stderr, "Warning: rejecting non-loopback metrics address %q without DTRACE_METRICS_INSECURE_ALLOW_ANY_ADDR=1; falling back to %s:%d\n", addr, config.DefaultMetricsHost, config.DefaultMetricsPort)
				addr = config.DefaultMetricsHost + ":" + fmt.Sprintf("%d", config.DefaultMetricsPort)
			}
		}
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  config.DefaultMetricsReadTimeout,
		WriteTimeout: config.DefaultMetricsWriteTimeout,
	}

	srv := &Server{server: server}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "Panic in metrics server: %v\n", r)
			}
		}()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Metrics server error: %v\n", err)
		}
	}()

	return srv
}

func (s *Server) Shutdown() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), config.DefaultMetricsShutdownTimeout)
		defer cancel()
		s.server.Shutdown(ctx)
	}
}
