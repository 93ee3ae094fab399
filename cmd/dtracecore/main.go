// Command dtracecore starts a tracing session: it populates every
// provider, then runs the discovery loop on a fixed tick until
// interrupted, draining the session cleanly on shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thesamesam/dtrace-utils/internal/backend"
	"github.com/thesamesam/dtrace-utils/internal/config"
	"github.com/thesamesam/dtrace-utils/internal/discovery"
	"github.com/thesamesam/dtrace-utils/internal/logger"
	"github.com/thesamesam/dtrace-utils/internal/metricsexporter"
	"github.com/thesamesam/dtrace-utils/internal/session"
	"github.com/thesamesam/dtrace-utils/internal/tracing"
)

var (
	enableMetrics bool
	enableTracing bool
	logLevel      string
	tickInterval  time.Duration

	exitFunc = os.Exit
)

func main() {
	var tickIntervalFlag string

	rootCmd := &cobra.Command{
		Use:          "dtracecore",
		Short:        "in-kernel dynamic tracing session core",
		Long:         `dtracecore runs the probe discovery loop that backs a dynamic tracing session: provider population, USDT liveness pruning, and newly-inserted-probe enablement.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tickIntervalFlag != "" {
				d, err := time.ParseDuration(tickIntervalFlag)
				if err != nil {
					return fmt.Errorf("invalid tick interval: %w", err)
				}
				tickInterval = d
			}
			return run(cmd.Context())
		},
	}

	rootCmd.Flags().BoolVar(&enableMetrics, "metrics", false, "Enable Prometheus metrics server")
	rootCmd.Flags().BoolVar(&enableTracing, "tracing", config.TracingEnabled, "Enable distributed tracing of session/discovery spans")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error, fatal). Overrides DTRACE_LOG_LEVEL")
	rootCmd.Flags().StringVar(&tickIntervalFlag, "tick", config.DiscoveryTickInterval.String(), "Discovery loop tick interval")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if logLevel != "" {
			logger.SetLevel(logLevel)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command execution failed", zap.Error(err))
		exitFunc(1)
	}
	defer logger.Sync()
}

func run(ctx context.Context) error {
	var metricsServer *metricsexporter.Server
	if enableMetrics {
		metricsServer = metricsexporter.StartServer()
		defer metricsServer.Shutdown()
	}

	if enableTracing {
		config.TracingEnabled = true
	}
	tracer, err := tracing.NewManager()
	if err != nil {
		logger.Warn("failed to create tracing manager", zap.Error(err))
		tracer, _ = tracing.NewManager()
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	sess, err := session.New(backend.NewTraceFSController(), tracer)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	logger.Info("session active", zap.Duration("tick_interval", tickInterval))

	loop := discovery.NewLoop(sess, discovery.ProcLiveChecker{}).WithTracer(tracer)

	ticker := time.NewTicker(tickIntervalOrDefault())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := loop.Tick(runCtx); err != nil {
				logger.Warn("discovery tick failed", zap.Error(err))
			}
		case <-interruptChan():
			logger.Info("interrupt received, draining session")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := sess.Stop(stopCtx); err != nil {
				logger.Warn("session stop failed", zap.Error(err))
			}
			return nil
		}
	}
}

func tickIntervalOrDefault() time.Duration {
	if tickInterval > 0 {
		return tickInterval
	}
	return config.DiscoveryTickInterval
}

func interruptChan() <-chan os.Signal {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	return sig
}
