package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/robertclapp/accessai-sub004/am"
	"github.com/robertclapp/accessai-sub004/errors"
	"github.com/robertclapp/accessai-sub004/logger"
	"github.com/robertclapp/accessai-sub004/notify"
	"github.com/robertclapp/accessai-sub004/pulse/schedule"
	"github.com/robertclapp/accessai-sub004/sym"
	"github.com/robertclapp/accessai-sub004/version"
)

// ServeCmd runs the scheduler in the foreground
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: sym.Scheduler + " Run the scheduler daemon",
	Long: sym.Scheduler + ` Run the scheduler daemon in the foreground.

The daemon will:
- Close execution records left running by a previous process
- Register the built-in jobs and restore their persisted state
- Tick the scheduler every scheduler.tick_interval_seconds
- Deliver winner notifications (log, plus Telegram when configured)
- Serve prometheus metrics on metrics.addr
- Reload per-job enabled overrides when the config file changes
- Run until interrupted (Ctrl+C), letting in-flight runs finish`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().String("metrics-addr", "", "Override metrics.addr (empty string from config disables the endpoint)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = cmd.Flags().GetString("metrics-addr")
	}

	log := logger.ComponentLogger("serve")
	logger.AddOpenSymbol(log).Infow("Starting accessai", version.Get().LogFields()...)

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger := schedule.NewExecutionStore(database)
	if n, err := ledger.AbandonRunning(ctx, time.Now()); err != nil {
		return errors.Wrap(err, "failed to close abandoned executions")
	} else if n > 0 {
		logger.SchedulerWarnw("Closed executions left running by a previous process", "count", n)
	}

	notifier, err := newNotifier(cfg, log)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(notifier, notify.DispatcherConfig{
		QueueSize:     cfg.Notify.QueueSize,
		RatePerMinute: cfg.Notify.RatePerMinute,
	}, log)
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := newApp(ctx, cfg, database, appOptions{registry: registry, enqueuer: dispatcher})
	if err != nil {
		stopDispatch()
		return err
	}

	ticker := schedule.NewTickerWithContext(ctx, a.scheduler, schedule.TickerConfig{
		Interval: cfg.Scheduler.TickInterval(),
	}, log)
	ticker.Start()

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		metricsServer = newMetricsServer(cfg.Metrics.Addr, registry)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("Metrics server failed", "addr", cfg.Metrics.Addr, logger.FieldError, err)
			}
		}()
	}

	watcher := startConfigWatcher(ctx, a)

	fmt.Printf("%s accessai scheduler started\n", sym.Open)
	for _, st := range a.scheduler.Status() {
		fmt.Printf("  %-28s %-14s enabled=%t\n", st.ID, st.Schedule, st.Enabled)
	}
	fmt.Printf("  Tick interval: %v\n", cfg.Scheduler.TickInterval())
	if metricsServer != nil {
		fmt.Printf("  Metrics: http://%s/metrics\n", cfg.Metrics.Addr)
	}
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Scheduler)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Printf("\n%s Shutting down, waiting for running jobs...\n", sym.Close)

	// Reverse order of startup: nothing new is triggered once the ticker stops
	if watcher != nil {
		watcher.Stop()
	}
	ticker.Stop()

	// Give queued notifications from the last runs a moment to go out
	drainNotifications(dispatcher, 5*time.Second)
	stopDispatch()
	<-dispatchDone

	if metricsServer != nil {
		stopMetricsServer(metricsServer, 5*time.Second, log)
	}

	stats := dispatcher.Stats()
	logger.AddCloseSymbol(log).Infow("Stopped, notification totals",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped)

	fmt.Printf("%s accessai scheduler stopped\n", sym.Close)
	return nil
}

func newMetricsServer(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// stopMetricsServer shuts the metrics endpoint down, waiting up to timeout for
// in-flight scrapes. A failed shutdown is logged, not returned.
func stopMetricsServer(srv *http.Server, timeout time.Duration, log *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnw("Metrics server shutdown error", "addr", srv.Addr, logger.FieldError, err)
	}
}

// startConfigWatcher reapplies per-job enabled overrides when the config file changes.
// Returns nil when there is no config file to watch.
func startConfigWatcher(ctx context.Context, a *app) *am.ConfigWatcher {
	path := am.FindConfigFile()
	if path == "" {
		logger.Debugw("No config file found, config reload disabled")
		return nil
	}

	watcher, err := am.NewConfigWatcher(path)
	if err != nil {
		logger.Warnw("Config reload disabled", "path", path, logger.FieldError, err)
		return nil
	}
	am.SetGlobalWatcher(watcher)

	watcher.OnReload(func(cfg *am.Config) error {
		return applyEnabledOverrides(ctx, a.scheduler, cfg)
	})
	watcher.Start()
	logger.Infow("Watching config for job overrides", "path", path)
	return watcher
}

func drainNotifications(d *notify.Dispatcher, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for d.Stats().Queued > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
}
