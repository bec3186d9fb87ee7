// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/tsnstream/internal/command"
	"firestige.xyz/tsnstream/internal/config"
	"firestige.xyz/tsnstream/internal/core"
	"firestige.xyz/tsnstream/internal/errors"
	"firestige.xyz/tsnstream/internal/eventbus"
	"firestige.xyz/tsnstream/internal/hal"
	logpkg "firestige.xyz/tsnstream/internal/log"
	"firestige.xyz/tsnstream/internal/metrics"
	"firestige.xyz/tsnstream/internal/notify"
	"firestige.xyz/tsnstream/internal/store"
	"firestige.xyz/tsnstream/internal/stream"
)

// Daemon manages the tsnstream daemon process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Core components
	logger        *logpkg.Logger
	sw            *hal.Sim
	engine        *stream.Engine
	store         store.Store
	bus           *eventbus.InMemoryEventBus
	sink          *notify.Sink      // nil if NATS disabled or unreachable
	kafkaSink     *notify.KafkaSink // nil if Kafka disabled
	collector     *metrics.Collector
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server // nil if metrics disabled

	// reloadMu serializes reloads from SIGHUP and config_reload.
	reloadMu sync.Mutex

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	sigChan      chan os.Signal
}

// New creates a new Daemon instance. Empty socketPath or pidFile fall back to
// the control section of the configuration.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	// Load global configuration
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}

	// Create context for lifecycle management
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Engine returns the stream engine. It is nil before Start.
func (d *Daemon) Engine() *stream.Engine {
	return d.engine
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting tsnstream daemon",
		"version", command.Version,
		"hostname", d.config.Node.Hostname,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Build the switch backend and the notification path
	d.sw = hal.NewSim(hal.SimConfig{
		FlowCapacity:    d.config.HAL.FlowCapacity,
		CounterCapacity: d.config.HAL.CounterCapacity,
		RuleCapacity:    d.config.HAL.RuleCapacity,
	})
	d.bus = eventbus.NewInMemoryEventBus(d.config.Notify.Partitions, d.config.Notify.QueueSize)
	if err := eventbus.SubscribeNotifications(d.bus, metrics.CountNotification); err != nil {
		return fmt.Errorf("failed to subscribe metrics: %w", err)
	}
	if d.config.Notify.NATS.Enabled {
		d.startNATS()
	}
	if d.config.Notify.Kafka.Enabled {
		d.startKafka()
	}

	// 4. Create the engine
	engine, err := stream.New(d.sw,
		stream.WithLogger(logpkg.Component("engine")),
		stream.WithObserver(eventbus.NewNotifier(d.bus)),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	d.engine = engine

	// 5. Open the persisted entry store
	d.store = store.Noop()
	if d.config.Store.Enabled {
		fs, storeErr := store.NewFileStore(d.config.Store.Dir)
		if storeErr != nil {
			slog.Warn("failed to open store, persisted entries ignored",
				"dir", d.config.Store.Dir, "error", storeErr)
		} else {
			d.store = fs
		}
	}

	// 6. Replay declared and persisted entries
	if _, err := d.replay(); err != nil {
		slog.Error("replay failed", "error", err)
	}

	// 7. Start metrics collection and server
	d.collector = metrics.NewCollector(d.engine, d.bus)
	go d.collector.Run(d.ctx, d.collectInterval(d.config))
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 8. Create command handler
	d.cmdHandler = command.NewCommandHandler(d.engine, d)
	d.cmdHandler.SetNode(d.config.Node.Hostname)
	d.cmdHandler.SetEventBus(d.bus)
	d.cmdHandler.SetShutdownFunc(d.TriggerShutdown)

	// 9. Start UDS server for CLI control
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.udsServer.Start(d.ctx)
	}()
	select {
	case <-d.udsServer.Ready():
	case err := <-errCh:
		return fmt.Errorf("failed to start uds server: %w", err)
	}

	d.setReady(true)
	slog.Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")
	d.setReady(false)

	// 1. Stop UDS server (no new CLI commands)
	if d.udsServer != nil {
		slog.Info("stopping uds server")
		if err := d.udsServer.Stop(); err != nil {
			slog.Error("error stopping uds server", "error", err)
		}
	}

	// 2. Stop metrics server
	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 3. Cancel context to signal all goroutines
	d.cancel()

	// 4. Drain pending notifications, then the sinks
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			slog.Error("error closing event bus", "error", err)
		}
	}
	if d.sink != nil {
		ok, failed := d.sink.Published()
		slog.Info("closing nats sink", "published", ok, "failed", failed)
		if err := d.sink.Close(); err != nil {
			slog.Error("error closing nats sink", "error", err)
		}
	}
	if d.kafkaSink != nil {
		ok, failed := d.kafkaSink.Published()
		slog.Info("closing kafka sink", "published", ok, "failed", failed)
		if err := d.kafkaSink.Close(); err != nil {
			slog.Error("error closing kafka sink", "error", err)
		}
	}

	// 5. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 6. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")

	// 7. Flush logs
	if d.logger != nil {
		if err := d.logger.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing log outputs: %v\n", err)
		}
	}
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via UDS
//  3. SIGHUP triggers config reload
func (d *Daemon) Run() error {
	// Setup signal handling
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if _, err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			// Shutdown triggered by daemon_shutdown command
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			// Context cancelled externally
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload reloads the global configuration.
// Hot-reloadable: log, metrics collect interval, declared streams and
// collections. The persisted store is always replayed again.
// Cold (requires restart): control, hal, store, notify, metrics listener.
// Implements ConfigReloader interface for CommandHandler.
func (d *Daemon) Reload() (*command.ReloadResult, error) {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		metrics.ConfigReloadsTotal.WithLabelValues(metrics.ResultError).Inc()
		return nil, fmt.Errorf("failed to load new config: %w", err)
	}

	plan := config.Diff(d.config, newConfig)
	res := &command.ReloadResult{RequiresRestart: plan.Restart}

	// Cold sections keep their running values until restart.
	newConfig.Node = d.config.Node
	newConfig.Control = d.config.Control
	newConfig.HAL = d.config.HAL
	newConfig.Store = d.config.Store
	newConfig.Notify = d.config.Notify
	newConfig.Metrics.Enabled = d.config.Metrics.Enabled
	newConfig.Metrics.Listen = d.config.Metrics.Listen
	newConfig.Metrics.Path = d.config.Metrics.Path

	// 1. Logging
	if plan.Log {
		if err := d.reloadLogging(d.config.Log, newConfig.Log); err != nil {
			slog.Error("failed to reload logging, keeping previous outputs", "error", err)
			newConfig.Log = d.config.Log
		} else {
			res.LogChanged = true
		}
	}

	// 2. Metrics collection interval
	if plan.Metrics && d.collector != nil {
		d.collector.SetInterval(d.collectInterval(newConfig))
	}

	d.config = newConfig

	// 3. Declared and persisted entries. The engine is rebuilt from
	// scratch, so readiness drops until the replay is done.
	d.setReady(false)
	rep, err := d.replay()
	d.setReady(true)
	if err != nil {
		metrics.ConfigReloadsTotal.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}
	res.Replayed = true
	res.Streams = rep.Streams
	res.Collections = rep.Collections
	res.Skipped = rep.Skipped

	metrics.ConfigReloadsTotal.WithLabelValues(metrics.ResultOK).Inc()
	slog.Info("configuration reloaded",
		"log_changed", res.LogChanged,
		"metrics_interval_changed", plan.Metrics,
		"entries_changed", plan.Entries,
		"requires_restart", res.RequiresRestart,
	)
	return res, nil
}

// TriggerShutdown triggers graceful shutdown from external caller (e.g., daemon_shutdown command).
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() {
		slog.Info("shutdown requested")
		close(d.shutdownChan)
	})
}

// replay merges the declared entries with the store and replays them.
func (d *Daemon) replay() (ReplayReport, error) {
	stStreams, stCollections, err := d.store.List()
	if err != nil {
		return ReplayReport{}, errors.Wrapf(core.ErrReplayFailed, errors.KindUnavailable, "list store: %v", err)
	}
	streams, collections := store.Merge(d.config.Streams, d.config.Collections, stStreams, stCollections)
	return Replay(d.engine, streams, collections, logpkg.Component("replay")), nil
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	logger, err := logpkg.Init(d.config.Log, d.config.Node.Hostname)
	if err != nil {
		return err
	}
	d.logger = logger

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)

	return nil
}

// reloadLogging applies a new log section. A level-only change keeps the
// open outputs.
func (d *Daemon) reloadLogging(old, cur config.LogConfig) error {
	if d.logger != nil && old.Format == cur.Format && old.Outputs.File == cur.Outputs.File &&
		lokiEqual(old.Outputs.Loki, cur.Outputs.Loki) {
		return d.logger.SetLevel(cur.Level)
	}

	logger, err := logpkg.Init(cur, d.config.Node.Hostname)
	if err != nil {
		return err
	}
	prev := d.logger
	d.logger = logger
	if prev != nil {
		if err := prev.Close(); err != nil {
			slog.Warn("error closing previous log outputs", "error", err)
		}
	}
	return nil
}

func lokiEqual(a, b config.LokiOutputConfig) bool {
	if a.Enabled != b.Enabled || a.Endpoint != b.Endpoint ||
		a.BatchSize != b.BatchSize || a.BatchTimeout != b.BatchTimeout ||
		a.MaxAttempts != b.MaxAttempts || len(a.Labels) != len(b.Labels) {
		return false
	}
	for k, v := range a.Labels {
		if b.Labels[k] != v {
			return false
		}
	}
	return true
}

// collectInterval parses the validated collect interval.
func (d *Daemon) collectInterval(cfg *config.GlobalConfig) time.Duration {
	interval, err := time.ParseDuration(cfg.Metrics.CollectInterval)
	if err != nil || interval <= 0 {
		slog.Warn("invalid metrics.collect_interval, defaulting to 5s",
			"value", cfg.Metrics.CollectInterval, "error", err)
		return 5 * time.Second
	}
	return interval
}

// startNATS connects the optional NATS sink. Failure leaves the daemon
// running without it.
func (d *Daemon) startNATS() {
	sink, err := notify.Connect(d.ctx, d.config.Notify.NATS, d.config.Node.Hostname)
	if err != nil {
		slog.Error("nats sink disabled", "error", err)
		return
	}
	if err := eventbus.SubscribeNotifications(d.bus, sink.Handle); err != nil {
		slog.Error("failed to subscribe nats sink", "error", err)
		_ = sink.Close()
		return
	}
	d.sink = sink
}

// startKafka opens the optional Kafka sink.
func (d *Daemon) startKafka() {
	sink, err := notify.OpenKafka(d.config.Notify.Kafka, d.config.Node.Hostname)
	if err != nil {
		slog.Error("kafka sink disabled", "error", err)
		return
	}
	if err := eventbus.SubscribeNotifications(d.bus, sink.Handle); err != nil {
		slog.Error("failed to subscribe kafka sink", "error", err)
		_ = sink.Close()
		return
	}
	d.kafkaSink = sink
}

func (d *Daemon) setReady(ready bool) {
	if d.metricsServer != nil {
		d.metricsServer.SetReady(ready)
	}
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		return err
	}

	slog.Info("metrics server started",
		"addr", d.metricsServer.Addr(),
		"path", d.config.Metrics.Path,
	)

	return nil
}

// writePIDFile writes the current process ID to the PID file. A live daemon
// already owning the file is an error.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if pid, running := IsRunning(d.pidFile); running && pid != os.Getpid() {
		return errors.Wrapf(core.ErrDaemonRunning, errors.KindConflict, "pid %d", pid)
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
