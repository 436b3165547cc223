// Package engine wires the pipeline together and owns its lifecycle:
// store -> watcher -> processor -> bridge -> scheduler -> delivery, with the
// health monitor supervising. It also exposes the admin surface used by the
// process owner.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindd/internal/bridge"
	"remindd/internal/channel/telegram"
	"remindd/internal/config"
	"remindd/internal/content"
	"remindd/internal/delivery"
	"remindd/internal/eventbus"
	"remindd/internal/health"
	"remindd/internal/notif"
	"remindd/internal/processor"
	"remindd/internal/sched"
	"remindd/internal/store"
	"remindd/internal/watcher"
	"remindd/pkg/logx"
)

// Status is the operator-facing view of the running engine.
type Status struct {
	RegisteredJobCount int
	RegisteredUsers    []string
	ProcessorQueue     int
	BridgeQueue        int
	WatcherActive      bool
	LastScanAt         time.Time
	LastRepairAt       time.Time
	Delivery           delivery.Stats
}

type Engine struct {
	log logx.Logger
	bus eventbus.Bus

	st        store.Store
	watcher   *watcher.Watcher
	processor *processor.Processor
	bridge    *bridge.Bridge
	sched     *sched.Scheduler
	pipeline  *delivery.Pipeline
	monitor   *health.Monitor

	started bool
}

// disabledChannel stands in when no outbound channel is configured; every
// delivery records a channel error instead of silently vanishing.
type disabledChannel struct{}

func (disabledChannel) Send(context.Context, string, string) error {
	return errors.New("no delivery channel configured")
}

func New(cfg *config.Config, log logx.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busyTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	eng, err := build(cfg, st, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return eng, nil
}

// NewWithStore builds the engine on a caller-provided store. Tests use it
// with the in-memory backend.
func NewWithStore(cfg *config.Config, st store.Store, log logx.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	return build(cfg, st, log)
}

func build(cfg *config.Config, st store.Store, log logx.Logger) (*Engine, error) {
	pollInterval, err := config.ParseDurationOrDefault("watcher.interval", cfg.Watcher.Interval, watcher.DefaultInterval)
	if err != nil {
		return nil, err
	}
	applyDelay, err := config.ParseDurationOrDefault("bridge.apply_delay", cfg.Bridge.ApplyDelay, bridge.DefaultApplyDelay)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := config.ParseDurationOrDefault("delivery.sweep_interval", cfg.Delivery.SweepInterval, time.Minute)
	if err != nil {
		return nil, err
	}
	retryWindow, err := config.ParseDurationOrDefault("delivery.retry_window", cfg.Delivery.RetryWindow, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	retention, err := config.ParseDurationOrDefault("delivery.retention", cfg.Delivery.Retention, 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	healthInterval, err := config.ParseDurationOrDefault("health.interval", cfg.Health.Interval, 30*time.Second)
	if err != nil {
		return nil, err
	}

	loc := time.Local
	if tz := cfg.Scheduler.Timezone; tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	var channel delivery.Channel = disabledChannel{}
	if cfg.Telegram != nil {
		pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
		if err != nil {
			return nil, err
		}
		channel, err = telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
	}

	bus := eventbus.New()
	w := watcher.New(st, bus, log, pollInterval)
	pipe := delivery.New(st, w, channel, bus, log, delivery.Config{
		RatePerSec:    float64(cfg.Delivery.RatePerSec),
		SweepInterval: sweepInterval,
		RetryWindow:   retryWindow,
		Retention:     retention,
	})
	sch := sched.New(st, content.Static{}, pipe, bus, log, loc)
	brdg := bridge.New(bus, sch, st, log, applyDelay)
	proc := processor.New(bus, log)
	mon := health.New(w, proc, brdg, brdg, sch, log, health.Config{
		Interval:          healthInterval,
		ProcessorQueueMax: cfg.Health.ProcessorQueueMax,
		BridgeQueueMax:    cfg.Health.BridgeQueueMax,
	})

	return &Engine{
		log:       log.With(logx.String("comp", "engine")),
		bus:       bus,
		st:        st,
		watcher:   w,
		processor: proc,
		bridge:    brdg,
		sched:     sch,
		pipeline:  pipe,
		monitor:   mon,
	}, nil
}

// Start brings the pipeline up back-to-front so every stage has a running
// consumer before its producer starts. The initial resync is fatal when the
// preference store is unreachable: the engine refuses to run with a silently
// empty job set.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return nil
	}
	if err := e.processor.Start(ctx); err != nil {
		return err
	}
	if err := e.bridge.Start(ctx); err != nil {
		return err
	}
	if err := e.sched.Start(ctx); err != nil {
		return err
	}
	if err := e.pipeline.Start(ctx); err != nil {
		return err
	}

	if err := e.bridge.Resync(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = e.pipeline.Stop(stopCtx)
		_ = e.sched.Stop(stopCtx)
		_ = e.bridge.Stop(stopCtx)
		_ = e.processor.Stop(stopCtx)
		return fmt.Errorf("initial resync: %w", err)
	}

	if err := e.watcher.Start(ctx); err != nil {
		return err
	}
	if err := e.monitor.Start(ctx); err != nil {
		return err
	}
	e.started = true
	e.log.Info("engine started", logx.Int("jobs", e.sched.JobCount()))
	return nil
}

// Stop tears down in reverse order and closes the store.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started {
		return nil
	}
	e.started = false

	var errs []error
	for _, stop := range []func(context.Context) error{
		e.monitor.Stop,
		e.watcher.Stop,
		e.processor.Stop,
		e.bridge.Stop,
		e.pipeline.Stop,
		e.sched.Stop,
	} {
		if err := stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.st.Close(); err != nil {
		errs = append(errs, err)
	}
	e.log.Info("engine stopped")
	return errors.Join(errs...)
}

// Apply hot-reloads the runtime-adjustable settings. Storage, timezone, and
// channel changes need a restart.
func (e *Engine) Apply(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	pollInterval, err := config.ParseDurationOrDefault("watcher.interval", cfg.Watcher.Interval, watcher.DefaultInterval)
	if err != nil {
		return err
	}
	healthInterval, err := config.ParseDurationOrDefault("health.interval", cfg.Health.Interval, 30*time.Second)
	if err != nil {
		return err
	}
	e.watcher.SetInterval(pollInterval)
	e.monitor.Apply(health.Config{
		Interval:          healthInterval,
		ProcessorQueueMax: cfg.Health.ProcessorQueueMax,
		BridgeQueueMax:    cfg.Health.BridgeQueueMax,
	})
	e.log.Info("engine config applied",
		logx.Duration("poll_interval", pollInterval),
		logx.Duration("health_interval", healthInterval))
	return nil
}

func (e *Engine) Status() Status {
	wst := e.watcher.Status()
	_, repairedAt := e.monitor.Last()
	return Status{
		RegisteredJobCount: e.sched.JobCount(),
		RegisteredUsers:    e.sched.RegisteredUsers(),
		ProcessorQueue:     e.processor.QueueDepth(),
		BridgeQueue:        e.bridge.QueueDepth(),
		WatcherActive:      wst.Active,
		LastScanAt:         wst.LastScanAt,
		LastRepairAt:       repairedAt,
		Delivery:           e.pipeline.Stats(),
	}
}

// ForceResync manually runs the bridge reconciliation.
func (e *Engine) ForceResync(ctx context.Context) error {
	return e.bridge.Resync(ctx)
}

// ForceScan manually runs one watcher scan.
func (e *Engine) ForceScan(ctx context.Context) error {
	return e.watcher.Scan(ctx)
}

// RegisterUserManually bypasses the watcher/processor pipeline; operator and
// test hook.
func (e *Engine) RegisterUserManually(ctx context.Context, prefs notif.Preferences) error {
	return e.sched.RegisterUser(ctx, prefs)
}

// UnregisterUserManually removes all of a user's jobs directly.
func (e *Engine) UnregisterUserManually(ctx context.Context, userID string) error {
	return e.sched.UnregisterUser(ctx, userID)
}
