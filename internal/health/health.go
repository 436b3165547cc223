// Package health is the supervisory side-loop: it inspects watcher liveness
// and queue depths on an interval and triggers a full resync when something
// looks stuck. It repairs, it does not guarantee correctness; that lives in
// the delivery claim protocol.
package health

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"remindd/pkg/logx"
)

// QueueDepther exposes a component's backlog size.
type QueueDepther interface {
	QueueDepth() int
}

// WatcherProbe is the slice of the watcher the monitor needs.
type WatcherProbe interface {
	Alive() bool
	Scan(ctx context.Context) error
}

// Repairer runs the reconciliation used as the repair action.
type Repairer interface {
	Resync(ctx context.Context) error
}

// JobCounter reports the live registry size, recorded with each check.
type JobCounter interface {
	JobCount() int
}

type Config struct {
	Interval          time.Duration
	ProcessorQueueMax int
	BridgeQueueMax    int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.ProcessorQueueMax <= 0 {
		c.ProcessorQueueMax = 10
	}
	if c.BridgeQueueMax <= 0 {
		c.BridgeQueueMax = 5
	}
	return c
}

// Report is one check's outcome.
type Report struct {
	CheckedAt      time.Time
	WatcherAlive   bool
	ProcessorQueue int
	BridgeQueue    int
	JobCount       int
	Issues         []string
}

type Monitor struct {
	log       logx.Logger
	watcher   WatcherProbe
	processor QueueDepther
	bridge    QueueDepther
	repairer  Repairer
	jobs      JobCounter

	mu           sync.Mutex
	cfg          Config
	last         Report
	lastRepairAt time.Time
	running      bool

	cancel context.CancelFunc
	done   chan struct{}
}

func New(w WatcherProbe, proc, brdg QueueDepther, rep Repairer, jobs JobCounter, log logx.Logger, cfg Config) *Monitor {
	return &Monitor{
		log:       log.With(logx.String("comp", "health")),
		watcher:   w,
		processor: proc,
		bridge:    brdg,
		repairer:  rep,
		jobs:      jobs,
		cfg:       cfg.withDefaults(),
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
	return nil
}

func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("health loop panic",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	for {
		m.mu.Lock()
		interval := m.cfg.Interval
		m.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		m.Check(ctx)
	}
}

// Check runs one inspection and repairs when a threshold trips.
func (m *Monitor) Check(ctx context.Context) Report {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	rep := Report{
		CheckedAt:      time.Now(),
		WatcherAlive:   m.watcher.Alive(),
		ProcessorQueue: m.processor.QueueDepth(),
		BridgeQueue:    m.bridge.QueueDepth(),
		JobCount:       m.jobs.JobCount(),
	}
	if !rep.WatcherAlive {
		rep.Issues = append(rep.Issues, "watcher inactive")
	}
	if rep.ProcessorQueue > cfg.ProcessorQueueMax {
		rep.Issues = append(rep.Issues,
			"processor queue depth "+strconv.Itoa(rep.ProcessorQueue)+" over "+strconv.Itoa(cfg.ProcessorQueueMax))
	}
	if rep.BridgeQueue > cfg.BridgeQueueMax {
		rep.Issues = append(rep.Issues,
			"bridge queue depth "+strconv.Itoa(rep.BridgeQueue)+" over "+strconv.Itoa(cfg.BridgeQueueMax))
	}

	if len(rep.Issues) > 0 {
		for _, issue := range rep.Issues {
			m.log.Warn("health issue", logx.String("issue", issue))
		}
		m.repair(ctx)
	}

	m.mu.Lock()
	m.last = rep
	m.mu.Unlock()
	return rep
}

func (m *Monitor) repair(ctx context.Context) {
	if err := m.repairer.Resync(ctx); err != nil {
		m.log.Error("repair resync failed", logx.Err(err))
	}
	if err := m.watcher.Scan(ctx); err != nil {
		m.log.Warn("repair scan failed", logx.Err(err))
	}
	m.mu.Lock()
	m.lastRepairAt = time.Now()
	m.mu.Unlock()
	m.log.Info("repair triggered")
}

// Apply hot-reloads the check interval and thresholds.
func (m *Monitor) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

// Last returns the most recent report and the last repair time.
func (m *Monitor) Last() (Report, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.lastRepairAt
}
