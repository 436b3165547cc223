// Package bridge serializes scheduler mutations. Actions queue in priority
// order and a single drain applies them one at a time against the live job
// scheduler, retrying a failed apply once. Resync reconciles the full desired
// set against the registry; it is the repair path used at startup and by the
// health monitor.
package bridge

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"remindd/internal/eventbus"
	"remindd/internal/notif"
	"remindd/internal/watcher"
	"remindd/pkg/logx"
)

// Scheduler is the job registry the bridge drives.
type Scheduler interface {
	RegisterUser(ctx context.Context, prefs notif.Preferences) error
	UnregisterUser(ctx context.Context, userID string) error
	RegisteredUsers() []string
}

// ApplyResult is published on the bus after each action.
type ApplyResult struct {
	Action   notif.Action
	Attempts int
	Err      error
}

const DefaultApplyDelay = 100 * time.Millisecond

type Bridge struct {
	bus    eventbus.Bus
	log    logx.Logger
	sched  Scheduler
	source watcher.PreferenceSource

	retry      Policy
	applyDelay time.Duration

	mu       sync.Mutex
	queue    []queued
	seq      uint64
	draining bool
	running  bool

	applied  uint64
	failures uint64

	cancel context.CancelFunc
	done   chan struct{}
	ctx    context.Context
}

type queued struct {
	action notif.Action
	seq    uint64
}

func New(bus eventbus.Bus, sched Scheduler, source watcher.PreferenceSource, log logx.Logger, applyDelay time.Duration) *Bridge {
	if applyDelay < 0 {
		applyDelay = DefaultApplyDelay
	}
	return &Bridge{
		bus:        bus,
		log:        log.With(logx.String("comp", "bridge")),
		sched:      sched,
		source:     source,
		retry:      Policy{MaxAttempts: 2},
		applyDelay: applyDelay,
		ctx:        context.Background(),
	}
}

func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	ctx, b.cancel = context.WithCancel(ctx)
	b.ctx = ctx
	b.done = make(chan struct{})
	b.mu.Unlock()

	ch, unsub := b.bus.Subscribe(64, eventbus.TopicSchedulerAction)
	go func() {
		defer close(b.done)
		defer unsub()
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("bridge loop panic",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if action, ok := ev.Data.(notif.Action); ok {
					b.Submit(action)
				}
			}
		}
	}()
	return nil
}

func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Submit queues an action and starts a drain if none is running. The queue is
// kept sorted by priority, arrival order within a priority.
func (b *Bridge) Submit(action notif.Action) {
	b.mu.Lock()
	b.seq++
	b.queue = append(b.queue, queued{action: action, seq: b.seq})
	sort.SliceStable(b.queue, func(i, j int) bool {
		if b.queue[i].action.Prio != b.queue[j].action.Prio {
			return b.queue[i].action.Prio > b.queue[j].action.Prio
		}
		return b.queue[i].seq < b.queue[j].seq
	})
	start := !b.draining
	if start {
		b.draining = true
	}
	ctx := b.ctx
	b.mu.Unlock()

	if start {
		go b.drain(ctx)
	}
}

func (b *Bridge) drain(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			b.draining = false
			b.mu.Unlock()
			b.log.Error("drain panic",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	for {
		b.mu.Lock()
		if len(b.queue) == 0 || ctx.Err() != nil {
			b.draining = false
			b.mu.Unlock()
			return
		}
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.applyOne(ctx, next.action)

		if b.applyDelay > 0 {
			timer := time.NewTimer(b.applyDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
}

func (b *Bridge) applyOne(ctx context.Context, action notif.Action) {
	var attempts int
	err := b.retry.Do(ctx, func(attempt int) error {
		attempts = attempt
		return b.apply(ctx, action)
	})

	b.mu.Lock()
	if err != nil {
		b.failures++
	} else {
		b.applied++
	}
	b.mu.Unlock()

	result := ApplyResult{Action: action, Attempts: attempts, Err: err}
	if err != nil {
		// Surfaced, never silently dropped.
		b.log.Error("action apply failed",
			logx.String("user", action.UserID),
			logx.String("type", string(action.Type)),
			logx.Int("attempts", attempts),
			logx.Err(err))
		b.bus.Publish(eventbus.Event{Topic: eventbus.TopicActionFailed, Data: result})
		return
	}
	b.log.Debug("action applied",
		logx.String("user", action.UserID),
		logx.String("type", string(action.Type)),
		logx.Int("attempts", attempts))
	b.bus.Publish(eventbus.Event{Topic: eventbus.TopicActionApplied, Data: result})
}

func (b *Bridge) apply(ctx context.Context, action notif.Action) error {
	switch action.Type {
	case notif.ActionAddUser, notif.ActionUpdateUser:
		if action.Payload == nil {
			return fmt.Errorf("%s for %s has no payload", action.Type, action.UserID)
		}
		return b.sched.RegisterUser(ctx, *action.Payload)
	case notif.ActionRemoveUser:
		return b.sched.UnregisterUser(ctx, action.UserID)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// Resync reconciles the desired scheduling set (eligible users from the
// preference store) with the live registry: registers the missing, removes
// the obsolete. Running it twice with no preference change is a no-op the
// second time.
func (b *Bridge) Resync(ctx context.Context) error {
	all, err := b.source.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("resync fetch: %w", err)
	}

	desired := make(map[string]notif.Preferences)
	for _, p := range all {
		if p.Eligible() {
			desired[p.UserID] = p
		}
	}
	live := make(map[string]struct{})
	for _, id := range b.sched.RegisteredUsers() {
		live[id] = struct{}{}
	}

	var added, removed, failed int
	for id, p := range desired {
		if _, ok := live[id]; ok {
			continue
		}
		if err := b.retry.Do(ctx, func(int) error { return b.sched.RegisterUser(ctx, p) }); err != nil {
			failed++
			b.log.Error("resync register failed", logx.String("user", id), logx.Err(err))
			continue
		}
		added++
	}
	for id := range live {
		if _, ok := desired[id]; ok {
			continue
		}
		if err := b.retry.Do(ctx, func(int) error { return b.sched.UnregisterUser(ctx, id) }); err != nil {
			failed++
			b.log.Error("resync unregister failed", logx.String("user", id), logx.Err(err))
			continue
		}
		removed++
	}

	b.log.Info("resync complete",
		logx.Int("desired", len(desired)),
		logx.Int("added", added),
		logx.Int("removed", removed),
		logx.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("resync finished with %d failed applications", failed)
	}
	return nil
}

// QueueDepth is read by the health monitor.
func (b *Bridge) QueueDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Stats returns applied and failed action counts.
func (b *Bridge) Stats() (applied, failures uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applied, b.failures
}
