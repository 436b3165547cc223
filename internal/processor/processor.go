// Package processor turns watcher change events into scheduler actions. Events
// queue FIFO and drain single-flight; Classify itself is pure.
package processor

import (
	"context"
	"runtime/debug"
	"sync"

	"remindd/internal/eventbus"
	"remindd/internal/notif"
	"remindd/pkg/logx"
)

type Processor struct {
	bus eventbus.Bus
	log logx.Logger

	mu       sync.Mutex
	queue    []notif.ChangeEvent
	draining bool
	running  bool

	processed uint64
	dropped   uint64

	cancel context.CancelFunc
	done   chan struct{}
}

func New(bus eventbus.Bus, log logx.Logger) *Processor {
	return &Processor{
		bus: bus,
		log: log.With(logx.String("comp", "processor")),
	}
}

func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.mu.Unlock()

	ch, unsub := p.bus.Subscribe(64,
		eventbus.TopicPrefsCreated,
		eventbus.TopicPrefsUpdated,
		eventbus.TopicPrefsDeleted)

	go func() {
		defer close(p.done)
		defer unsub()
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("processor loop panic",
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
				change, ok := ev.Data.(notif.ChangeEvent)
				if !ok {
					continue
				}
				p.Enqueue(change)
			}
		}
	}()
	return nil
}

func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Enqueue appends an event and kicks the drain loop if idle. Safe for
// concurrent callers; only one drain runs at a time.
func (p *Processor) Enqueue(ev notif.ChangeEvent) {
	p.mu.Lock()
	p.queue = append(p.queue, ev)
	start := !p.draining
	if start {
		p.draining = true
	}
	p.mu.Unlock()
	if start {
		go p.drain()
	}
}

func (p *Processor) drain() {
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.draining = false
			p.mu.Unlock()
			p.log.Error("drain panic",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.draining = false
			p.mu.Unlock()
			return
		}
		ev := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.handle(ev)
	}
}

func (p *Processor) handle(ev notif.ChangeEvent) {
	action := Classify(ev)
	p.mu.Lock()
	p.processed++
	if action == nil {
		p.dropped++
	}
	p.mu.Unlock()

	if action == nil {
		p.log.Debug("no action",
			logx.String("user", ev.UserID),
			logx.String("kind", string(ev.Kind)))
		return
	}
	p.log.Info("action emitted",
		logx.String("user", action.UserID),
		logx.String("type", string(action.Type)),
		logx.String("prio", action.Prio.String()),
		logx.String("reason", action.Reason))
	p.bus.Publish(eventbus.Event{Topic: eventbus.TopicSchedulerAction, Data: *action})
}

// QueueDepth is read by the health monitor.
func (p *Processor) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Stats returns processed and filtered-out event counts.
func (p *Processor) Stats() (processed, dropped uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, p.dropped
}
