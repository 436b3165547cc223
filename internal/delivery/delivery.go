// Package delivery takes fired notification records through the claim
// protocol and out to the external channel. Correctness rests on the
// storage-layer conditional update: whoever wins the pending->processing
// transition owns the record, everyone else backs off without side effects.
package delivery

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindd/internal/eventbus"
	"remindd/internal/notif"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

// Channel sends one message to a destination. There is no hard timeout here;
// a slow send blocks this record's completion only.
type Channel interface {
	Send(ctx context.Context, destination, text string) error
}

// PrefLookup resolves a user's current snapshot at delivery time. The watcher
// cache implements it.
type PrefLookup interface {
	Lookup(userID string) (notif.Preferences, bool)
}

// Stats is the pipeline's counter snapshot.
type Stats struct {
	Sent        uint64
	Failed      uint64
	ClaimLost   uint64
	Reverted    uint64
	LastSweepAt time.Time
}

type Config struct {
	RatePerSec    float64
	SweepInterval time.Duration
	RetryWindow   time.Duration
	Retention     time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.RetryWindow <= 0 {
		c.RetryWindow = 24 * time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	return c
}

type Pipeline struct {
	records store.RecordStore
	prefs   PrefLookup
	channel Channel
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter
	cfg     Config

	now func() time.Time

	mu      sync.Mutex
	stats   Stats
	running bool

	cancel context.CancelFunc
	done   chan struct{}
}

func New(records store.RecordStore, prefs PrefLookup, channel Channel, bus eventbus.Bus, log logx.Logger, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Pipeline{
		records: records,
		prefs:   prefs,
		channel: channel,
		bus:     bus,
		log:     log.With(logx.String("comp", "delivery")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Deliver runs one record through claim, window gate, and send. Losing the
// claim is a benign conflict, not an error.
func (p *Pipeline) Deliver(ctx context.Context, rec notif.Record) {
	claimed, err := p.records.Claim(ctx, rec.ID)
	if err != nil {
		p.log.Error("claim failed",
			logx.String("record", rec.ID),
			logx.Err(err))
		return
	}
	if !claimed {
		p.count(func(s *Stats) { s.ClaimLost++ })
		p.log.Debug("claim lost to another worker", logx.String("record", rec.ID))
		p.bus.Publish(eventbus.Event{Topic: eventbus.TopicClaimLost, Data: rec})
		return
	}

	prefs, ok := p.prefs.Lookup(rec.UserID)
	if !ok {
		p.complete(ctx, rec, notif.StatusFailed, "no preference snapshot for user")
		return
	}
	if !prefs.InWindow(p.now()) {
		// Outside the allowed hours: back to pending so a later sweep
		// retries, never failed.
		if err := p.records.Release(ctx, rec.ID); err != nil {
			p.log.Error("release failed",
				logx.String("record", rec.ID),
				logx.Err(err))
			return
		}
		p.count(func(s *Stats) { s.Reverted++ })
		p.log.Debug("outside delivery window, reverted to pending",
			logx.String("record", rec.ID),
			logx.String("user", rec.UserID))
		return
	}
	if !prefs.ChannelConfigured() {
		p.complete(ctx, rec, notif.StatusFailed, "delivery channel not configured")
		return
	}

	if err := p.limiter.Wait(ctx); err != nil {
		// Shutting down mid-flight: give the record back.
		if relErr := p.records.Release(ctx, rec.ID); relErr != nil {
			p.log.Error("release failed", logx.String("record", rec.ID), logx.Err(relErr))
		}
		return
	}

	if err := p.channel.Send(ctx, prefs.Destination, rec.Content); err != nil {
		p.complete(ctx, rec, notif.StatusFailed, err.Error())
		return
	}
	p.complete(ctx, rec, notif.StatusSent, "")
}

func (p *Pipeline) complete(ctx context.Context, rec notif.Record, status notif.Status, errMsg string) {
	if err := p.records.Complete(ctx, rec.ID, status, errMsg); err != nil {
		p.log.Error("complete failed",
			logx.String("record", rec.ID),
			logx.String("status", string(status)),
			logx.Err(err))
		return
	}
	if status == notif.StatusSent {
		p.count(func(s *Stats) { s.Sent++ })
		p.log.Info("notification sent",
			logx.String("record", rec.ID),
			logx.String("user", rec.UserID),
			logx.String("type", rec.Type))
		p.bus.Publish(eventbus.Event{Topic: eventbus.TopicDeliverySent, Data: rec})
		return
	}
	p.count(func(s *Stats) { s.Failed++ })
	p.log.Warn("notification failed",
		logx.String("record", rec.ID),
		logx.String("user", rec.UserID),
		logx.String("reason", errMsg))
	p.bus.Publish(eventbus.Event{Topic: eventbus.TopicDeliveryFailed, Data: rec})
}

// Start launches the background sweeps: due pending records every sweep
// interval, failed-record resets hourly, terminal-record purge daily.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.loop(ctx)
	return nil
}

func (p *Pipeline) Stop(ctx context.Context) error {
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

func (p *Pipeline) loop(ctx context.Context) {
	defer close(p.done)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("delivery loop panic",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	due := time.NewTicker(p.cfg.SweepInterval)
	defer due.Stop()
	retry := time.NewTicker(time.Hour)
	defer retry.Stop()
	purge := time.NewTicker(24 * time.Hour)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-due.C:
			p.SweepDue(ctx)
		case <-retry.C:
			p.RetryFailed(ctx)
		case <-purge.C:
			p.Purge(ctx)
		}
	}
}

// SweepDue claims and delivers pending records whose scheduled time has
// arrived. This is also what re-attempts window-reverted records.
func (p *Pipeline) SweepDue(ctx context.Context) {
	now := p.now()
	recs, err := p.records.DuePending(ctx, now, 100)
	if err != nil {
		p.log.Error("due sweep failed", logx.Err(err))
		return
	}
	for _, rec := range recs {
		p.Deliver(ctx, rec)
		if ctx.Err() != nil {
			return
		}
	}
	p.count(func(s *Stats) { s.LastSweepAt = now })
	if len(recs) > 0 {
		p.log.Debug("due sweep", logx.Int("records", len(recs)))
	}
}

// RetryFailed resets failed records inside the retry window back to pending;
// the next due sweep re-claims them through the normal protocol.
func (p *Pipeline) RetryFailed(ctx context.Context) {
	n, err := p.records.ResetFailed(ctx, p.now().Add(-p.cfg.RetryWindow))
	if err != nil {
		p.log.Error("failed-record reset failed", logx.Err(err))
		return
	}
	if n > 0 {
		p.log.Info("failed records reset for retry", logx.Int64("count", n))
	}
}

// Purge drops terminal records older than the retention period.
func (p *Pipeline) Purge(ctx context.Context) {
	n, err := p.records.PurgeOlderThan(ctx, p.now().Add(-p.cfg.Retention))
	if err != nil {
		p.log.Error("purge failed", logx.Err(err))
		return
	}
	if n > 0 {
		p.log.Info("old records purged", logx.Int64("count", n))
	}
}

func (p *Pipeline) count(fn func(*Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
