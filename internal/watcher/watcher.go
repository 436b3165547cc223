// Package watcher polls the preference store, diffs each user's snapshot
// against the last observed one, and publishes typed change events on the bus.
// It owns the snapshot cache; nothing downstream mutates scheduler state from
// here.
package watcher

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"remindd/internal/eventbus"
	"remindd/internal/notif"
	"remindd/pkg/logx"
)

// PreferenceSource is the read-only view of the preference store.
type PreferenceSource interface {
	FetchAll(ctx context.Context) ([]notif.Preferences, error)
}

// Status is a point-in-time view of the watcher for the health monitor and
// the admin surface.
type Status struct {
	Active     bool
	LastScanAt time.Time
	ScanCount  uint64
	UserCount  int
	LastError  string
}

type Watcher struct {
	source PreferenceSource
	bus    eventbus.Bus
	log    logx.Logger

	mu       sync.Mutex
	interval time.Duration
	cache    map[string]notif.Preferences

	scanMu sync.Mutex // scans are strictly sequential

	running    bool
	lastScanAt time.Time
	scanCount  uint64
	lastErr    error

	cancel context.CancelFunc
	done   chan struct{}
}

const DefaultInterval = 5 * time.Second

func New(source PreferenceSource, bus eventbus.Bus, log logx.Logger, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		source:   source,
		bus:      bus,
		log:      log.With(logx.String("comp", "watcher")),
		interval: interval,
		cache:    map[string]notif.Preferences{},
	}
}

// Start runs one immediate scan, then scans on the configured interval until
// Stop. The first scan's error is logged, not returned; startup failure policy
// lives with the engine's initial resync.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx)
	return nil
}

func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("watcher loop panic",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	if err := w.Scan(ctx); err != nil {
		w.log.Warn("initial scan failed", logx.Err(err))
	}

	for {
		w.mu.Lock()
		interval := w.interval
		w.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := w.Scan(ctx); err != nil {
			w.log.Warn("scan failed", logx.Err(err))
		}
	}
}

// Scan fetches the full preference set and emits one change event per user
// with a difference. A fetch error aborts the scan and leaves the cache
// untouched; the next tick retries.
func (w *Watcher) Scan(ctx context.Context) error {
	w.scanMu.Lock()
	defer w.scanMu.Unlock()

	fresh, err := w.source.FetchAll(ctx)
	if err != nil {
		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
		return err
	}
	now := time.Now()

	w.mu.Lock()
	prev := w.cache
	next := make(map[string]notif.Preferences, len(fresh))
	w.mu.Unlock()

	var events []notif.ChangeEvent
	for _, cur := range fresh {
		cur := cur
		next[cur.UserID] = cur
		old, seen := prev[cur.UserID]
		if !seen {
			events = append(events, notif.ChangeEvent{
				UserID:     cur.UserID,
				Kind:       notif.ChangeCreated,
				Current:    &cur,
				FieldDiff:  []notif.FieldChange{{Field: "preferences", From: "absent", To: "present"}},
				DetectedAt: now,
			})
			continue
		}
		diff := Diff(old, cur)
		if len(diff) == 0 && equal(old, cur) {
			continue
		}
		// A snapshot that changed only in untracked fields produces an
		// updated event with an empty diff; the processor's defensive
		// branch turns that into a low-priority resync.
		events = append(events, notif.ChangeEvent{
			UserID:     cur.UserID,
			Kind:       notif.ChangeUpdated,
			Previous:   &old,
			Current:    &cur,
			FieldDiff:  diff,
			DetectedAt: now,
		})
	}
	for id, old := range prev {
		if _, still := next[id]; still {
			continue
		}
		old := old
		events = append(events, notif.ChangeEvent{
			UserID:     id,
			Kind:       notif.ChangeDeleted,
			Previous:   &old,
			FieldDiff:  []notif.FieldChange{{Field: "preferences", From: "present", To: "absent"}},
			DetectedAt: now,
		})
	}

	w.mu.Lock()
	w.cache = next
	w.lastScanAt = now
	w.scanCount++
	w.lastErr = nil
	w.mu.Unlock()

	for _, ev := range events {
		w.bus.Publish(eventbus.Event{Topic: topicFor(ev.Kind), Time: now, Data: ev})
	}
	if len(events) > 0 {
		w.log.Debug("scan complete",
			logx.Int("users", len(fresh)),
			logx.Int("events", len(events)))
	}
	return nil
}

func topicFor(k notif.ChangeKind) string {
	switch k {
	case notif.ChangeCreated:
		return eventbus.TopicPrefsCreated
	case notif.ChangeDeleted:
		return eventbus.TopicPrefsDeleted
	default:
		return eventbus.TopicPrefsUpdated
	}
}

// Lookup returns the cached snapshot for a user. The delivery pipeline uses it
// for the allowed-hours window at claim time.
func (w *Watcher) Lookup(userID string) (notif.Preferences, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.cache[userID]
	return p, ok
}

// SetInterval applies a hot-reloaded poll interval; takes effect after the
// current tick.
func (w *Watcher) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	w.mu.Lock()
	w.interval = d
	w.mu.Unlock()
}

// Alive reports whether the polling loop is running and has scanned recently.
func (w *Watcher) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return false
	}
	if w.lastScanAt.IsZero() {
		// Started but first scan not done yet.
		return true
	}
	return time.Since(w.lastScanAt) < 3*w.interval
}

func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{
		LastScanAt: w.lastScanAt,
		ScanCount:  w.scanCount,
		UserCount:  len(w.cache),
	}
	st.Active = w.running && (w.lastScanAt.IsZero() || time.Since(w.lastScanAt) < 3*w.interval)
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	return st
}
