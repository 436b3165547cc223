// Package eventbus provides the in-memory publish/subscribe channel that
// connects the scheduling pipeline: watcher -> processor -> bridge -> scheduler.
// A Bus instance is constructed once and injected into each component; there
// is no process-wide singleton.
package eventbus

import (
	"sync"
	"time"
)

// Pipeline topics. Components subscribe by topic so unrelated traffic never
// reaches them.
const (
	TopicPrefsCreated = "prefs.created"
	TopicPrefsUpdated = "prefs.updated"
	TopicPrefsDeleted = "prefs.deleted"

	TopicSchedulerAction = "scheduler.action"

	TopicActionApplied = "action.applied"
	TopicActionFailed  = "action.failed"

	TopicJobFired       = "job.fired"
	TopicDeliverySent   = "delivery.sent"
	TopicDeliveryFailed = "delivery.failed"
	TopicClaimLost      = "delivery.claim_lost"
)

// Event is a lightweight, in-memory signal.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscriber channels are buffered; a slow subscriber drops events.
//
// Data should be a small value type owned by the publishing package.
type Event struct {
	Topic string
	Time  time.Time
	Data  any
}

// Bus fans events out to topic-filtered subscribers.
type Bus interface {
	Publish(e Event)
	// Subscribe registers a buffered channel receiving events whose topic is
	// in topics; with no topics it receives everything. The returned func
	// unsubscribes and closes the channel; it is idempotent.
	Subscribe(buffer int, topics ...string) (<-chan Event, func())
}

func New() Bus {
	return &memBus{}
}

type subscriber struct {
	ch     chan Event
	topics map[string]struct{} // nil means all topics
}

func (s *subscriber) wants(topic string) bool {
	if s.topics == nil {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

type memBus struct {
	mu   sync.RWMutex
	subs []*subscriber
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot under read lock; never hold locks while sending.
	b.mu.RLock()
	subs := make([]*subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.wants(e.Topic) {
			continue
		}
		// Non-blocking delivery; a concurrent unsubscribe may close the
		// channel, so recover from a send-on-closed panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		sub.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			for i, s := range b.subs {
				if s == sub {
					last := len(b.subs) - 1
					b.subs[i] = b.subs[last]
					b.subs[last] = nil
					b.subs = b.subs[:last]
					break
				}
			}
			b.mu.Unlock()
			// Safe because Publish recovers from send panics.
			close(sub.ch)
		})
	}
	return sub.ch, unsub
}
