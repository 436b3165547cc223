package eventbus

import (
	"testing"
	"time"
)

func TestTopicFiltering(t *testing.T) {
	t.Parallel()
	b := New()

	actions, unsubA := b.Subscribe(4, TopicSchedulerAction)
	defer unsubA()
	all, unsubB := b.Subscribe(4)
	defer unsubB()

	b.Publish(Event{Topic: TopicPrefsCreated, Data: "x"})
	b.Publish(Event{Topic: TopicSchedulerAction, Data: "y"})

	select {
	case e := <-actions:
		if e.Topic != TopicSchedulerAction {
			t.Fatalf("filtered subscriber got topic %s", e.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber never received its topic")
	}
	select {
	case e := <-actions:
		t.Fatalf("unexpected extra event %v", e)
	default:
	}

	got := 0
	for got < 2 {
		select {
		case <-all:
			got++
		case <-time.After(time.Second):
			t.Fatalf("catch-all subscriber received %d of 2 events", got)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Topic: TopicJobFired})
	b.Publish(Event{Topic: TopicJobFired}) // buffer full: dropped

	<-ch
	select {
	case <-ch:
		t.Fatal("second event should have been dropped")
	default:
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub()
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Topic: TopicDeliverySent})
}
