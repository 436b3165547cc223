package processor

import (
	"testing"
	"time"

	"remindd/internal/eventbus"
	"remindd/internal/notif"
	"remindd/pkg/logx"
)

func TestEnqueueEmitsActionsInOrder(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16, eventbus.TopicSchedulerAction)
	defer unsub()

	p := New(bus, logx.Nop())
	u1, u2 := eligible("u1"), eligible("u2")
	p.Enqueue(notif.ChangeEvent{UserID: "u1", Kind: notif.ChangeCreated, Current: &u1})
	p.Enqueue(notif.ChangeEvent{UserID: "u2", Kind: notif.ChangeCreated, Current: &u2})

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.Data.(notif.Action).UserID)
		case <-deadline:
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0] != "u1" || got[1] != "u2" {
		t.Fatalf("want FIFO order [u1 u2], got %v", got)
	}
}

func TestInsignificantEventEmitsNothing(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16, eventbus.TopicSchedulerAction)
	defer unsub()

	p := New(bus, logx.Nop())
	disabled := eligible("u1")
	disabled.Enabled = false
	p.Enqueue(notif.ChangeEvent{UserID: "u1", Kind: notif.ChangeCreated, Current: &disabled})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected action: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
	processed, dropped := p.Stats()
	if processed != 1 || dropped != 1 {
		t.Fatalf("want 1 processed and 1 dropped, got %d/%d", processed, dropped)
	}
}
