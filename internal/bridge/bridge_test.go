package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindd/internal/eventbus"
	"remindd/internal/notif"
	"remindd/pkg/logx"
)

type fakeScheduler struct {
	mu         sync.Mutex
	registered map[string]notif.Preferences
	applied    []string // "add:u1", "remove:u2", in application order
	failNext   int      // fail this many upcoming calls
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{registered: map[string]notif.Preferences{}}
}

func (f *fakeScheduler) RegisterUser(_ context.Context, p notif.Preferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("register failed")
	}
	f.registered[p.UserID] = p
	f.applied = append(f.applied, "add:"+p.UserID)
	return nil
}

func (f *fakeScheduler) UnregisterUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("unregister failed")
	}
	delete(f.registered, userID)
	f.applied = append(f.applied, "remove:"+userID)
	return nil
}

func (f *fakeScheduler) RegisteredUsers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.registered))
	for id := range f.registered {
		out = append(out, id)
	}
	return out
}

func (f *fakeScheduler) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.applied))
	copy(out, f.applied)
	return out
}

type staticSource struct {
	mu    sync.Mutex
	prefs []notif.Preferences
	err   error
}

func (s *staticSource) FetchAll(context.Context) ([]notif.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs, s.err
}

func eligible(userID string) notif.Preferences {
	return notif.Preferences{
		UserID:  userID,
		Enabled: true,
		SlotTimes: map[notif.Slot]string{
			notif.SlotMorning:   "08:00",
			notif.SlotNoon:      "12:00",
			notif.SlotAfternoon: "15:00",
			notif.SlotEvening:   "18:00",
			notif.SlotNight:     "22:00",
		},
		ChannelEnabled: true,
		Destination:    "12345",
		StartHour:      7,
		EndHour:        23,
	}
}

func action(userID string, prio notif.Priority) notif.Action {
	p := eligible(userID)
	return notif.Action{Type: notif.ActionAddUser, UserID: userID, Payload: &p, Prio: prio}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()

	sched := newFakeScheduler()
	b := New(eventbus.New(), sched, &staticSource{}, logx.Nop(), 0)

	// Hold the drain so all three land in the queue before any applies.
	b.mu.Lock()
	b.draining = true
	b.mu.Unlock()

	b.Submit(action("low", notif.PriorityLow))
	b.Submit(action("high", notif.PriorityHigh))
	b.Submit(action("med", notif.PriorityMedium))

	go b.drain(context.Background())

	waitFor(t, func() bool { return len(sched.order()) == 3 })
	got := sched.order()
	want := []string{"add:high", "add:med", "add:low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want order %v, got %v", want, got)
		}
	}
}

func TestTiesPreserveArrivalOrder(t *testing.T) {
	t.Parallel()

	sched := newFakeScheduler()
	b := New(eventbus.New(), sched, &staticSource{}, logx.Nop(), 0)

	b.mu.Lock()
	b.draining = true
	b.mu.Unlock()

	b.Submit(action("a", notif.PriorityHigh))
	b.Submit(action("b", notif.PriorityHigh))
	b.Submit(action("c", notif.PriorityHigh))

	go b.drain(context.Background())

	waitFor(t, func() bool { return len(sched.order()) == 3 })
	got := sched.order()
	want := []string{"add:a", "add:b", "add:c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want order %v, got %v", want, got)
		}
	}
}

func TestApplyRetriesOnceThenSurfacesFailure(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	failures, unsubF := bus.Subscribe(4, eventbus.TopicActionFailed)
	defer unsubF()
	applied, unsubA := bus.Subscribe(4, eventbus.TopicActionApplied)
	defer unsubA()

	sched := newFakeScheduler()
	sched.mu.Lock()
	sched.failNext = 1 // first attempt fails, immediate retry succeeds
	sched.mu.Unlock()

	b := New(bus, sched, &staticSource{}, logx.Nop(), 0)
	b.Submit(action("u1", notif.PriorityHigh))

	select {
	case ev := <-applied:
		res := ev.Data.(ApplyResult)
		if res.Attempts != 2 {
			t.Fatalf("want success on attempt 2, got %d", res.Attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for applied event")
	}

	// Two consecutive failures exhaust the policy.
	sched.mu.Lock()
	sched.failNext = 2
	sched.mu.Unlock()
	b.Submit(action("u2", notif.PriorityHigh))

	select {
	case ev := <-failures:
		res := ev.Data.(ApplyResult)
		if res.Action.UserID != "u2" || res.Err == nil {
			t.Fatalf("want surfaced failure for u2, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure event")
	}
}

func TestResyncAddsMissingAndRemovesObsolete(t *testing.T) {
	t.Parallel()

	sched := newFakeScheduler()
	stale := eligible("gone")
	sched.registered["gone"] = stale

	disabled := eligible("off")
	disabled.Enabled = false
	src := &staticSource{prefs: []notif.Preferences{eligible("u1"), eligible("u2"), disabled}}

	b := New(eventbus.New(), sched, src, logx.Nop(), 0)
	if err := b.Resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}

	users := sched.RegisteredUsers()
	if len(users) != 2 {
		t.Fatalf("want 2 registered users, got %v", users)
	}
	for _, id := range users {
		if id == "gone" || id == "off" {
			t.Fatalf("user %s should not be registered", id)
		}
	}

	// Second resync with no change is a no-op.
	before := len(sched.order())
	if err := b.Resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if after := len(sched.order()); after != before {
		t.Fatalf("idempotent resync applied %d extra actions", after-before)
	}
}

func TestResyncPropagatesFetchError(t *testing.T) {
	t.Parallel()

	src := &staticSource{err: errors.New("store down")}
	b := New(eventbus.New(), newFakeScheduler(), src, logx.Nop(), 0)
	if err := b.Resync(context.Background()); err == nil {
		t.Fatal("want fetch error")
	}
}

func TestRetryPolicyAttemptCount(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 2}
	var calls int
	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt != calls {
			t.Fatalf("attempt %d reported as %d", calls, attempt)
		}
		return errors.New("nope")
	})
	if err == nil || calls != 2 {
		t.Fatalf("want 2 failed attempts, got calls=%d err=%v", calls, err)
	}

	calls = 0
	err = p.Do(context.Background(), func(int) error {
		calls++
		if calls == 1 {
			return errors.New("first")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("want recovery on retry, got calls=%d err=%v", calls, err)
	}
}
