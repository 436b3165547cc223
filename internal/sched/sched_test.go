package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindd/internal/content"
	"remindd/internal/eventbus"
	"remindd/internal/notif"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

type capturePipeline struct {
	mu   sync.Mutex
	recs []notif.Record
}

func (c *capturePipeline) Deliver(_ context.Context, rec notif.Record) {
	c.mu.Lock()
	c.recs = append(c.recs, rec)
	c.mu.Unlock()
}

func (c *capturePipeline) delivered() []notif.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notif.Record, len(c.recs))
	copy(out, c.recs)
	return out
}

type failingGen struct{}

func (failingGen) Build(context.Context, string, notif.Slot) (string, error) {
	return "", errors.New("generator down")
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

func newScheduler(pipe Pipeline, gen content.Generator) (*Scheduler, *store.Memory) {
	mem := store.NewMemory()
	if gen == nil {
		gen = content.Static{}
	}
	return New(mem, gen, pipe, eventbus.New(), logx.Nop(), time.UTC), mem
}

func TestRegisterCreatesOneJobPerClock(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(&capturePipeline{}, nil)
	ctx := context.Background()

	if err := s.RegisterUser(ctx, eligible("u1")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := s.JobCount(); got != 5 {
		t.Fatalf("want 5 jobs, got %d", got)
	}
	if users := s.RegisteredUsers(); len(users) != 1 || users[0] != "u1" {
		t.Fatalf("want [u1], got %v", users)
	}
}

func TestRegisterTwiceDoesNotDuplicate(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(&capturePipeline{}, nil)
	ctx := context.Background()

	if err := s.RegisterUser(ctx, eligible("u1")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RegisterUser(ctx, eligible("u1")); err != nil {
		t.Fatalf("register again: %v", err)
	}
	if got := s.JobCount(); got != 5 {
		t.Fatalf("want 5 jobs after duplicate register, got %d", got)
	}
	for _, j := range s.Jobs() {
		if len(j.Slots) != 1 {
			t.Fatalf("job %s should carry one slot, got %v", j.Key, j.Slots)
		}
	}
}

func TestSharedClockCollapsesToOneJob(t *testing.T) {
	t.Parallel()

	prefs := eligible("u1")
	prefs.SlotTimes[notif.SlotNoon] = "08:00" // same clock as morning

	pipe := &capturePipeline{}
	s, _ := newScheduler(pipe, nil)
	ctx := context.Background()
	if err := s.RegisterUser(ctx, prefs); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := s.JobCount(); got != 4 {
		t.Fatalf("want 4 jobs (two slots share a clock), got %d", got)
	}

	if err := s.Fire("u1-08:00"); err != nil {
		t.Fatalf("fire: %v", err)
	}
	recs := pipe.delivered()
	if len(recs) != 2 {
		t.Fatalf("shared clock should fire both categories, got %d records", len(recs))
	}
	types := map[string]bool{}
	for _, r := range recs {
		types[r.Type] = true
	}
	if !types["MORNING_REMINDER"] || !types["NOON_CHECK"] {
		t.Fatalf("want both categories, got %v", types)
	}
}

func TestUpdateMovesJobKey(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(&capturePipeline{}, nil)
	ctx := context.Background()
	if err := s.RegisterUser(ctx, eligible("u1")); err != nil {
		t.Fatalf("register: %v", err)
	}

	moved := eligible("u1")
	moved.SlotTimes[notif.SlotEvening] = "19:30"
	if err := s.RegisterUser(ctx, moved); err != nil {
		t.Fatalf("register update: %v", err)
	}

	keys := map[string]bool{}
	for _, j := range s.Jobs() {
		keys[j.Key] = true
	}
	if keys["u1-18:00"] {
		t.Fatal("old key u1-18:00 should be gone")
	}
	if !keys["u1-19:30"] {
		t.Fatal("new key u1-19:30 should exist")
	}
	if got := s.JobCount(); got != 5 {
		t.Fatalf("want 5 jobs, got %d", got)
	}
}

func TestIneligibleRegisterRemovesJobs(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(&capturePipeline{}, nil)
	ctx := context.Background()
	if err := s.RegisterUser(ctx, eligible("u1")); err != nil {
		t.Fatalf("register: %v", err)
	}

	off := eligible("u1")
	off.Enabled = false
	if err := s.RegisterUser(ctx, off); err != nil {
		t.Fatalf("register disabled: %v", err)
	}
	if got := s.JobCount(); got != 0 {
		t.Fatalf("disabled user should have no jobs, got %d", got)
	}
}

func TestUnregisterIsNoOpForUnknownUser(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(&capturePipeline{}, nil)
	if err := s.UnregisterUser(context.Background(), "ghost"); err != nil {
		t.Fatalf("unregister unknown user: %v", err)
	}
}

func TestUnregisterOnlyTouchesThatUser(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(&capturePipeline{}, nil)
	ctx := context.Background()
	if err := s.RegisterUser(ctx, eligible("u1")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RegisterUser(ctx, eligible("u2")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.UnregisterUser(ctx, "u1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if users := s.RegisteredUsers(); len(users) != 1 || users[0] != "u2" {
		t.Fatalf("want [u2], got %v", users)
	}
}

func TestFireCreatesPendingRecord(t *testing.T) {
	t.Parallel()

	pipe := &capturePipeline{}
	s, mem := newScheduler(pipe, nil)
	ctx := context.Background()
	if err := s.RegisterUser(ctx, eligible("u1")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Fire("u1-08:00"); err != nil {
		t.Fatalf("fire: %v", err)
	}

	recs := pipe.delivered()
	if len(recs) != 1 {
		t.Fatalf("want 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.ID == "" || rec.Type != "MORNING_REMINDER" || rec.Status != notif.StatusPending {
		t.Fatalf("bad record: %+v", rec)
	}
	stored, err := mem.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if stored.Status != notif.StatusPending {
		t.Fatalf("stored record should be pending, got %s", stored.Status)
	}
	if !stored.ScheduledFor.Equal(stored.ScheduledFor.Truncate(time.Minute)) {
		t.Fatal("scheduled_for should be minute-truncated")
	}
}

func TestFireUsesFallbackOnContentError(t *testing.T) {
	t.Parallel()

	pipe := &capturePipeline{}
	s, _ := newScheduler(pipe, failingGen{})
	ctx := context.Background()
	if err := s.RegisterUser(ctx, eligible("u1")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Fire("u1-08:00"); err != nil {
		t.Fatalf("fire: %v", err)
	}
	recs := pipe.delivered()
	if len(recs) != 1 || recs[0].Content != content.Fallback {
		t.Fatalf("want fallback content, got %+v", recs)
	}
}

func TestRegisterRejectsBadClock(t *testing.T) {
	t.Parallel()

	s, _ := newScheduler(&capturePipeline{}, nil)
	prefs := eligible("u1")
	prefs.SlotTimes[notif.SlotNight] = "25:99"
	if err := s.RegisterUser(context.Background(), prefs); err == nil {
		t.Fatal("want error for invalid clock time")
	}
}
