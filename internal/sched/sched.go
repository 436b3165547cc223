// Package sched owns the authoritative job registry: one cron entry per
// (userID, clock time) key, guarded by a single lock so registration and
// cancellation never interleave with each other or with resyncs. A fired job
// builds one notification record per slot category sharing that clock time and
// hands each to the delivery pipeline.
package sched

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"remindd/internal/content"
	"remindd/internal/eventbus"
	"remindd/internal/notif"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

// Pipeline receives fired records. Delivery runs on the cron goroutine; a
// slow channel blocks that job's completion but not other jobs.
type Pipeline interface {
	Deliver(ctx context.Context, rec notif.Record)
}

// JobInfo describes one live registry entry.
type JobInfo struct {
	Key    string
	UserID string
	Clock  string
	Slots  []notif.Slot
}

type entry struct {
	id     cron.EntryID
	userID string
	clock  string
	slots  []notif.Slot
}

type Scheduler struct {
	cron     *cron.Cron
	records  store.RecordStore
	gen      content.Generator
	pipeline Pipeline
	bus      eventbus.Bus
	log      logx.Logger

	mu   sync.Mutex
	jobs map[string]entry // key = userID + "-" + HH:MM

	fireCtx context.Context
	cancel  context.CancelFunc
}

func New(records store.RecordStore, gen content.Generator, pipeline Pipeline, bus eventbus.Bus, log logx.Logger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		records:  records,
		gen:      gen,
		pipeline: pipeline,
		bus:      bus,
		log:      log.With(logx.String("comp", "sched")),
		jobs:     map[string]entry{},
		fireCtx:  context.Background(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.fireCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()
	s.cron.Start()
	return nil
}

// Stop halts the cron and waits for in-flight fires to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	return nil
}

func jobKey(userID, clock string) string { return userID + "-" + clock }

// RegisterUser reconciles the user's registry entries with their current
// preferences. An existing job for the same key is stopped and replaced,
// never duplicated; calling twice with the same preferences leaves exactly
// one live job per key. Ineligible preferences remove all of the user's jobs.
func (s *Scheduler) RegisterUser(_ context.Context, prefs notif.Preferences) error {
	if !prefs.Eligible() {
		return s.removeUserJobs(prefs.UserID)
	}

	// Slots sharing a clock time collapse into one job that fires every
	// associated category.
	byClock := map[string][]notif.Slot{}
	for _, slot := range notif.Slots {
		clock := prefs.SlotTime(slot)
		if clock == "" {
			continue
		}
		if _, _, err := notif.ParseClock(clock); err != nil {
			return fmt.Errorf("user %s slot %s: %w", prefs.UserID, slot, err)
		}
		byClock[clock] = append(byClock[clock], slot)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	desired := make(map[string]struct{}, len(byClock))
	for clock := range byClock {
		desired[jobKey(prefs.UserID, clock)] = struct{}{}
	}

	// Drop entries the new preferences no longer want.
	for key, e := range s.jobs {
		if e.userID != prefs.UserID {
			continue
		}
		if _, keep := desired[key]; !keep {
			s.cron.Remove(e.id)
			delete(s.jobs, key)
			s.log.Debug("job removed", logx.String("key", key))
		}
	}

	for clock, slots := range byClock {
		key := jobKey(prefs.UserID, clock)
		// Replace, never duplicate.
		if old, exists := s.jobs[key]; exists {
			s.cron.Remove(old.id)
			delete(s.jobs, key)
		}

		hour, minute, _ := notif.ParseClock(clock)
		spec := fmt.Sprintf("%d %d * * *", minute, hour)

		userID := prefs.UserID
		slots := append([]notif.Slot(nil), slots...)
		sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

		id, err := s.cron.AddFunc(spec, func() {
			s.fire(userID, clock, slots)
		})
		if err != nil {
			return fmt.Errorf("add job %s: %w", key, err)
		}
		s.jobs[key] = entry{id: id, userID: userID, clock: clock, slots: slots}
		s.log.Debug("job registered",
			logx.String("key", key),
			logx.String("spec", spec),
			logx.Int("slots", len(slots)))
	}
	return nil
}

// UnregisterUser removes every job keyed under the user. A user with no jobs
// is a no-op, not an error. Future firings stop; an already-fired delivery in
// flight is not interrupted.
func (s *Scheduler) UnregisterUser(_ context.Context, userID string) error {
	return s.removeUserJobs(userID)
}

func (s *Scheduler) removeUserJobs(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := userID + "-"
	var removed int
	for key, e := range s.jobs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		s.cron.Remove(e.id)
		delete(s.jobs, key)
		removed++
	}
	if removed > 0 {
		s.log.Debug("user jobs removed",
			logx.String("user", userID),
			logx.Int("count", removed))
	}
	return nil
}

func (s *Scheduler) fire(userID, clock string, slots []notif.Slot) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job fire panic",
				logx.String("user", userID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	s.mu.Lock()
	ctx := s.fireCtx
	s.mu.Unlock()

	now := time.Now().Truncate(time.Minute)
	for _, slot := range slots {
		body, err := s.gen.Build(ctx, userID, slot)
		if err != nil {
			s.log.Warn("content build failed, using fallback",
				logx.String("user", userID),
				logx.String("slot", string(slot)),
				logx.Err(err))
			body = content.Fallback
		}

		rec := notif.Record{
			ID:           uuid.NewString(),
			UserID:       userID,
			Type:         slot.Type(),
			Content:      body,
			ScheduledFor: now,
			Status:       notif.StatusPending,
		}
		if err := s.records.Create(ctx, rec); err != nil {
			s.log.Error("record create failed",
				logx.String("user", userID),
				logx.String("slot", string(slot)),
				logx.Err(err))
			continue
		}
		s.bus.Publish(eventbus.Event{Topic: eventbus.TopicJobFired, Data: rec})
		s.log.Info("job fired",
			logx.String("user", userID),
			logx.String("clock", clock),
			logx.String("type", rec.Type),
			logx.String("record", rec.ID))
		s.pipeline.Deliver(ctx, rec)
	}
}

// RegisteredUsers lists the distinct users with at least one live job.
func (s *Scheduler) RegisteredUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	for _, e := range s.jobs {
		seen[e.userID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Jobs returns a sorted snapshot of the registry.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for key, e := range s.jobs {
		out = append(out, JobInfo{
			Key:    key,
			UserID: e.userID,
			Clock:  e.clock,
			Slots:  append([]notif.Slot(nil), e.slots...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// JobCount is read by the health monitor and the status surface.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Fire triggers one registered job immediately, bypassing the cron clock.
// Test and operator hook; a missing key is an error.
func (s *Scheduler) Fire(key string) error {
	s.mu.Lock()
	e, ok := s.jobs[key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no job registered for key %q", key)
	}
	s.fire(e.userID, e.clock, e.slots)
	return nil
}
