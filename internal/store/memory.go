package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"remindd/internal/notif"
)

// Memory is an in-process Store with the same conditional-update semantics as
// the SQL backends. It backs tests and ad hoc runs without a database file.
type Memory struct {
	mu      sync.Mutex
	records map[string]notif.Record
	prefs   map[string]notif.Preferences

	// FetchErr, when set, is returned by FetchAll; lets tests simulate an
	// unreachable preference store.
	FetchErr error
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		records: map[string]notif.Record{},
		prefs:   map[string]notif.Preferences{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Create(_ context.Context, rec notif.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return errors.New("duplicate record id: " + rec.ID)
	}
	if rec.Status == "" {
		rec.Status = notif.StatusPending
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (notif.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return notif.Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) Claim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.Status != notif.StatusPending {
		return false, nil
	}
	rec.Status = notif.StatusProcessing
	m.records[id] = rec
	return true, nil
}

func (m *Memory) Complete(_ context.Context, id string, status notif.Status, errMsg string) error {
	if status != notif.StatusSent && status != notif.StatusFailed {
		return errors.New("complete requires a terminal status")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.Status != notif.StatusProcessing {
		return ErrNotFound
	}
	rec.Status = status
	rec.Error = errMsg
	if status == notif.StatusSent {
		now := time.Now()
		rec.SentAt = &now
	}
	m.records[id] = rec
	return nil
}

func (m *Memory) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.Status != notif.StatusProcessing {
		return ErrNotFound
	}
	rec.Status = notif.StatusPending
	m.records[id] = rec
	return nil
}

func (m *Memory) ResetFailed(_ context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if rec.Status == notif.StatusFailed && !rec.ScheduledFor.Before(since) {
			rec.Status = notif.StatusPending
			rec.Error = ""
			m.records[id] = rec
			n++
		}
	}
	return n, nil
}

func (m *Memory) DuePending(_ context.Context, now time.Time, limit int) ([]notif.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notif.Record
	for _, rec := range m.records {
		if rec.Status == notif.StatusPending && !rec.ScheduledFor.After(now) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		terminal := rec.Status == notif.StatusSent || rec.Status == notif.StatusFailed
		if terminal && rec.ScheduledFor.Before(cutoff) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) FetchAll(_ context.Context) ([]notif.Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	out := make([]notif.Preferences, 0, len(m.prefs))
	for _, p := range m.prefs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) Upsert(_ context.Context, p notif.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.UserID] = p
	return nil
}

func (m *Memory) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prefs, userID)
	return nil
}
