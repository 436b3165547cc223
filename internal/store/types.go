package store

import (
	"context"
	"errors"
	"time"

	"remindd/internal/notif"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Config selects and tunes the backend.
//
// Driver values:
//   - "sqlite": local database file at Path
//   - "postgres": server reachable via DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RecordStore is the notification record persistence API.
//
// State machine: pending -> processing -> sent|failed. Claim and Complete are
// conditional updates; callers must treat ok=false from Claim as "lost to a
// concurrent scheduler", not as an error.
type RecordStore interface {
	Create(ctx context.Context, rec notif.Record) error
	Get(ctx context.Context, id string) (notif.Record, error)

	// Claim transitions pending -> processing. ok=false means the record was
	// not pending (already claimed, completed, or missing).
	Claim(ctx context.Context, id string) (ok bool, err error)

	// Complete transitions processing -> sent|failed. Sets sent_at for sent
	// and records errMsg for failed.
	Complete(ctx context.Context, id string, status notif.Status, errMsg string) error

	// Release reverts processing -> pending (window-gated records stay
	// eligible for a later claim).
	Release(ctx context.Context, id string) error

	// ResetFailed flips failed records scheduled since the cutoff back to
	// pending so the sweep re-attempts them. Returns how many were reset.
	ResetFailed(ctx context.Context, since time.Time) (int64, error)

	// DuePending lists pending records whose scheduled_for is at or before
	// now, oldest first.
	DuePending(ctx context.Context, now time.Time, limit int) ([]notif.Record, error)

	// PurgeOlderThan deletes terminal records scheduled before the cutoff.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PreferenceStore reads user notification preferences. The engine itself is a
// read-only consumer; Upsert/Delete exist for operators and tests.
type PreferenceStore interface {
	FetchAll(ctx context.Context) ([]notif.Preferences, error)
	Upsert(ctx context.Context, p notif.Preferences) error
	Delete(ctx context.Context, userID string) error
}

// Store is the full persistence surface used by the engine.
type Store interface {
	RecordStore
	PreferenceStore
	Close() error
}
