// Package notif holds the domain types shared across the scheduling pipeline:
// preference snapshots, field diffs, and notification records.
package notif

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Slot is a named daily time-of-day category.
type Slot string

const (
	SlotMorning   Slot = "morning"
	SlotNoon      Slot = "noon"
	SlotAfternoon Slot = "afternoon"
	SlotEvening   Slot = "evening"
	SlotNight     Slot = "night"
)

// Slots lists all categories in canonical order.
var Slots = []Slot{SlotMorning, SlotNoon, SlotAfternoon, SlotEvening, SlotNight}

// Type maps a slot to its notification type tag.
func (s Slot) Type() string {
	switch s {
	case SlotMorning:
		return "MORNING_REMINDER"
	case SlotNoon:
		return "NOON_CHECK"
	case SlotAfternoon:
		return "AFTERNOON_REMINDER"
	case SlotEvening:
		return "EVENING_PLANNING"
	case SlotNight:
		return "NIGHT_HABITS_CHECK"
	default:
		return "REMINDER"
	}
}

// Preferences is one user's notification configuration as observed at a point
// in time. Snapshots are immutable; the watcher replaces them wholesale on
// each scan.
type Preferences struct {
	UserID  string
	Enabled bool

	// Clock times per slot, "HH:MM". An empty string means the slot is unset.
	SlotTimes map[Slot]string

	ChannelEnabled bool
	Destination    string

	// Allowed delivery window [StartHour, EndHour).
	StartHour int
	EndHour   int
}

// SlotTime returns the configured clock time for a slot.
func (p Preferences) SlotTime(s Slot) string {
	if p.SlotTimes == nil {
		return ""
	}
	return strings.TrimSpace(p.SlotTimes[s])
}

// ChannelConfigured reports whether the delivery channel is usable.
func (p Preferences) ChannelConfigured() bool {
	return p.ChannelEnabled && strings.TrimSpace(p.Destination) != ""
}

// MissingSlots returns the slots that have no configured clock time.
func (p Preferences) MissingSlots() []Slot {
	var out []Slot
	for _, s := range Slots {
		if p.SlotTime(s) == "" {
			out = append(out, s)
		}
	}
	return out
}

// Eligible reports whether the user should have jobs scheduled at all:
// enabled, channel usable, every slot configured.
func (p Preferences) Eligible() bool {
	return p.Enabled && p.ChannelConfigured() && len(p.MissingSlots()) == 0
}

// InWindow reports whether t's hour falls inside [StartHour, EndHour).
// A zero-width window never matches.
func (p Preferences) InWindow(t time.Time) bool {
	h := t.Hour()
	return h >= p.StartHour && h < p.EndHour
}

// ParseClock validates an "HH:MM" string and returns its components.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// FieldChange records one tracked field moving from one value to another.
type FieldChange struct {
	Field string
	From  string
	To    string
}

// ChangeKind classifies a watcher observation.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeEvent is emitted by the watcher and consumed exactly once by the
// change processor; it is never persisted.
type ChangeEvent struct {
	UserID     string
	Kind       ChangeKind
	Previous   *Preferences
	Current    *Preferences
	FieldDiff  []FieldChange
	DetectedAt time.Time
}

// Status is the notification record lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Record is a single scheduled notification. Only the claim transition
// (pending -> processing) and the terminal transition (processing -> sent or
// failed) mutate it once created.
type Record struct {
	ID           string
	UserID       string
	Type         string
	Content      string
	ScheduledFor time.Time
	Status       Status
	SentAt       *time.Time
	Error        string
}
