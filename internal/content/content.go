// Package content builds notification message bodies. Generation must never
// block scheduling: callers fall back to Fallback on any build error.
package content

import (
	"context"
	"fmt"

	"remindd/internal/notif"
)

// Generator produces the message body for one user and slot.
type Generator interface {
	Build(ctx context.Context, userID string, slot notif.Slot) (string, error)
}

// Fallback is used whenever a generator fails.
const Fallback = "You have a scheduled reminder."

// Static renders a fixed per-slot title and body.
type Static struct{}

var _ Generator = Static{}

var templates = map[notif.Slot]struct {
	title string
	body  string
}{
	notif.SlotMorning:   {"Good morning", "Time to plan your day. What are your top priorities?"},
	notif.SlotNoon:      {"Midday check-in", "How is your day going so far? Take a short break."},
	notif.SlotAfternoon: {"Afternoon push", "A few focused hours left. Anything to wrap up?"},
	notif.SlotEvening:   {"Evening planning", "Review today and sketch tomorrow before winding down."},
	notif.SlotNight:     {"Night habits", "Last call for today's habits. Check them off before bed."},
}

func (Static) Build(_ context.Context, _ string, slot notif.Slot) (string, error) {
	t, ok := templates[slot]
	if !ok {
		return "", fmt.Errorf("no template for slot %q", slot)
	}
	return t.title + "\n" + t.body, nil
}
