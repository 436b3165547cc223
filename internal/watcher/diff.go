package watcher

import (
	"strconv"

	"remindd/internal/notif"
)

// Tracked field names as they appear in emitted diffs.
const (
	FieldEnabled        = "enabled"
	FieldChannelEnabled = "channel_enabled"
	FieldDestination    = "destination"
)

func slotField(s notif.Slot) string { return string(s) + "_time" }

// Diff compares two snapshots over the tracked field list: enablement, the
// five slot times, and the channel configuration. Untracked fields (the
// delivery window hours) never appear here.
func Diff(old, cur notif.Preferences) []notif.FieldChange {
	var out []notif.FieldChange
	if old.Enabled != cur.Enabled {
		out = append(out, notif.FieldChange{
			Field: FieldEnabled,
			From:  strconv.FormatBool(old.Enabled),
			To:    strconv.FormatBool(cur.Enabled),
		})
	}
	for _, s := range notif.Slots {
		if from, to := old.SlotTime(s), cur.SlotTime(s); from != to {
			out = append(out, notif.FieldChange{Field: slotField(s), From: from, To: to})
		}
	}
	if old.ChannelEnabled != cur.ChannelEnabled {
		out = append(out, notif.FieldChange{
			Field: FieldChannelEnabled,
			From:  strconv.FormatBool(old.ChannelEnabled),
			To:    strconv.FormatBool(cur.ChannelEnabled),
		})
	}
	if old.Destination != cur.Destination {
		out = append(out, notif.FieldChange{
			Field: FieldDestination,
			From:  old.Destination,
			To:    cur.Destination,
		})
	}
	return out
}

// equal is full snapshot equality, tracked fields and all.
func equal(a, b notif.Preferences) bool {
	if a.UserID != b.UserID ||
		a.Enabled != b.Enabled ||
		a.ChannelEnabled != b.ChannelEnabled ||
		a.Destination != b.Destination ||
		a.StartHour != b.StartHour ||
		a.EndHour != b.EndHour {
		return false
	}
	for _, s := range notif.Slots {
		if a.SlotTime(s) != b.SlotTime(s) {
			return false
		}
	}
	return true
}
