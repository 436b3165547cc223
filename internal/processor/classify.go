package processor

import (
	"fmt"
	"strings"

	"remindd/internal/notif"
	"remindd/internal/watcher"
)

// Classify maps a change event to at most one scheduler action. Rules apply
// in order, first match wins; nil means the change is insignificant or the
// user is not eligible. Pure: no side effects, no clock reads.
func Classify(ev notif.ChangeEvent) *notif.Action {
	switch ev.Kind {
	case notif.ChangeCreated:
		return classifyCreated(ev)
	case notif.ChangeUpdated:
		return classifyUpdated(ev)
	case notif.ChangeDeleted:
		return &notif.Action{
			Type:   notif.ActionRemoveUser,
			UserID: ev.UserID,
			Prio:   notif.PriorityHigh,
			Reason: "preferences deleted",
		}
	default:
		return nil
	}
}

func classifyCreated(ev notif.ChangeEvent) *notif.Action {
	cur := ev.Current
	if cur == nil {
		return nil
	}
	if !cur.Eligible() {
		return nil // disabled, channel unusable, or a slot unset
	}
	return &notif.Action{
		Type:    notif.ActionAddUser,
		UserID:  ev.UserID,
		Payload: cur,
		Prio:    notif.PriorityHigh,
		Reason:  "new eligible user",
	}
}

func classifyUpdated(ev notif.ChangeEvent) *notif.Action {
	cur, prev := ev.Current, ev.Previous
	if cur == nil {
		return nil
	}

	if prev != nil && prev.Enabled != cur.Enabled {
		if !cur.Enabled {
			// Disable maps straight to removal so no stale jobs survive the
			// update path.
			return &notif.Action{
				Type:   notif.ActionRemoveUser,
				UserID: ev.UserID,
				Prio:   notif.PriorityHigh,
				Reason: "notifications disabled",
			}
		}
		return &notif.Action{
			Type:    notif.ActionUpdateUser,
			UserID:  ev.UserID,
			Payload: cur,
			Prio:    notif.PriorityHigh,
			Reason:  "notifications enabled",
		}
	}

	if fields := changedFields(ev.FieldDiff, watcher.FieldChannelEnabled, watcher.FieldDestination); len(fields) > 0 {
		return &notif.Action{
			Type:    notif.ActionUpdateUser,
			UserID:  ev.UserID,
			Payload: cur,
			Prio:    notif.PriorityMedium,
			Reason:  "channel config changed: " + strings.Join(fields, ", "),
		}
	}

	if fields := slotFields(ev.FieldDiff); len(fields) > 0 {
		return &notif.Action{
			Type:    notif.ActionUpdateUser,
			UserID:  ev.UserID,
			Payload: cur,
			Prio:    notif.PriorityHigh,
			Reason:  "slot time changed: " + strings.Join(fields, ", "),
		}
	}

	if cur.Enabled && len(ev.FieldDiff) == 0 {
		// Untracked change on an enabled user: resync defensively rather
		// than assume the diff list is exhaustive.
		return &notif.Action{
			Type:    notif.ActionUpdateUser,
			UserID:  ev.UserID,
			Payload: cur,
			Prio:    notif.PriorityLow,
			Reason:  "defensive resync, no tracked change",
		}
	}
	return nil
}

func changedFields(diff []notif.FieldChange, names ...string) []string {
	var out []string
	for _, d := range diff {
		for _, n := range names {
			if d.Field == n {
				out = append(out, d.Field)
			}
		}
	}
	return out
}

func slotFields(diff []notif.FieldChange) []string {
	var out []string
	for _, d := range diff {
		if strings.HasSuffix(d.Field, "_time") {
			out = append(out, fmt.Sprintf("%s %s->%s", d.Field, d.From, d.To))
		}
	}
	return out
}
