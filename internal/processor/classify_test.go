package processor

import (
	"testing"

	"remindd/internal/notif"
	"remindd/internal/watcher"
)

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

func TestClassify(t *testing.T) {
	t.Parallel()

	disabled := eligible("u")
	disabled.Enabled = false

	noChannel := eligible("u")
	noChannel.Destination = ""

	missingSlot := eligible("u")
	delete(missingSlot.SlotTimes, notif.SlotNoon)

	enabledNow := eligible("u")
	slotMoved := eligible("u")
	slotMoved.SlotTimes[notif.SlotEvening] = "19:30"

	destMoved := eligible("u")
	destMoved.Destination = "99999"

	base := eligible("u")

	cases := []struct {
		name     string
		ev       notif.ChangeEvent
		wantType notif.ActionType
		wantPrio notif.Priority
		wantNil  bool
	}{
		{
			name:     "created eligible",
			ev:       notif.ChangeEvent{UserID: "u", Kind: notif.ChangeCreated, Current: &base},
			wantType: notif.ActionAddUser,
			wantPrio: notif.PriorityHigh,
		},
		{
			name:    "created disabled",
			ev:      notif.ChangeEvent{UserID: "u", Kind: notif.ChangeCreated, Current: &disabled},
			wantNil: true,
		},
		{
			name:    "created without destination",
			ev:      notif.ChangeEvent{UserID: "u", Kind: notif.ChangeCreated, Current: &noChannel},
			wantNil: true,
		},
		{
			name:    "created with missing slot",
			ev:      notif.ChangeEvent{UserID: "u", Kind: notif.ChangeCreated, Current: &missingSlot},
			wantNil: true,
		},
		{
			name: "updated disabling",
			ev: notif.ChangeEvent{
				UserID: "u", Kind: notif.ChangeUpdated,
				Previous: &base, Current: &disabled,
				FieldDiff: []notif.FieldChange{{Field: watcher.FieldEnabled, From: "true", To: "false"}},
			},
			wantType: notif.ActionRemoveUser,
			wantPrio: notif.PriorityHigh,
		},
		{
			name: "updated enabling",
			ev: notif.ChangeEvent{
				UserID: "u", Kind: notif.ChangeUpdated,
				Previous: &disabled, Current: &enabledNow,
				FieldDiff: []notif.FieldChange{{Field: watcher.FieldEnabled, From: "false", To: "true"}},
			},
			wantType: notif.ActionUpdateUser,
			wantPrio: notif.PriorityHigh,
		},
		{
			name: "updated destination",
			ev: notif.ChangeEvent{
				UserID: "u", Kind: notif.ChangeUpdated,
				Previous: &base, Current: &destMoved,
				FieldDiff: []notif.FieldChange{{Field: watcher.FieldDestination, From: "12345", To: "99999"}},
			},
			wantType: notif.ActionUpdateUser,
			wantPrio: notif.PriorityMedium,
		},
		{
			name: "updated slot time",
			ev: notif.ChangeEvent{
				UserID: "u", Kind: notif.ChangeUpdated,
				Previous: &base, Current: &slotMoved,
				FieldDiff: []notif.FieldChange{{Field: "evening_time", From: "18:00", To: "19:30"}},
			},
			wantType: notif.ActionUpdateUser,
			wantPrio: notif.PriorityHigh,
		},
		{
			name: "updated untracked change while enabled",
			ev: notif.ChangeEvent{
				UserID: "u", Kind: notif.ChangeUpdated,
				Previous: &base, Current: &base,
			},
			wantType: notif.ActionUpdateUser,
			wantPrio: notif.PriorityLow,
		},
		{
			name: "updated untracked change while disabled",
			ev: notif.ChangeEvent{
				UserID: "u", Kind: notif.ChangeUpdated,
				Previous: &disabled, Current: &disabled,
			},
			wantNil: true,
		},
		{
			name:     "deleted",
			ev:       notif.ChangeEvent{UserID: "u", Kind: notif.ChangeDeleted, Previous: &base},
			wantType: notif.ActionRemoveUser,
			wantPrio: notif.PriorityHigh,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tc.ev)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("want nil action, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("want action, got nil")
			}
			if got.Type != tc.wantType || got.Prio != tc.wantPrio {
				t.Fatalf("want %s/%s, got %s/%s", tc.wantType, tc.wantPrio, got.Type, got.Prio)
			}
			if got.UserID != "u" {
				t.Fatalf("wrong user: %s", got.UserID)
			}
			if got.Reason == "" {
				t.Fatal("action should carry a reason")
			}
		})
	}
}
