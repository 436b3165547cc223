package notif

// ActionType is the scheduler mutation requested by the change processor.
type ActionType string

const (
	ActionAddUser    ActionType = "ADD_USER"
	ActionUpdateUser ActionType = "UPDATE_USER"
	ActionRemoveUser ActionType = "REMOVE_USER"
)

// Priority orders actions in the bridge queue. Higher drains first; ties
// preserve arrival order.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Action is the unit of work applied to the job scheduler. Payload carries the
// preferences to (re)register for ADD/UPDATE; it is nil for REMOVE.
type Action struct {
	Type    ActionType
	UserID  string
	Payload *Preferences
	Prio    Priority
	Reason  string
}
