package sync

// ActionKind is the single action assigned to a snapshot by reconciliation.
type ActionKind string

const (
	// ActionNone means reconciliation has not assigned anything yet.
	ActionNone ActionKind = ""

	ActionLocalAdded     ActionKind = "LocalAdded"
	ActionLocalChanged   ActionKind = "LocalChanged"
	ActionLocalUnchanged ActionKind = "LocalUnchanged"
	ActionLocalDeleted   ActionKind = "LocalDeleted"
	ActionRemoteAdded    ActionKind = "RemoteAdded"
	ActionRemoteChanged  ActionKind = "RemoteChanged"
	ActionRemoteDeleted  ActionKind = "RemoteDeleted"
	// ActionConflict is assigned to the local snapshot, which carries its remote pair.
	ActionConflict ActionKind = "Conflict"
	ActionNoOp     ActionKind = "NoOp"
)

var allActions = []ActionKind{
	ActionLocalAdded,
	ActionLocalChanged,
	ActionLocalUnchanged,
	ActionLocalDeleted,
	ActionRemoteAdded,
	ActionRemoteChanged,
	ActionRemoteDeleted,
	ActionConflict,
	ActionNoOp,
}

func (a ActionKind) String() string {
	if a == ActionNone {
		return "None"
	}
	return string(a)
}

// forLocal reports whether the action is executed from a local snapshot.
func (a ActionKind) forLocal() bool {
	switch a {
	case ActionLocalAdded, ActionLocalChanged, ActionLocalUnchanged, ActionLocalDeleted, ActionConflict, ActionNoOp:
		return true
	}
	return false
}

// forRemote reports whether the action is executed from a remote snapshot.
func (a ActionKind) forRemote() bool {
	switch a {
	case ActionRemoteAdded, ActionRemoteChanged, ActionRemoteDeleted, ActionNoOp:
		return true
	}
	return false
}
