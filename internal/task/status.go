package task

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPlanned, StatusReady, StatusInProgress,
	StatusCompleted, StatusFailed, StatusBlocked,
}

var transitions = map[Status][]Status{
	StatusPlanned:    {StatusReady, StatusBlocked},
	StatusReady:      {StatusInProgress, StatusBlocked},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusBlocked},
	StatusBlocked:    {StatusReady},
}

// IsTerminal reports whether no further transitions are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// CanTransition reports whether the state machine allows from -> to.
// Dependency checks are separate; see Registry.Transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// needsDependencies reports whether entering to from from requires every
// dependency to be completed.
func needsDependencies(from, to Status) bool {
	return to == StatusReady || (from == StatusReady && to == StatusInProgress)
}
