package domain

// Status is the lifecycle state of a Paper.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusFailedNoText Status = "failed_no_text"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusFailedNoText,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no pipeline stage moves a paper out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusFailedNoText:
		return true
	default:
		return false
	}
}

// Predecessors returns the statuses a paper may hold right before moving to s.
// Pending has none: the only way back is an explicit re-queue.
func (s Status) Predecessors() []Status {
	switch s {
	case StatusProcessing:
		return []Status{StatusPending}
	case StatusCompleted, StatusFailed, StatusFailedNoText:
		return []Status{StatusPending, StatusProcessing}
	default:
		return nil
	}
}

// CanTransition reports whether from -> to moves forward along the state machine.
func CanTransition(from, to Status) bool {
	for _, p := range to.Predecessors() {
		if p == from {
			return true
		}
	}
	return false
}

// Requeueable reports whether an operator may push a paper in s back to pending.
func (s Status) Requeueable() bool {
	return s == StatusFailed || s == StatusProcessing
}
