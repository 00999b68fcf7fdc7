package domain

// ExecutionStatus is the lifecycle status of a StateExecutionInstance.
type ExecutionStatus string

const (
	StatusNew      ExecutionStatus = "NEW"
	StatusStarting ExecutionStatus = "STARTING"
	StatusRunning  ExecutionStatus = "RUNNING"
	StatusPaused   ExecutionStatus = "PAUSED"
	StatusSuccess  ExecutionStatus = "SUCCESS"
	StatusFailed   ExecutionStatus = "FAILED"
	StatusError    ExecutionStatus = "ERROR"
	StatusAborted  ExecutionStatus = "ABORTED"
)

// ActiveStatuses are the statuses an instance may hold before it finishes.
var ActiveStatuses = []ExecutionStatus{StatusNew, StatusStarting, StatusRunning, StatusPaused}

// IsFinal reports whether no further execution happens for an instance in this status.
func (s ExecutionStatus) IsFinal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusError, StatusAborted:
		return true
	}
	return false
}

// In reports whether s is one of the given statuses.
func (s ExecutionStatus) In(statuses ...ExecutionStatus) bool {
	for _, candidate := range statuses {
		if s == candidate {
			return true
		}
	}
	return false
}
