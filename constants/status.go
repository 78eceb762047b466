package constants

// JobStatus is the canonical status for a document job.
type JobStatus string

// Stable values (persisted and returned to clients as-is).
const (
	JobStatusPending   JobStatus = "pending"   // accepted, waiting for a worker
	JobStatusRunning   JobStatus = "running"   // pages are being processed
	JobStatusCompleted JobStatus = "completed" // terminal
	JobStatusFailed    JobStatus = "failed"    // terminal failure
)

// legal edges of the job state machine.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusFailed},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed},
}

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
