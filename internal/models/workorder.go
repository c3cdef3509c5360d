package models

import "time"

// Status represents the lifecycle state of a work order.
// The wire format is a plain string for backward compatibility with
// existing clients; valid values are enumerated below.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusCompleted  Status = "completed" // legacy alias of done, kept on the wire
	StatusFailed     Status = "failed"
)

// validTransitions is the closed set of allowed status edges.
// done/completed are terminal: no outgoing edges.
var validTransitions = map[Status]map[Status]bool{
	StatusPlanned: {
		StatusInProgress: true,
	},
	StatusInProgress: {
		StatusDone:      true,
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusFailed: {
		StatusPlanned: true,
	},
}

// statusRanks orders statuses for precedence-based conflict resolution.
// done and completed share a rank because they are the same terminal state.
var statusRanks = map[Status]int{
	StatusFailed:     0,
	StatusPlanned:    1,
	StatusInProgress: 2,
	StatusDone:       3,
	StatusCompleted:  3,
}

// IsValidStatus reports whether s is one of the known status values.
func IsValidStatus(s Status) bool {
	_, ok := statusRanks[s]
	return ok
}

// ValidTransition reports whether moving from one status to another is a
// legal progression of the work-order state machine.
func ValidTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// Rank returns the precedence rank of a status and whether the status is
// known. Higher ranks win when two writers propose different states.
func Rank(s Status) (int, bool) {
	r, ok := statusRanks[s]
	return r, ok
}

// WorkOrder is the persisted row a mutation path reads and writes.
// Status and Progress carry independent modification times because the two
// fields are resolved independently when writers race.
type WorkOrder struct {
	UpdatedAt       time.Time `json:"updated_at"`
	ID              string    `json:"id"`
	OrganizationID  string    `json:"organization_id"`
	ProjectID       string    `json:"project_id"`
	UpdatedBy       string    `json:"updated_by"`
	Status          Status    `json:"status"`
	Progress        float64   `json:"progress"`
	StatusModified  int64     `json:"status_modified"`  // unix millis of last status write
	ProgressUpdated int64     `json:"progress_updated"` // unix millis of last progress write
}

// Clone returns a copy of the work order.
func (w *WorkOrder) Clone() *WorkOrder {
	c := *w
	return &c
}
