// Package conflict detects and deterministically resolves divergent
// concurrent writes to work-order state. Two value kinds are handled:
// finite-state status transitions and monotonic completion percentages.
// Detection and resolution are pure over their inputs; serializing calls for
// the same entity is the caller's responsibility.
package conflict

import "time"

// Type classifies what kind of value diverged.
type Type string

const (
	TypeStateTransition    Type = "state_transition"
	TypeProgressPercentage Type = "progress_percentage"
	// TypeGeoCoordinate is reserved; detection is intentionally not
	// implemented yet.
	TypeGeoCoordinate Type = "geo_coordinate"
)

// Severity grades how dangerous it would be to apply the wrong side.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Source says which side of the sync produced a value.
type Source string

const (
	SourceLocal         Source = "local"
	SourceRemote        Source = "remote"
	SourceAuthoritative Source = "authoritative"
)

// ConnectionQuality is the client's self-reported link state at write time.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityPoor      ConnectionQuality = "poor"
	QualityOffline   ConnectionQuality = "offline"
)

// Metadata travels with every detect/resolve call and is never mutated.
type Metadata struct {
	Timestamp         time.Time         `json:"timestamp"`
	UserID            string            `json:"user_id"`
	OrganizationID    string            `json:"organization_id"`
	WorkOrderID       string            `json:"work_order_id"`
	SectionID         string            `json:"section_id,omitempty"`
	Source            Source            `json:"source"`
	ConnectionQuality ConnectionQuality `json:"connection_quality,omitempty"`
}

// Conflict is one detected divergence. It is created by detection and
// consumed exactly once by resolution; this core does not persist it.
type Conflict struct {
	DetectedAt     time.Time   `json:"detected_at"`
	LocalValue     interface{} `json:"local_value"`
	RemoteValue    interface{} `json:"remote_value"`
	ID             string      `json:"id"`
	Type           Type        `json:"type"`
	Severity       Severity    `json:"severity"`
	Metadata       Metadata    `json:"metadata"`
	AutoResolvable bool        `json:"auto_resolvable"`
}

// Result is the outcome of one detection pass. CanAutoResolve holds only
// when every detected conflict is auto-resolvable.
type Result struct {
	Conflicts      []Conflict `json:"conflicts"`
	HasConflict    bool       `json:"has_conflict"`
	CanAutoResolve bool       `json:"can_auto_resolve"`
}

// Strategy names the rule that picked the authoritative value.
type Strategy string

const (
	StrategyPrecedenceGraph  Strategy = "precedence_graph"
	StrategyMonotonicCounter Strategy = "monotonic_counter"
	StrategyLastWriterWins   Strategy = "last_writer_wins"
)

// ResolutionResult is the terminal output of resolution. The caller persists
// and rebroadcasts the resolved value.
type ResolutionResult struct {
	AppliedAt     time.Time   `json:"applied_at"`
	ResolvedValue interface{} `json:"resolved_value"`
	Strategy      Strategy    `json:"strategy"`
	Confidence    float64     `json:"confidence"`
	Success       bool        `json:"success"`
}
