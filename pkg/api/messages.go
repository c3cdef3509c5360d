// Package api defines the wire types shared by the worksync server and its
// field clients. All payloads are JSON with snake_case keys.
package api

import "encoding/json"

// ValueKind says which work-order field a mutation touches.
type ValueKind string

const (
	KindStatus   ValueKind = "status"
	KindProgress ValueKind = "progress"
)

// StatusPatch proposes a new work-order status.
type StatusPatch struct {
	Status       string `json:"status"`
	LastModified int64  `json:"last_modified"` // unix millis of the client write
}

// ProgressPatch proposes a new completion percentage.
type ProgressPatch struct {
	Percentage float64 `json:"percentage"`
	Timestamp  int64   `json:"timestamp"` // unix millis of the client write
}

// Mutation is one client edit to shared work-order state. Exactly one of
// Status/Progress is set, matching Kind.
type Mutation struct {
	Status            *StatusPatch   `json:"status,omitempty"`
	Progress          *ProgressPatch `json:"progress,omitempty"`
	OrderID           string         `json:"order_id"`
	OrganizationID    string         `json:"organization_id"`
	ProjectID         string         `json:"project_id"`
	SectionID         string         `json:"section_id,omitempty"`
	UserID            string         `json:"user_id"`
	Kind              ValueKind      `json:"kind"`
	ConnectionQuality string         `json:"connection_quality,omitempty"`
	ClientTimestamp   int64          `json:"client_timestamp"`
}

// ClientMessage is the envelope clients send over the real-time channel.
type ClientMessage struct {
	Data json.RawMessage `json:"data,omitempty"`
	Type string          `json:"type"` // subscribe | unsubscribe | mutation
	Room string          `json:"room,omitempty"`
}

// ServerMessage is the envelope the server pushes into rooms.
type ServerMessage struct {
	Data json.RawMessage `json:"data,omitempty"`
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	Err  string          `json:"error,omitempty"`
}

// Server message types.
const (
	MessageWorkOrderUpdated = "work_order.updated"
	MessageSubscribed       = "subscribed"
	MessageUnsubscribed     = "unsubscribed"
	MessageError            = "error"
)

// WorkOrderUpdate is the authoritative state broadcast after a mutation has
// been applied (and any conflict resolved).
type WorkOrderUpdate struct {
	OrderID         string  `json:"order_id"`
	ProjectID       string  `json:"project_id"`
	Status          string  `json:"status"`
	UpdatedBy       string  `json:"updated_by"`
	Resolution      string  `json:"resolution,omitempty"` // strategy, set when a conflict was resolved
	Progress        float64 `json:"progress"`
	StatusModified  int64   `json:"status_modified"`
	ProgressUpdated int64   `json:"progress_updated"`
	Conflicts       int     `json:"conflicts,omitempty"`
}
