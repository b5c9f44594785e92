package models

import "time"

type SessionState string

const (
	SessionConnected SessionState = "CONNECTED"
	SessionStreaming SessionState = "STREAMING"
	SessionDraining  SessionState = "DRAINING"
	SessionClosed    SessionState = "CLOSED"
)

// SessionInfo is a point-in-time view of one streaming session.
type SessionInfo struct {
	SessionID string       `json:"session_id"` // uuid v4
	Subject   string       `json:"subject,omitempty"`
	State     SessionState `json:"state"`
	Backlog   int          `json:"backlog"`
	Windows   int64        `json:"windows"`
	Skipped   int64        `json:"skipped"`
	Dropped   int64        `json:"dropped_bytes"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
}
