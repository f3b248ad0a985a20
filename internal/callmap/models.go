package callmap

import "time"

// Mapping is the live association between a telephony call, the agent
// handling it, and the signaling endpoint the agent is reachable on.
//
// SockURL is the only required field: a mapping without a signaling
// endpoint is useless to every consumer, so the store rejects it.
//
// EndTime nil means the call is considered still active. That convention
// lives with the callers; the store does not enforce it.
type Mapping struct {
	ID          string     `json:"id" db:"id"`
	AgentStatus string     `json:"agent_status" db:"agent_status"`
	CallID      string     `json:"call_id,omitempty" db:"call_id"`
	AgentID     string     `json:"agent_id,omitempty" db:"agent_id"`
	SockURL     string     `json:"sock_url" db:"sock_url"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	EndTime     *time.Time `json:"end_time,omitempty" db:"end_time"`

	// TranscribedText is attached by the transcription pipeline after the
	// call completes. Empty until then.
	TranscribedText string `json:"transcribed_text,omitempty" db:"transcribed_text"`
}

// Agent statuses used by the assign/complete flows. The column itself is
// free text: collaborators may write values outside this set and the store
// accepts them.
const (
	StatusReady      = "READY"
	StatusInProgress = "INPROGRESS"
	StatusCompleted  = "COMPLETED"
)

// Active reports whether the call tracked by this mapping is still
// considered in progress.
func (m Mapping) Active() bool {
	return m.EndTime == nil
}

// Update describes an in-place mutation of a mapping row. Nil fields are
// left untouched; updated_at is always bumped by the store.
type Update struct {
	AgentStatus     *string
	EndTime         *time.Time
	TranscribedText *string
}

// Empty reports whether the update would change nothing.
func (u Update) Empty() bool {
	return u.AgentStatus == nil && u.EndTime == nil && u.TranscribedText == nil
}

// Assignment is the result of handing a call to a READY agent.
type Assignment struct {
	AgentID string `json:"agent_id"`
	SockURL string `json:"sock_url"`
}

// Endpoint is the (status, sock_url) pair of an agent's latest mapping row,
// used to decide whether a registering agent reuses its existing endpoint.
type Endpoint struct {
	AgentStatus string `json:"agent_status"`
	SockURL     string `json:"sock_url"`
}
