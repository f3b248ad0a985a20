package callmap

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by single-row operations when no row matches.
	// Set-returning lookups return empty slices instead, never this error.
	ErrNotFound = errors.New("mapping not found")

	// ErrConstraintViolation is returned when an insert omits sock_url
	// (not-null violation, SQLSTATE 23502).
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrDuplicateKey is returned on a forced primary-key collision
	// (SQLSTATE 23505). Server-generated UUIDs make this practically
	// unreachable.
	ErrDuplicateKey = errors.New("duplicate key")

	ErrInvalidArgument = errors.New("invalid argument")
)

// Repository is the storage contract for call mapping rows.
//
// Point lookups are keyed by id; the secondary indexes back the call_id,
// agent_id, and timestamp queries. Each mutation is a single-row atomic
// write; there is no version column, so concurrent updates to the same id
// resolve last-writer-wins.
type Repository interface {
	// Create inserts m and returns the stored row with server-assigned
	// defaults (id, agent_status, created_at, updated_at) filled in.
	Create(ctx context.Context, m Mapping) (Mapping, error)

	// LookupByID returns the row for id or ErrNotFound.
	LookupByID(ctx context.Context, id string) (Mapping, error)

	// LookupByCallID returns every row with the given call_id, most
	// recently updated first.
	LookupByCallID(ctx context.Context, callID string) ([]Mapping, error)

	// LookupByAgentID returns every row with the given agent_id, most
	// recently updated first.
	LookupByAgentID(ctx context.Context, agentID string) ([]Mapping, error)

	// RangeByCreatedAt returns rows with created_at in [from, to]
	// inclusive, in index (ascending created_at) order.
	RangeByCreatedAt(ctx context.Context, from, to time.Time) ([]Mapping, error)

	// RangeByUpdatedAt returns rows with updated_at in [from, to]
	// inclusive, in index (ascending updated_at) order.
	RangeByUpdatedAt(ctx context.Context, from, to time.Time) ([]Mapping, error)

	// Update applies u to the row with the given id and bumps updated_at.
	// Returns the row as stored after the write.
	Update(ctx context.Context, id string, u Update) (Mapping, error)

	// DeleteByID hard-deletes a row. ErrNotFound if absent.
	DeleteByID(ctx context.Context, id string) error

	// AssignReadyAgent atomically claims the oldest READY row (by
	// created_at), marks it INPROGRESS with the given call_id, clears
	// end_time, and returns the claimed agent/endpoint. ErrNotFound when
	// no READY agent exists.
	AssignReadyAgent(ctx context.Context, callID string) (Assignment, error)

	// CompleteCall marks every row for call_id COMPLETED with
	// end_time = now. Returns the number of rows updated.
	CompleteCall(ctx context.Context, callID string) (int64, error)

	// AttachTranscript stores transcription output on every row for
	// call_id. Returns the number of rows updated.
	AttachTranscript(ctx context.Context, callID, text string) (int64, error)

	// SockURLForCall returns the most recently touched sock_url for a
	// call_id, or ErrNotFound.
	SockURLForCall(ctx context.Context, callID string) (string, error)

	// LatestForAgent returns the (status, sock_url) of the newest row by
	// created_at for agent_id, or ErrNotFound.
	LatestForAgent(ctx context.Context, agentID string) (Endpoint, error)

	// RemoveLatest deletes the most recently touched row whose agent_id
	// or call_id equals key and returns its sock_url, or ErrNotFound.
	RemoveLatest(ctx context.Context, key string) (string, error)
}
