package callmap

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests and early development.
// It mirrors the Postgres semantics: server-assigned defaults, inclusive
// time ranges in index order, and the same sentinel errors.
type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]Mapping

	// Clock is injectable for deterministic tests.
	Clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: map[string]Mapping{}, Clock: time.Now}
}

func (r *MemoryRepo) now() time.Time { return r.Clock().UTC() }

func (r *MemoryRepo) Create(ctx context.Context, m Mapping) (Mapping, error) {
	if m.SockURL == "" {
		return Mapping{}, ErrConstraintViolation
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	} else if _, exists := r.rows[m.ID]; exists {
		return Mapping{}, ErrDuplicateKey
	}
	if m.AgentStatus == "" {
		m.AgentStatus = StatusReady
	}
	now := r.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	r.rows[m.ID] = m
	return m, nil
}

func (r *MemoryRepo) LookupByID(ctx context.Context, id string) (Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return Mapping{}, ErrNotFound
	}
	return m, nil
}

func (r *MemoryRepo) LookupByCallID(ctx context.Context, callID string) ([]Mapping, error) {
	return r.filter(func(m Mapping) bool { return m.CallID == callID }, byRecency)
}

func (r *MemoryRepo) LookupByAgentID(ctx context.Context, agentID string) ([]Mapping, error) {
	return r.filter(func(m Mapping) bool { return m.AgentID == agentID }, byRecency)
}

func (r *MemoryRepo) RangeByCreatedAt(ctx context.Context, from, to time.Time) ([]Mapping, error) {
	return r.filter(func(m Mapping) bool {
		return !m.CreatedAt.Before(from) && !m.CreatedAt.After(to)
	}, func(a, b Mapping) bool { return a.CreatedAt.Before(b.CreatedAt) })
}

func (r *MemoryRepo) RangeByUpdatedAt(ctx context.Context, from, to time.Time) ([]Mapping, error) {
	return r.filter(func(m Mapping) bool {
		return !m.UpdatedAt.Before(from) && !m.UpdatedAt.After(to)
	}, func(a, b Mapping) bool { return a.UpdatedAt.Before(b.UpdatedAt) })
}

func (r *MemoryRepo) filter(keep func(Mapping) bool, less func(a, b Mapping) bool) ([]Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Mapping, 0)
	for _, m := range r.rows {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

// byRecency orders most recently updated first, matching the secondary-index
// lookup queries.
func byRecency(a, b Mapping) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (r *MemoryRepo) Update(ctx context.Context, id string, u Update) (Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return Mapping{}, ErrNotFound
	}
	if u.Empty() {
		return m, nil
	}
	if u.AgentStatus != nil {
		m.AgentStatus = *u.AgentStatus
	}
	if u.EndTime != nil {
		t := *u.EndTime
		m.EndTime = &t
	}
	if u.TranscribedText != nil {
		m.TranscribedText = *u.TranscribedText
	}
	m.UpdatedAt = r.now()
	r.rows[id] = m
	return m, nil
}

func (r *MemoryRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *MemoryRepo) AssignReadyAgent(ctx context.Context, callID string) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var picked *Mapping
	for id := range r.rows {
		m := r.rows[id]
		if m.AgentStatus != StatusReady {
			continue
		}
		if picked == nil || m.CreatedAt.Before(picked.CreatedAt) {
			picked = &m
		}
	}
	if picked == nil {
		return Assignment{}, ErrNotFound
	}

	m := *picked
	m.AgentStatus = StatusInProgress
	m.CallID = callID
	m.UpdatedAt = r.now()
	m.EndTime = nil
	r.rows[m.ID] = m
	return Assignment{AgentID: m.AgentID, SockURL: m.SockURL}, nil
}

func (r *MemoryRepo) CompleteCall(ctx context.Context, callID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var n int64
	for id, m := range r.rows {
		if m.CallID != callID {
			continue
		}
		m.AgentStatus = StatusCompleted
		end := now
		m.EndTime = &end
		m.UpdatedAt = now
		r.rows[id] = m
		n++
	}
	return n, nil
}

func (r *MemoryRepo) AttachTranscript(ctx context.Context, callID, text string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var n int64
	for id, m := range r.rows {
		if m.CallID != callID {
			continue
		}
		m.TranscribedText = text
		m.UpdatedAt = now
		r.rows[id] = m
		n++
	}
	return n, nil
}

func (r *MemoryRepo) SockURLForCall(ctx context.Context, callID string) (string, error) {
	matches, _ := r.LookupByCallID(ctx, callID)
	if len(matches) == 0 {
		return "", ErrNotFound
	}
	return matches[0].SockURL, nil
}

func (r *MemoryRepo) LatestForAgent(ctx context.Context, agentID string) (Endpoint, error) {
	matches, _ := r.filter(func(m Mapping) bool { return m.AgentID == agentID }, func(a, b Mapping) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
	if len(matches) == 0 {
		return Endpoint{}, ErrNotFound
	}
	return Endpoint{AgentStatus: matches[0].AgentStatus, SockURL: matches[0].SockURL}, nil
}

func (r *MemoryRepo) RemoveLatest(ctx context.Context, key string) (string, error) {
	matches, _ := r.filter(func(m Mapping) bool {
		return m.AgentID == key || m.CallID == key
	}, byRecency)
	if len(matches) == 0 {
		return "", ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, matches[0].ID)
	return matches[0].SockURL, nil
}
