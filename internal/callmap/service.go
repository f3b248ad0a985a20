package callmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callmap-service/pkg/utils"
)

// Service provides mapping operations on top of a Repository, plus a redis
// lookaside cache for the call_id -> sock_url hot path.
//
// Invariants owned here:
// - Every write that can change which endpoint a call resolves to
//   invalidates (or refreshes) the cache entry for that call.
// - updated_at is bumped by the repository on every mutation; the service
//   never writes it directly.
type Service struct {
	repo  Repository
	cache *utils.SockURLCache
	log   *slog.Logger

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

// NewService builds a Service. cache may be nil, in which case every
// sock_url resolution goes to the repository.
func NewService(repo Repository, cache *utils.SockURLCache, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, cache: cache, log: log, clock: time.Now}
}

// CreateRequest carries caller-supplied fields for a new mapping.
// SockURL is the only required field.
type CreateRequest struct {
	AgentStatus     string     `json:"agent_status,omitempty"`
	CallID          string     `json:"call_id,omitempty"`
	AgentID         string     `json:"agent_id,omitempty"`
	SockURL         string     `json:"sock_url"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	TranscribedText string     `json:"transcribed_text,omitempty"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (Mapping, error) {
	m, err := s.repo.Create(ctx, Mapping{
		AgentStatus:     req.AgentStatus,
		CallID:          req.CallID,
		AgentID:         req.AgentID,
		SockURL:         req.SockURL,
		EndTime:         req.EndTime,
		TranscribedText: req.TranscribedText,
	})
	if err != nil {
		return Mapping{}, err
	}
	s.log.Info("mapping created", "id", m.ID, "agent_id", m.AgentID, "sock_url", m.SockURL)
	return m, nil
}

func (s *Service) Get(ctx context.Context, id string) (Mapping, error) {
	if id == "" {
		return Mapping{}, ErrInvalidArgument
	}
	return s.repo.LookupByID(ctx, id)
}

func (s *Service) ByCall(ctx context.Context, callID string) ([]Mapping, error) {
	if callID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.LookupByCallID(ctx, callID)
}

func (s *Service) ByAgent(ctx context.Context, agentID string) ([]Mapping, error) {
	if agentID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.LookupByAgentID(ctx, agentID)
}

func (s *Service) CreatedBetween(ctx context.Context, from, to time.Time) ([]Mapping, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end before start", ErrInvalidArgument)
	}
	return s.repo.RangeByCreatedAt(ctx, from, to)
}

func (s *Service) UpdatedBetween(ctx context.Context, from, to time.Time) ([]Mapping, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end before start", ErrInvalidArgument)
	}
	return s.repo.RangeByUpdatedAt(ctx, from, to)
}

// Apply mutates a mapping in place. The cached sock_url for the row's call
// is dropped because a status flip can change which row is "latest".
func (s *Service) Apply(ctx context.Context, id string, u Update) (Mapping, error) {
	if id == "" {
		return Mapping{}, ErrInvalidArgument
	}
	m, err := s.repo.Update(ctx, id, u)
	if err != nil {
		return Mapping{}, err
	}
	s.dropCached(ctx, m.CallID)
	return m, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidArgument
	}
	m, err := s.repo.LookupByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteByID(ctx, id); err != nil {
		return err
	}
	s.dropCached(ctx, m.CallID)
	s.log.Info("mapping deleted", "id", id)
	return nil
}

// AssignCall hands callID to the oldest READY agent and caches the claimed
// endpoint for subsequent sock_url resolutions.
func (s *Service) AssignCall(ctx context.Context, callID string) (Assignment, error) {
	if callID == "" {
		return Assignment{}, ErrInvalidArgument
	}
	a, err := s.repo.AssignReadyAgent(ctx, callID)
	if errors.Is(err, ErrNotFound) {
		s.log.Info("no READY agent available", "call_id", callID)
		return Assignment{}, err
	}
	if err != nil {
		return Assignment{}, err
	}
	s.log.Info("call assigned", "call_id", callID, "agent_id", a.AgentID, "sock_url", a.SockURL)
	if s.cache != nil {
		if err := s.cache.Set(ctx, callID, a.SockURL); err != nil {
			s.log.Warn("sock_url cache set failed", "call_id", callID, "err", err)
		}
	}
	return a, nil
}

// CompleteCall marks every mapping for callID COMPLETED with end_time set.
// Returns the number of rows updated; zero is not an error.
func (s *Service) CompleteCall(ctx context.Context, callID string) (int64, error) {
	if callID == "" {
		return 0, ErrInvalidArgument
	}
	n, err := s.repo.CompleteCall(ctx, callID)
	if err != nil {
		return 0, err
	}
	s.dropCached(ctx, callID)
	s.log.Info("call completed", "call_id", callID, "rows", n)
	return n, nil
}

// AttachTranscript stores transcription output on the mappings for callID.
func (s *Service) AttachTranscript(ctx context.Context, callID, text string) (int64, error) {
	if callID == "" || text == "" {
		return 0, ErrInvalidArgument
	}
	n, err := s.repo.AttachTranscript(ctx, callID, text)
	if err != nil {
		return 0, err
	}
	s.log.Info("transcript attached", "call_id", callID, "rows", n, "chars", len(text))
	return n, nil
}

// SockURLForCall resolves the signaling endpoint for a call, consulting the
// cache first. A repository miss is propagated as ErrNotFound.
func (s *Service) SockURLForCall(ctx context.Context, callID string) (string, error) {
	if callID == "" {
		return "", ErrInvalidArgument
	}
	if s.cache != nil {
		url, err := s.cache.Get(ctx, callID)
		if err == nil {
			return url, nil
		}
		if !errors.Is(err, utils.ErrCacheMiss) {
			s.log.Warn("sock_url cache get failed", "call_id", callID, "err", err)
		}
	}
	url, err := s.repo.SockURLForCall(ctx, callID)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, callID, url); err != nil {
			s.log.Warn("sock_url cache set failed", "call_id", callID, "err", err)
		}
	}
	return url, nil
}

// RegisterEndpoint implements the agent init flow: an agent whose latest
// mapping is still READY or INPROGRESS keeps its endpoint; otherwise a fresh
// READY row is inserted for sockURL.
//
// Returns the effective endpoint and whether an existing one was reused.
func (s *Service) RegisterEndpoint(ctx context.Context, agentID, sockURL string) (string, bool, error) {
	if agentID == "" {
		return "", false, ErrInvalidArgument
	}

	latest, err := s.repo.LatestForAgent(ctx, agentID)
	switch {
	case err == nil:
		if latest.AgentStatus == StatusReady || latest.AgentStatus == StatusInProgress {
			if sockURL == "" || sockURL == latest.SockURL {
				return latest.SockURL, true, nil
			}
			// Endpoint moved while the agent was live; record the new one.
		}
	case !errors.Is(err, ErrNotFound):
		return "", false, err
	}

	if sockURL == "" {
		return "", false, fmt.Errorf("%w: sock_url required for a new endpoint", ErrInvalidArgument)
	}
	m, err := s.repo.Create(ctx, Mapping{AgentID: agentID, SockURL: sockURL, AgentStatus: StatusReady})
	if err != nil {
		return "", false, err
	}
	s.log.Info("agent endpoint registered", "agent_id", agentID, "sock_url", m.SockURL)
	return m.SockURL, false, nil
}

// CloseEndpoint removes the newest mapping for key (an agent_id or call_id)
// and returns the endpoint that was dropped.
func (s *Service) CloseEndpoint(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidArgument
	}
	url, err := s.repo.RemoveLatest(ctx, key)
	if err != nil {
		return "", err
	}
	s.dropCached(ctx, key)
	s.log.Info("endpoint closed", "key", key, "sock_url", url)
	return url, nil
}

// WarmCache preloads the sock_url cache from rows touched in the last
// window. Run once at startup so a restart does not cold-start the hot path.
func (s *Service) WarmCache(ctx context.Context, window time.Duration) (int, error) {
	if s.cache == nil || window <= 0 {
		return 0, nil
	}
	now := s.clock().UTC()
	rows, err := s.repo.RangeByUpdatedAt(ctx, now.Add(-window), now)
	if err != nil {
		return 0, err
	}
	warmed := 0
	// Ascending updated_at order means the newest row for a call wins.
	for _, m := range rows {
		if m.CallID == "" {
			continue
		}
		if err := s.cache.Set(ctx, m.CallID, m.SockURL); err != nil {
			s.log.Warn("cache warm-up set failed", "call_id", m.CallID, "err", err)
			continue
		}
		warmed++
	}
	s.log.Info("sock_url cache warmed", "rows", warmed, "window", window.String())
	return warmed, nil
}

func (s *Service) dropCached(ctx context.Context, callID string) {
	if s.cache == nil || callID == "" {
		return
	}
	if err := s.cache.Invalidate(ctx, callID); err != nil {
		s.log.Warn("sock_url cache invalidate failed", "call_id", callID, "err", err)
	}
}
