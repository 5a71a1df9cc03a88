// Package memory provides in-process stores for tests and single-run
// deployments.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/deep-interviewer/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu          sync.RWMutex
	checkpoints map[string]*storage.Checkpoint
	invites     map[string]*storage.Invite
	now         func() time.Time
}

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		checkpoints: make(map[string]*storage.Checkpoint),
		invites:     make(map[string]*storage.Invite),
		now:         time.Now,
	}
}

func copyCheckpoint(cp *storage.Checkpoint) *storage.Checkpoint {
	out := *cp
	out.Data = slices.Clone(cp.Data)
	return &out
}

func copyInvite(inv *storage.Invite) *storage.Invite {
	out := *inv
	if inv.UsedAt != nil {
		t := *inv.UsedAt
		out.UsedAt = &t
	}
	return &out
}

func (s *Store) Load(ctx context.Context, sessionID string) (*storage.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyCheckpoint(cp), nil
}

func (s *Store) Save(ctx context.Context, cp *storage.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyCheckpoint(cp)
	if existing, ok := s.checkpoints[cp.SessionID]; ok {
		stored.CreatedAt = existing.CreatedAt
		stored.InviteCode = existing.InviteCode
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = s.now()
	}
	s.checkpoints[cp.SessionID] = stored
	return nil
}

func (s *Store) ListSessions(ctx context.Context) ([]storage.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.SessionInfo, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		out = append(out, storage.SessionInfo{
			ID:         cp.SessionID,
			InviteCode: cp.InviteCode,
			IsComplete: cp.IsComplete,
			CreatedAt:  cp.CreatedAt,
			UpdatedAt:  cp.UpdatedAt,
		})
	}
	slices.SortFunc(out, func(a, b storage.SessionInfo) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out, nil
}

func (s *Store) CreateInvite(ctx context.Context, codeType string) (*storage.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := storage.CreateWithRetry(func(code string) (bool, error) {
		if _, exists := s.invites[code]; exists {
			return false, nil
		}
		s.invites[code] = &storage.Invite{Code: code, CodeType: codeType, CreatedAt: s.now()}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return copyInvite(s.invites[code]), nil
}

// AddInvite stores a fixed code. It is meant for seeding tests.
func (s *Store) AddInvite(code, codeType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code = storage.NormalizeCode(code)
	s.invites[code] = &storage.Invite{Code: code, CodeType: codeType, CreatedAt: s.now()}
}

func (s *Store) GetInvite(ctx context.Context, code string) (*storage.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invites[storage.NormalizeCode(code)]
	if !ok {
		return nil, storage.ErrInviteNotFound
	}
	return copyInvite(inv), nil
}

func (s *Store) LinkInvite(ctx context.Context, code, sessionID string) (*storage.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invites[storage.NormalizeCode(code)]
	if !ok {
		return nil, storage.ErrInviteNotFound
	}
	if inv.Linked() {
		if inv.SessionID != sessionID {
			return copyInvite(inv), storage.ErrInviteTaken
		}
		return copyInvite(inv), nil
	}
	now := s.now()
	inv.SessionID = sessionID
	inv.UsedAt = &now
	return copyInvite(inv), nil
}

func (s *Store) ListInvites(ctx context.Context) ([]storage.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Invite, 0, len(s.invites))
	for _, inv := range s.invites {
		out = append(out, *copyInvite(inv))
	}
	slices.SortFunc(out, func(a, b storage.Invite) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
