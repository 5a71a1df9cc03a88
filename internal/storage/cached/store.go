// Package cached puts an LRU read cache in front of a checkpoint store.
package cached

import (
	"context"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tjfontaine/deep-interviewer/internal/storage"
)

// Store caches loaded checkpoints. Saves write through to the backing
// store and evict the cached entry.
type Store struct {
	storage.Store
	cache *lru.Cache[string, *storage.Checkpoint]
}

var _ storage.Store = (*Store)(nil)

// New wraps backend with a cache holding up to size checkpoints.
func New(backend storage.Store, size int) (*Store, error) {
	cache, err := lru.New[string, *storage.Checkpoint](size)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint cache: %w", err)
	}
	return &Store{Store: backend, cache: cache}, nil
}

func clone(cp *storage.Checkpoint) *storage.Checkpoint {
	out := *cp
	out.Data = slices.Clone(cp.Data)
	return &out
}

func (s *Store) Load(ctx context.Context, sessionID string) (*storage.Checkpoint, error) {
	if cp, ok := s.cache.Get(sessionID); ok {
		return clone(cp), nil
	}
	cp, err := s.Store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(sessionID, clone(cp))
	return cp, nil
}

func (s *Store) Save(ctx context.Context, cp *storage.Checkpoint) error {
	err := s.Store.Save(ctx, cp)
	// The backend may keep fields such as CreatedAt from an earlier save,
	// so the next load reads the stored row.
	s.cache.Remove(cp.SessionID)
	return err
}

// Len reports the number of cached checkpoints.
func (s *Store) Len() int {
	return s.cache.Len()
}
