// Package mock provides an in-memory [history.Store] for tests.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/lexicoach/internal/history"
)

// Store keeps records in memory.
type Store struct {
	mu sync.Mutex

	// SaveErr, RecentErr and CloseErr are returned by the corresponding
	// methods when non-nil.
	SaveErr   error
	RecentErr error
	CloseErr  error

	records    []history.Record
	saveCalls  int
	closeCalls int
}

var _ history.Store = (*Store)(nil)

// SaveSession implements [history.Store].
func (s *Store) SaveSession(_ context.Context, r history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.SaveErr != nil {
		return s.SaveErr
	}
	for _, existing := range s.records {
		if existing.ID == r.ID {
			return fmt.Errorf("%w: %s", history.ErrDuplicate, r.ID)
		}
	}
	s.records = append(s.records, r)
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(_ context.Context, limit int) ([]history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	out := slices.Clone(s.records)
	slices.SortStableFunc(out, func(a, b history.Record) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit < len(out) {
		out = out[:max(limit, 0)]
	}
	return out, nil
}

// Close implements [history.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return s.CloseErr
}

// Records returns a copy of every saved record in save order.
func (s *Store) Records() []history.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// SaveCalls returns the number of SaveSession calls.
func (s *Store) SaveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCalls
}

// CloseCalls returns the number of Close calls.
func (s *Store) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
