// Package memstore provides an in-memory implementation of alerting.Store.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/linnemanlabs/watchpost/internal/alert"
)

// Store holds alerts in memory. Suitable for dev/testing.
type Store struct {
	mu     sync.RWMutex
	alerts map[string]*alert.Alert // alert ID -> alert
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		alerts: make(map[string]*alert.Alert),
	}
}

// Create stores a copy of a at version 1.
func (s *Store) Create(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; ok {
		return fmt.Errorf("alert %s already exists", a.ID)
	}
	a.Version = 1
	s.alerts[a.ID] = a.Clone()
	return nil
}

// Load retrieves an alert by its ID. Returns a copy.
func (s *Store) Load(_ context.Context, id string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

// Save replaces the stored alert if it is still at expectedVersion.
func (s *Store) Save(_ context.Context, a *alert.Alert, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.alerts[a.ID]
	if !ok {
		return alert.NotFound(a.ID)
	}
	if cur.Version != expectedVersion {
		return alert.VersionConflict(a.ID, expectedVersion, cur.Version)
	}
	a.Version = expectedVersion + 1
	s.alerts[a.ID] = a.Clone()
	return nil
}
