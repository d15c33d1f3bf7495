// Package memlookup provides an in-memory implementation of refs.Lookup.
package memlookup

import (
	"context"
	"fmt"
	"sync"

	"github.com/linnemanlabs/watchpost/internal/refs"
)

// Lookup holds records in memory. Suitable for dev/testing.
type Lookup struct {
	mu      sync.RWMutex
	records map[string]*refs.Record // code -> record
}

// New initializes a Lookup seeded with recs.
func New(recs ...refs.Record) *Lookup {
	l := &Lookup{records: make(map[string]*refs.Record, len(recs))}
	for _, r := range recs {
		l.Put(r)
	}
	return l
}

// Put stores a copy of r under its code.
func (l *Lookup) Put(r refs.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[r.Code] = &r
}

// FindByCode returns a copy of the record with the given code.
func (l *Lookup) FindByCode(ctx context.Context, code string) (*refs.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.records[code]
	if !ok {
		return nil, fmt.Errorf("%s: %w", code, refs.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}
