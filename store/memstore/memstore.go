// Package memstore is an in-memory store.Store reference implementation:
// a test double, not a production backend, in the same spirit as the
// teacher's mock JobSubmitter used across scheduler tests.
package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/labiium/pytestlab/store"
)

// Store is a mutex-guarded map-backed store.Store. Safe for concurrent
// use; records are copied in and out so callers can't mutate stored
// state through an aliased slice or string.
type Store struct {
	mu      sync.Mutex
	records map[string]store.Record
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[string]store.Record)}
}

// Put implements store.Store.
func (s *Store) Put(_ context.Context, rec store.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	rec.ID = id
	rec.StoredAt = time.Now()
	rec.Blob = append([]byte(nil), rec.Blob...)
	rec.Envelope = append([]byte(nil), rec.Envelope...)

	s.records[id] = rec
	return id, nil
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, id string) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return store.Record{}, fmt.Errorf("memstore: no record with id %q", id)
	}
	rec.Blob = append([]byte(nil), rec.Blob...)
	rec.Envelope = append([]byte(nil), rec.Envelope...)
	return rec, nil
}

// Search implements store.Store. It performs a case-insensitive
// substring match of query against each record's title and description
// — full-text search in the literal sense spec.md §6 asks for, not an
// inverted index; a real backend would do better, but nothing in this
// module needs more than a reference implementation of the contract.
func (s *Store) Search(_ context.Context, query string) ([]store.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(query)
	var out []store.SearchResult
	for _, rec := range s.records {
		if q == "" || strings.Contains(strings.ToLower(rec.Title), q) ||
			strings.Contains(strings.ToLower(rec.Description), q) {
			out = append(out, store.SearchResult{ID: rec.ID, Title: rec.Title, Description: rec.Description})
		}
	}
	return out, nil
}
