// Package store defines the persistent-measurement-store contract
// PyTestLab consumes but does not implement (spec.md §6): a place to put
// an Experiment or single measurement, fetch it back by ID, and
// full-text search stored titles/descriptions. The core only depends on
// this interface; a concrete backend (a database, an object store, a
// flat-file index) is an operator concern outside this module.
package store

import (
	"context"
	"time"
)

// Record is one stored artifact: the serialized Experiment or
// measurement blob, plus the metadata Search indexes against, plus an
// optional signed envelope (compliance.Envelope, kept opaque here to
// avoid an import cycle) stored side by side with the blob under the
// same ID, per spec.md §6's "envelopes are stored side-by-side with
// results under an adjacent key."
type Record struct {
	ID          string
	Blob        []byte
	Title       string
	Description string
	Envelope    []byte // canonical envelope bytes, if the result was signed
	StoredAt    time.Time
}

// SearchResult is one hit from Search: just enough to let a caller
// decide whether to Get the full record.
type SearchResult struct {
	ID          string
	Title       string
	Description string
}

// Store is the subset of a persistent measurement database PyTestLab
// consumes. Using an interface (rather than a concrete client) lets
// callers inject an in-memory double in tests without pulling in a real
// backend — same reasoning as the teacher's JobSubmitter interface over
// the concrete WorkerPool.
type Store interface {
	// Put persists rec. If rec.ID is empty, the store generates one and
	// returns it; otherwise Put overwrites any existing record at that ID
	// and returns it unchanged.
	Put(ctx context.Context, rec Record) (id string, err error)

	// Get fetches the record stored at id, or an error if no such record
	// exists.
	Get(ctx context.Context, id string) (Record, error)

	// Search returns the title/description of every record whose title or
	// description contains query, case-insensitively. An empty query
	// matches every record.
	Search(ctx context.Context, query string) ([]SearchResult, error)
}
