package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/storage"
)

// Store keeps records in memory. Data is lost on restart.
// Useful for testing and dry runs.
type Store struct {
	tables map[string][]measure.Record
	mu     sync.RWMutex
}

var _ storage.Store = (*Store)(nil)

// New creates an in-memory store
func New() *Store {
	return &Store{
		tables: make(map[string][]measure.Record),
	}
}

// Ping is a no-op for memory storage
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Query retrieves records matching the request, ordered by identifier then timestamp
func (s *Store) Query(ctx context.Context, table storage.Table, req storage.QueryRequest) ([]measure.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []measure.Record
	for _, r := range s.tables[table.Name] {
		if req.Matches(r) {
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Identifier != results[j].Identifier {
			return results[i].Identifier < results[j].Identifier
		}
		return results[i].Timestamp.Before(results[j].Timestamp)
	})

	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// Count returns the number of rows matching p
func (s *Store) Count(ctx context.Context, table storage.Table, p storage.Predicate) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match := p.Matcher()
	n := 0
	for _, r := range s.tables[table.Name] {
		if match(r) {
			n++
		}
	}
	return n, nil
}

// Delete removes rows matching p
func (s *Store) Delete(ctx context.Context, table storage.Table, p storage.Predicate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteLocked(table, p), nil
}

// Append stores records
func (s *Store) Append(ctx context.Context, table storage.Table, records []measure.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tables[table.Name] = append(s.tables[table.Name], records...)
	return nil
}

// Replace deletes rows matching p and appends records under one lock
func (s *Store) Replace(ctx context.Context, table storage.Table, p storage.Predicate, records []measure.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := s.deleteLocked(table, p)
	s.tables[table.Name] = append(s.tables[table.Name], records...)
	return deleted, nil
}

// Stats returns table statistics
func (s *Store) Stats(ctx context.Context, table storage.Table) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.tables[table.Name]
	ids := make(map[string]bool)
	for _, r := range rows {
		ids[r.Identifier] = true
	}

	return &storage.Stats{
		Records:     uint64(len(rows)),
		Identifiers: uint64(len(ids)),
		// Rough size estimate (each record ~64 bytes)
		SizeBytes: uint64(len(rows)) * 64,
	}, nil
}

// Close is a no-op for memory storage
func (s *Store) Close() error {
	return nil
}

func (s *Store) deleteLocked(table storage.Table, p storage.Predicate) int {
	rows := s.tables[table.Name]
	match := p.Matcher()

	kept := make([]measure.Record, 0, len(rows))
	for _, r := range rows {
		if !match(r) {
			kept = append(kept, r)
		}
	}

	s.tables[table.Name] = kept
	return len(rows) - len(kept)
}
