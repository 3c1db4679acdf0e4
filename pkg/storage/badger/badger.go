package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/pkg/errors"

	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/storage"
)

// Store implements storage.Store on top of BadgerDB
type Store struct {
	db *badger.DB
}

var _ storage.Store = (*Store)(nil)

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB bounds memtable and caches (0 = 48 MB)
	MaxMemoryMB int64
}

// New opens a BadgerDB store
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB << 20 / 3
	}

	// 48 MB total by default: memtable, then block and index caches
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger")
	}

	return &Store{db: db}, nil
}

// Ping fails once the database is closed
func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

// Query retrieves records of table. With an identifier, only that series'
// key range is scanned, in timestamp order.
func (s *Store) Query(ctx context.Context, table storage.Table, req storage.QueryRequest) ([]measure.Record, error) {
	var results []measure.Record

	err := s.withContext(ctx, func() error {
		return s.db.View(func(txn *badger.Txn) error {
			prefix := []byte{table.ID}
			if req.Identifier != "" {
				prefix = seriesPrefix(table, req.Identifier)
			}

			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchSize = 100
			it := txn.NewIterator(opts)
			defer it.Close()

			seek := prefix
			if req.Identifier != "" && !req.Start.IsZero() {
				seek = makeKey(table, req.Identifier, req.Start.UnixNano())
			}

			var iterCount int
			for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}

				var r measure.Record
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &r)
				}); err != nil {
					return errors.Wrap(err, "failed to decode record")
				}

				if !req.Matches(r) {
					if req.Identifier != "" && !req.End.IsZero() && r.Timestamp.After(req.End) {
						break
					}
					continue
				}

				results = append(results, r)
				if req.Limit > 0 && len(results) >= req.Limit {
					break
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Count returns the number of rows matching p
func (s *Store) Count(ctx context.Context, table storage.Table, p storage.Predicate) (int, error) {
	var n int
	err := s.withContext(ctx, func() error {
		return s.db.View(func(txn *badger.Txn) error {
			keys, err := matchingKeys(txn, table, p)
			n = len(keys)
			return err
		})
	})
	return n, err
}

// Delete removes rows matching p in one transaction
func (s *Store) Delete(ctx context.Context, table storage.Table, p storage.Predicate) (int, error) {
	return s.Replace(ctx, table, p, nil)
}

// Append writes records
func (s *Store) Append(ctx context.Context, table storage.Table, records []measure.Record) error {
	return s.withContext(ctx, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return setRecords(ctx, txn, table, records)
		})
	})
}

// Replace deletes rows matching p and writes records in a single badger transaction
func (s *Store) Replace(ctx context.Context, table storage.Table, p storage.Predicate, records []measure.Record) (int, error) {
	var deleted int
	err := s.withContext(ctx, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			keys, err := matchingKeys(txn, table, p)
			if err != nil {
				return err
			}
			for _, key := range keys {
				if err := txn.Delete(key); err != nil {
					return errors.Wrap(err, "failed to delete record")
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			deleted = len(keys)
			return setRecords(ctx, txn, table, records)
		})
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Stats counts the keys of table. SizeBytes is the size of the whole database.
func (s *Store) Stats(ctx context.Context, table storage.Table) (*storage.Stats, error) {
	stats := &storage.Stats{}

	err := s.withContext(ctx, func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte{table.ID}
			it := txn.NewIterator(opts)
			defer it.Close()

			series := make(map[uint64]bool)
			for it.Rewind(); it.Valid(); it.Next() {
				stats.Records++
				series[binary.BigEndian.Uint64(it.Item().Key()[1:9])] = true
			}
			stats.Identifiers = uint64(len(series))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// RunGC runs BadgerDB's value log garbage collection.
// Returns badger.ErrNoRewrite when nothing could be reclaimed.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Close shuts down BadgerDB cleanly
func (s *Store) Close() error {
	return s.db.Close()
}

// withContext runs fn unless ctx is already done. fn checks ctx itself
// inside its transaction, so a cancelled write is never committed.
func (s *Store) withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "badger operation cancelled")
	}
	return fn()
}

// matchingKeys looks up the exact key of every predicate timestamp
func matchingKeys(txn *badger.Txn, table storage.Table, p storage.Predicate) ([][]byte, error) {
	seen := make(map[int64]bool, len(p.Timestamps))
	var keys [][]byte

	for _, ts := range p.Timestamps {
		nano := ts.UnixNano()
		if seen[nano] {
			continue
		}
		seen[nano] = true

		key := makeKey(table, p.Identifier, nano)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read record")
		}

		// Guard against xxhash collisions between identifiers
		var r measure.Record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		}); err != nil {
			return nil, errors.Wrap(err, "failed to decode record")
		}
		if r.Identifier != p.Identifier {
			continue
		}

		keys = append(keys, key)
	}
	return keys, nil
}

func setRecords(ctx context.Context, txn *badger.Txn, table storage.Table, records []measure.Record) error {
	for i, r := range records {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		value, err := json.Marshal(r)
		if err != nil {
			return errors.Wrap(err, "failed to encode record")
		}
		if err := txn.Set(makeKey(table, r.Identifier, r.Timestamp.UnixNano()), value); err != nil {
			return errors.Wrap(err, "failed to write record")
		}
	}
	return nil
}

// makeKey creates a sortable key.
// Format: [table id (1 byte)][identifier hash (8 bytes)][timestamp (8 bytes)]
func makeKey(table storage.Table, identifier string, unixNano int64) []byte {
	key := make([]byte, 17)
	key[0] = table.ID
	binary.BigEndian.PutUint64(key[1:9], xxhash.Sum64String(identifier))
	binary.BigEndian.PutUint64(key[9:17], uint64(unixNano))
	return key
}

func seriesPrefix(table storage.Table, identifier string) []byte {
	return makeKey(table, identifier, 0)[:9]
}

