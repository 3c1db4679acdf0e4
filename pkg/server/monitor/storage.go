package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/airbreizh/didon/pkg/storage"
)

// TableUsage is the content of one destination table.
type TableUsage struct {
	Table       string `json:"table"`
	Records     uint64 `json:"records"`
	Identifiers uint64 `json:"identifiers"`
}

// StorageUsage describes the destination store.
type StorageUsage struct {
	Tables    []TableUsage `json:"tables"`
	SizeBytes uint64       `json:"size_bytes,omitempty"`
	Size      string       `json:"size,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// StorageMonitor caches table statistics to avoid scanning the store on every request.
type StorageMonitor struct {
	store         storage.Store
	cached        *StorageUsage
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a new storage monitor.
func NewStorageMonitor(store storage.Store, cacheDuration time.Duration) *StorageMonitor {
	return &StorageMonitor{
		store:         store,
		cacheDuration: cacheDuration,
	}
}

// GetUsage returns the statistics of every table (cached).
func (sm *StorageMonitor) GetUsage(ctx context.Context) (*StorageUsage, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Return cached value if still fresh
	if sm.cached != nil && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cached, nil
	}

	usage := &StorageUsage{CheckedAt: time.Now()}
	for _, table := range storage.Tables() {
		stats, err := sm.store.Stats(ctx, table)
		if err != nil {
			return nil, err
		}
		usage.Tables = append(usage.Tables, TableUsage{
			Table:       table.Name,
			Records:     stats.Records,
			Identifiers: stats.Identifiers,
		})
		// Backends knowing their size report the whole database
		if stats.SizeBytes > usage.SizeBytes {
			usage.SizeBytes = stats.SizeBytes
		}
	}
	if usage.SizeBytes > 0 {
		usage.Size = humanize.Bytes(usage.SizeBytes)
	}

	sm.cached = usage
	sm.lastCheck = usage.CheckedAt
	return usage, nil
}

// Invalidate drops the cached statistics, e.g. after a run wrote rows.
func (sm *StorageMonitor) Invalidate() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cached = nil
}
