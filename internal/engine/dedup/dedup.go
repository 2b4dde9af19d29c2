// Package dedup drops transactions a stream redelivers within a time window.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crimson-sun/fraudlens/internal/model"
)

// DefaultWindow is used when Config.Window is zero.
const DefaultWindow = 10 * time.Minute

// keySpace namespaces the name-based UUIDs derived from transaction content.
var keySpace = uuid.MustParse("6f1c8e0a-3b7d-4d2e-9a51-0c4f7b2e8d13")

// Store remembers keys for a bounded time.
type Store interface {
	// MarkSeen records key for ttl and reports whether it was already present.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Config controls deduplication behavior.
type Config struct {
	Window time.Duration // how long a transaction id is remembered (default 10m)
	Store  Store         // defaults to an in-memory store
}

// Deduplicator filters out transactions it has already seen.
type Deduplicator struct {
	window time.Duration
	store  Store
}

// New creates a Deduplicator with the given config.
func New(cfg Config) *Deduplicator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	return &Deduplicator{window: cfg.Window, store: cfg.Store}
}

// Key identifies a transaction by its full content. TXN ids alone collide
// for distinct transactions in the same second.
func Key(txn model.Transaction) string {
	data, _ := json.Marshal(txn)
	return txn.ID() + ":" + uuid.NewSHA1(keySpace, data).String()
}

// Filter returns txns minus those seen within the window, in input order,
// plus the number dropped. Duplicates inside txns itself are dropped too.
// On a store error the transaction is kept (fail open) and the first error
// is returned alongside the result.
func (d *Deduplicator) Filter(ctx context.Context, txns []model.Transaction) ([]model.Transaction, int, error) {
	if len(txns) == 0 {
		return nil, 0, nil
	}

	kept := make([]model.Transaction, 0, len(txns))
	var firstErr error
	for _, txn := range txns {
		seen, err := d.store.MarkSeen(ctx, Key(txn), d.window)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("dedup: %w", err)
			}
			kept = append(kept, txn)
			continue
		}
		if !seen {
			kept = append(kept, txn)
		}
	}
	return kept, len(txns) - len(kept), firstErr
}

// MemoryStore is a process-local Store. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
	inserts int
}

// sweepEvery bounds how often expired keys are purged.
const sweepEvery = 1024

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{expires: make(map[string]time.Time), now: time.Now}
}

// MarkSeen implements Store.
func (m *MemoryStore) MarkSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.expires[key]; ok && now.Before(exp) {
		return true, nil
	}
	m.expires[key] = now.Add(ttl)

	m.inserts++
	if m.inserts%sweepEvery == 0 {
		for k, exp := range m.expires {
			if !now.Before(exp) {
				delete(m.expires, k)
			}
		}
	}
	return false, nil
}

// Len returns the number of remembered keys, including expired ones not yet
// swept.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expires)
}
