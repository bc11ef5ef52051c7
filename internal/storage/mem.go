package storage

import (
	"context"
	"sync"

	"github.com/rulesmarket/relay/internal/models"
)

// MemStore is the default recent-log store: a capped in-memory window,
// newest first, oldest evicted on overflow.
type MemStore struct {
	lock     sync.Mutex
	entries  []models.LogEntry
	capacity int
}

func NewMemStore(capacity int) *MemStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemStore{
		entries:  make([]models.LogEntry, 0, capacity),
		capacity: capacity,
	}
}

func (s *MemStore) Append(ctx context.Context, entry models.LogEntry) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.entries = append([]models.LogEntry{entry}, s.entries...)
	if len(s.entries) > s.capacity {
		s.entries = s.entries[:s.capacity]
	}
	return nil
}

func (s *MemStore) Recent(ctx context.Context, n int) ([]models.LogEntry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	results := make([]models.LogEntry, n)
	copy(results, s.entries[:n])
	return results, nil
}

// HealthCheck should be implemented
func (s *MemStore) HealthCheck() error {
	return nil // Always healthy
}
