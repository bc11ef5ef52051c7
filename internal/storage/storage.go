package storage

import (
	"context"
	"fmt"

	"github.com/rulesmarket/relay/internal/models"
)

// Store keeps a bounded window of the most recent relayed log entries for the
// dashboard snapshot. It is a convenience cache: envelopes are never replayed
// to connecting peers.
type Store interface {
	Append(ctx context.Context, entry models.LogEntry) error
	Recent(ctx context.Context, n int) ([]models.LogEntry, error)
	HealthCheck() error
}

func NewStore(storageType, uri string, capacity int) (Store, error) {
	switch storageType {
	case "redis", "valkey":
		return NewRedisStore(uri, capacity)
	case "memory":
		return NewMemStore(capacity), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
