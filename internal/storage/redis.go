package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/rulesmarket/relay/internal/models"
)

const recentLogsKey = "relay:recent_logs"

// RedisStore keeps the recent-log window in a capped Redis list so several
// relay instances behind a load balancer share one dashboard view.
type RedisStore struct {
	client   redis.UniversalClient
	capacity int
}

func NewRedisStore(redisURI string, capacity int) (*RedisStore, error) {
	log := log.WithField("prefix", "NewRedisStore")

	opts, err := redis.ParseURL(strings.TrimSpace(redisURI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse URI: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	log.Info("Successfully connected to Redis")
	if capacity <= 0 {
		capacity = 1
	}
	return &RedisStore{
		client:   client,
		capacity: capacity,
	}, nil
}

func (s *RedisStore) Append(ctx context.Context, entry models.LogEntry) error {
	data, err := sonic.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, recentLogsKey, data)
	pipe.LTrim(ctx, recentLogsKey, 0, int64(s.capacity)-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, n int) ([]models.LogEntry, error) {
	if n <= 0 || n > s.capacity {
		n = s.capacity
	}
	raw, err := s.client.LRange(ctx, recentLogsKey, 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent logs: %w", err)
	}

	results := make([]models.LogEntry, 0, len(raw))
	for _, item := range raw {
		var entry models.LogEntry
		if err := sonic.Unmarshal([]byte(item), &entry); err != nil {
			log.WithField("prefix", "RedisStore.Recent").Warnf("skipping malformed entry: %v", err)
			continue
		}
		results = append(results, entry)
	}
	return results, nil
}

func (s *RedisStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}
