package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geolens/geolens/internal/domain/model"
)

const statusKeyPrefix = "geo:status:"

// StatusCache keeps the latest poller snapshot of each job in Redis so
// the status endpoint does not hammer Postgres. A miss is not an error;
// callers fall back to the database.
type StatusCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewStatusCache creates a StatusCache. The TTL defaults to one hour.
func NewStatusCache(client redis.UniversalClient, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &StatusCache{client: client, ttl: ttl}
}

func statusKey(executionID string) string {
	return statusKeyPrefix + executionID
}

// Set stores the status snapshot.
func (c *StatusCache) Set(ctx context.Context, status *model.DiagnosisStatus) error {
	if status.ExecutionID == "" {
		return ErrExecutionIDRequired
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := c.client.Set(ctx, statusKey(status.ExecutionID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set status: %w", err)
	}
	return nil
}

// Get retrieves the status snapshot. Returns (nil, nil) on a cache miss.
func (c *StatusCache) Get(ctx context.Context, executionID string) (*model.DiagnosisStatus, error) {
	if executionID == "" {
		return nil, ErrExecutionIDRequired
	}

	payload, err := c.client.Get(ctx, statusKey(executionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get status: %w", err)
	}

	var status model.DiagnosisStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		// A corrupt entry behaves like a miss; the DB is authoritative.
		return nil, nil
	}
	return &status, nil
}

// Delete evicts the snapshot.
func (c *StatusCache) Delete(ctx context.Context, executionID string) error {
	if executionID == "" {
		return ErrExecutionIDRequired
	}
	if err := c.client.Del(ctx, statusKey(executionID)).Err(); err != nil {
		return fmt.Errorf("redis del status: %w", err)
	}
	return nil
}
