package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrResultNotFound = errors.New("result not found")

// ResultStore keeps the rendered outline JSON per job.
type ResultStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResultStore(client *redis.Client, ttl time.Duration) *ResultStore {
	return &ResultStore{client: client, ttl: ttl}
}

func (s *ResultStore) key(jobID string) string { return "job:" + jobID + ":outline" }

func (s *ResultStore) Save(ctx context.Context, jobID string, doc []byte) error {
	if err := s.client.Set(ctx, s.key(jobID), doc, s.ttl).Err(); err != nil {
		return fmt.Errorf("save outline for %s: %w", jobID, err)
	}
	return nil
}

// Get returns ErrResultNotFound when nothing is stored or it expired.
func (s *ResultStore) Get(ctx context.Context, jobID string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	return b, err
}
