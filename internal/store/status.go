// Package store keeps per-job state in Redis: a status hash and the
// finished outline document.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job states.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

type Status struct {
	Status   string         `json:"status"`
	Progress int            `json:"progress"`
	Message  string         `json:"message"`
	Start    *time.Time     `json:"start_time,omitempty"`
	End      *time.Time     `json:"end_time,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Terminal reports whether the job will not change state again.
func (s Status) Terminal() bool {
	switch s.Status {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// RedisStatus stores one hash per job at "job:<id>:status".
type RedisStatus struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

// NewRedisStatus uses client; ttl <= 0 keeps hashes forever.
func NewRedisStatus(client *redis.Client, ttl time.Duration) *RedisStatus {
	return &RedisStatus{client: client, keyNS: "job", ttl: ttl}
}

func (s *RedisStatus) key(jobID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, jobID) }

// Set writes every field of st. Metadata is merged into the stored JSON.
func (s *RedisStatus) Set(ctx context.Context, jobID string, st Status) error {
	m := map[string]any{
		"status":   st.Status,
		"progress": st.Progress,
		"message":  st.Message,
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	if len(st.Metadata) > 0 {
		merged, err := s.mergeMetadata(ctx, jobID, st.Metadata)
		if err != nil {
			return err
		}
		m["metadata"] = merged
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(jobID), m)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(jobID), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatus) mergeMetadata(ctx context.Context, jobID string, add map[string]any) (string, error) {
	current := map[string]any{}
	raw, err := s.client.HGet(ctx, s.key(jobID), "metadata").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &current)
	}
	for k, v := range add {
		current[k] = v
	}
	b, err := json.Marshal(current)
	if err != nil {
		return "", fmt.Errorf("marshal status metadata: %w", err)
	}
	return string(b), nil
}

// Get returns false when the job is unknown.
func (s *RedisStatus) Get(ctx context.Context, jobID string) (Status, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return Status{}, false, err
	}
	if len(res) == 0 {
		return Status{}, false, nil
	}
	st := Status{Status: res["status"], Message: res["message"]}
	st.Progress, _ = strconv.Atoi(res["progress"])
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	if v := res["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Metadata)
	}
	return st, true, nil
}

// Progress updates progress and message only.
func (s *RedisStatus) Progress(ctx context.Context, jobID string, progress int, message string) error {
	return s.client.HSet(ctx, s.key(jobID), "progress", progress, "message", message).Err()
}
