// Package training submits model retraining jobs to the external job
// runner. The runner owns process lifecycle; this side only enqueues.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job is one queued retraining request.
type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	RequestedBy string    `json:"requested_by"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Submitter enqueues retraining jobs.
type Submitter interface {
	SubmitRetrain(ctx context.Context, requestedBy string) (string, error)
}

// RedisQueue pushes jobs onto a Redis list the job runner consumes.
type RedisQueue struct {
	client redis.Cmdable
	queue  string
}

var _ Submitter = (*RedisQueue)(nil)

func NewRedisQueue(client redis.Cmdable, queue string) *RedisQueue {
	return &RedisQueue{client: client, queue: queue}
}

func (q *RedisQueue) SubmitRetrain(ctx context.Context, requestedBy string) (string, error) {
	job := Job{
		ID:          uuid.New().String(),
		Type:        "retrain",
		RequestedBy: requestedBy,
		SubmittedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("training: marshal job: %w", err)
	}

	if err := q.client.LPush(ctx, q.queue, payload).Err(); err != nil {
		return "", fmt.Errorf("training: enqueue job: %w", err)
	}
	return job.ID, nil
}
