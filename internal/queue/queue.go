package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// QueueRenderClip is the single FIFO all render jobs flow through. There is
// no priority lane; dequeue order is list order.
const QueueRenderClip = "queue:render_clip"

type Queue struct {
	client *redis.Client
}

// Envelope is the payload pushed onto the Redis list. The full job lives in
// Postgres; the envelope only carries what the worker needs to claim it.
type Envelope struct {
	JobID      uuid.UUID `json:"job_id"`
	ClipID     uuid.UUID `json:"clip_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue appends a render job envelope to the tail of the FIFO.
func (q *Queue) Enqueue(ctx context.Context, env *Envelope) error {
	env.EnqueuedAt = time.Now()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return q.client.RPush(ctx, QueueRenderClip, data).Err()
}

// Dequeue blocks up to timeout for the next job. BLPop removes the element
// atomically, so a job is only ever claimed by one worker slot.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueRenderClip).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var env Envelope
	if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	return &env, nil
}

// Length returns the number of queued envelopes, used for the queue depth gauge.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueRenderClip).Result()
}
