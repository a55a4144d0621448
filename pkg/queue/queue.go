package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mehdiaksoy/mateai/pkg/config"
)

// Queue is one named job queue.
type Queue struct {
	name string
	rdb  *redis.Client
	cfg  *config.QueueConfig
}

// New creates a named queue over the given Redis client.
func New(name string, rdb *redis.Client, cfg *config.QueueConfig) *Queue {
	return &Queue{name: name, rdb: rdb, cfg: cfg}
}

// NewRedisClient builds the Redis client from queue configuration.
func NewRedisClient(cfg *config.QueueConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Add enqueues a payload and returns the job id. The write is durable once
// Redis acknowledges it (subject to the server's persistence settings).
func (q *Queue) Add(ctx context.Context, payload any, opts AddOptions) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}

	job := &Job{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Payload:     raw,
		Priority:    opts.Priority,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	data, err := job.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	if opts.Delay > 0 {
		eligibleAt := float64(time.Now().Add(opts.Delay).UnixMilli())
		if err := q.rdb.ZAdd(ctx, delayedKey(q.name), redis.Z{Score: eligibleAt, Member: data}).Err(); err != nil {
			return "", fmt.Errorf("failed to enqueue delayed job: %w", err)
		}
		return job.ID, nil
	}

	key := pendingKey(q.name)
	if opts.Priority > 0 {
		key = priorityKey(q.name)
	}
	if err := q.rdb.LPush(ctx, key, data).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job.ID, nil
}

// requeue places an already-constructed job back on its eligible list,
// optionally after a delay. Used by the retry path and the reaper.
func (q *Queue) requeue(ctx context.Context, job *Job, delay time.Duration) error {
	data, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if delay > 0 {
		eligibleAt := float64(time.Now().Add(delay).UnixMilli())
		return q.rdb.ZAdd(ctx, delayedKey(q.name), redis.Z{Score: eligibleAt, Member: data}).Err()
	}
	key := pendingKey(q.name)
	if job.Priority > 0 {
		key = priorityKey(q.name)
	}
	return q.rdb.LPush(ctx, key, data).Err()
}

// PromoteDue moves delayed jobs whose eligibility has passed onto the
// pending lists. Returns the number of jobs promoted.
func (q *Queue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	max := fmt.Sprintf("%d", now.UnixMilli())
	due, err := q.rdb.ZRangeByScore(ctx, delayedKey(q.name), &redis.ZRangeBy{
		Min: "-inf", Max: max, Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	promoted := 0
	for _, data := range due {
		// Remove first so a concurrent promoter cannot double-deliver.
		removed, err := q.rdb.ZRem(ctx, delayedKey(q.name), data).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to remove delayed job: %w", err)
		}
		if removed == 0 {
			continue
		}
		job, err := UnmarshalJob(data)
		key := pendingKey(q.name)
		if err == nil && job.Priority > 0 {
			key = priorityKey(q.name)
		}
		if err := q.rdb.LPush(ctx, key, data).Err(); err != nil {
			return promoted, fmt.Errorf("failed to promote delayed job: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// recordCompleted archives a finished job and enforces completed retention.
func (q *Queue) recordCompleted(ctx context.Context, data string) error {
	key := completedKey(q.name)
	if err := q.rdb.LPush(ctx, key, data).Err(); err != nil {
		return err
	}
	if q.cfg.CompletedMaxCount > 0 {
		if err := q.rdb.LTrim(ctx, key, 0, q.cfg.CompletedMaxCount-1).Err(); err != nil {
			return err
		}
	}
	if q.cfg.CompletedRetention > 0 {
		return q.rdb.Expire(ctx, key, q.cfg.CompletedRetention).Err()
	}
	return nil
}

// deadLetter parks a job that exhausted its attempts. Dead jobs stay
// inspectable for the failed-retention window and are never auto-requeued.
func (q *Queue) deadLetter(ctx context.Context, job *Job) error {
	data, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal dead job: %w", err)
	}
	now := time.Now()
	if err := q.rdb.ZAdd(ctx, deadKey(q.name), redis.Z{
		Score: float64(now.UnixMilli()), Member: data,
	}).Err(); err != nil {
		return err
	}
	if q.cfg.FailedRetention > 0 {
		cutoff := fmt.Sprintf("%d", now.Add(-q.cfg.FailedRetention).UnixMilli())
		return q.rdb.ZRemRangeByScore(ctx, deadKey(q.name), "-inf", cutoff).Err()
	}
	return nil
}

// DeadJobs returns up to limit dead-lettered jobs, newest first.
func (q *Queue) DeadJobs(ctx context.Context, limit int64) ([]*Job, error) {
	entries, err := q.rdb.ZRevRange(ctx, deadKey(q.name), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead jobs: %w", err)
	}
	jobs := make([]*Job, 0, len(entries))
	for _, data := range entries {
		job, err := UnmarshalJob(data)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Stats returns the queue's current depth counters.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pending, err := q.rdb.LLen(ctx, pendingKey(q.name)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read pending depth: %w", err)
	}
	priority, err := q.rdb.LLen(ctx, priorityKey(q.name)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read priority depth: %w", err)
	}
	delayed, err := q.rdb.ZCard(ctx, delayedKey(q.name)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read delayed depth: %w", err)
	}
	dead, err := q.rdb.ZCard(ctx, deadKey(q.name)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read dead depth: %w", err)
	}
	completed, err := q.rdb.LLen(ctx, completedKey(q.name)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read completed depth: %w", err)
	}
	return Stats{
		Name:      q.name,
		Pending:   pending,
		Priority:  priority,
		Delayed:   delayed,
		Dead:      dead,
		Completed: completed,
	}, nil
}
