package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehdiaksoy/mateai/pkg/config"
)

func testRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func testQueueConfig() *config.QueueConfig {
	cfg := config.DefaultQueueConfig()
	cfg.BackoffBase = 10 * time.Millisecond
	cfg.BackoffCap = 100 * time.Millisecond
	cfg.JobTimeout = 5 * time.Second
	cfg.HeartbeatInterval = 50 * time.Millisecond
	return cfg
}

func TestBackoffFor(t *testing.T) {
	base := 2 * time.Second
	cap := 30 * time.Second

	assert.Equal(t, 2*time.Second, backoffFor(1, base, cap))
	assert.Equal(t, 4*time.Second, backoffFor(2, base, cap))
	assert.Equal(t, 8*time.Second, backoffFor(3, base, cap))
	assert.Equal(t, 16*time.Second, backoffFor(4, base, cap))
	assert.Equal(t, 30*time.Second, backoffFor(5, base, cap), "capped")
	assert.Equal(t, 30*time.Second, backoffFor(40, base, cap), "overflow-safe")
	assert.Equal(t, 2*time.Second, backoffFor(0, base, cap), "attempt floor")
}

func TestAddPlacesJobOnPendingList(t *testing.T) {
	_, rdb := testRedis(t)
	q := New(QueueProcessing, rdb, testQueueConfig())
	ctx := context.Background()

	id, err := q.Add(ctx, map[string]string{"event_id": "abc"}, AddOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := rdb.LRange(ctx, pendingKey(QueueProcessing), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	job, err := UnmarshalJob(entries[0])
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, QueueProcessing, job.Queue)
	assert.Equal(t, 3, job.MaxAttempts, "default attempt cap")

	var payload map[string]string
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "abc", payload["event_id"])
}

func TestAddWithPriorityUsesPriorityList(t *testing.T) {
	_, rdb := testRedis(t)
	q := New(QueueProcessing, rdb, testQueueConfig())
	ctx := context.Background()

	_, err := q.Add(ctx, "high", AddOptions{Priority: 1})
	require.NoError(t, err)

	n, err := rdb.LLen(ctx, priorityKey(QueueProcessing)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = rdb.LLen(ctx, pendingKey(QueueProcessing)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddWithDelayDefersEligibility(t *testing.T) {
	_, rdb := testRedis(t)
	q := New(QueueEmbedding, rdb, testQueueConfig())
	ctx := context.Background()

	_, err := q.Add(ctx, "later", AddOptions{Delay: time.Hour})
	require.NoError(t, err)

	delayed, err := rdb.ZCard(ctx, delayedKey(QueueEmbedding)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)

	// Not yet due.
	promoted, err := q.PromoteDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, promoted)

	// Due after the delay has elapsed.
	promoted, err = q.PromoteDue(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	pending, err := rdb.LLen(ctx, pendingKey(QueueEmbedding)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestWorkerProcessesJob(t *testing.T) {
	_, rdb := testRedis(t)
	cfg := testQueueConfig()
	q := New(QueueProcessing, rdb, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string
	handler := func(_ context.Context, job *Job) error {
		var payload string
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}
		mu.Lock()
		seen = append(seen, payload)
		mu.Unlock()
		return nil
	}

	w := NewWorker("pod-worker-0", q, handler, WorkerOptions{Concurrency: 1})
	w.Start(ctx)
	defer w.Stop()

	_, err := q.Add(ctx, "one", AddOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Completed job is archived.
	require.Eventually(t, func() bool {
		n, err := rdb.LLen(ctx, completedKey(QueueProcessing)).Result()
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	_, rdb := testRedis(t)
	cfg := testQueueConfig()
	q := New(QueueProcessing, rdb, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := 0
	handler := func(_ context.Context, _ *Job) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("boom")
	}

	w := NewWorker("pod-worker-0", q, handler, WorkerOptions{Concurrency: 1})
	w.Start(ctx)
	defer w.Stop()

	_, err := q.Add(ctx, "doomed", AddOptions{MaxAttempts: 3})
	require.NoError(t, err)

	// All three attempts are made (retries travel through the delayed zset
	// and are promoted by the worker's promoter goroutine).
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	}, 10*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		n, err := rdb.ZCard(ctx, deadKey(QueueProcessing)).Result()
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)

	dead, err := q.DeadJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, "boom", dead[0].LastError)

	// Dead jobs are not auto-requeued.
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	finalAttempts := attempts
	mu.Unlock()
	assert.Equal(t, 3, finalAttempts)
}

func TestWorkerPriorityJobsFirst(t *testing.T) {
	_, rdb := testRedis(t)
	q := New(QueueProcessing, rdb, testQueueConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var order []string
	handler := func(_ context.Context, job *Job) error {
		var payload string
		_ = json.Unmarshal(job.Payload, &payload)
		mu.Lock()
		order = append(order, payload)
		mu.Unlock()
		return nil
	}

	// Enqueue before starting the worker so both lists are populated.
	_, err := q.Add(ctx, "normal", AddOptions{})
	require.NoError(t, err)
	_, err = q.Add(ctx, "urgent", AddOptions{Priority: 1})
	require.NoError(t, err)

	w := NewWorker("pod-worker-0", q, handler, WorkerOptions{Concurrency: 1})
	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"urgent", "normal"}, order)
}

func TestQueueStats(t *testing.T) {
	_, rdb := testRedis(t)
	q := New(QueueIngestion, rdb, testQueueConfig())
	ctx := context.Background()

	_, err := q.Add(ctx, "a", AddOptions{})
	require.NoError(t, err)
	_, err = q.Add(ctx, "b", AddOptions{Priority: 2})
	require.NoError(t, err)
	_, err = q.Add(ctx, "c", AddOptions{Delay: time.Hour})
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueIngestion, stats.Name)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Priority)
	assert.Equal(t, int64(1), stats.Delayed)
	assert.Zero(t, stats.Dead)
}

func TestReaperRecoversOrphanedJobs(t *testing.T) {
	_, rdb := testRedis(t)
	cfg := testQueueConfig()
	q := New(QueueProcessing, rdb, cfg)
	ctx := context.Background()

	// Simulate a dead worker: registered, job on its processing list, no
	// heartbeat key.
	deadWorker := "pod-worker-9"
	require.NoError(t, rdb.SAdd(ctx, workersKey(QueueProcessing), deadWorker).Err())
	job := &Job{ID: "orphan-1", Queue: QueueProcessing, Payload: json.RawMessage(`"x"`), MaxAttempts: 3}
	data, err := job.Marshal()
	require.NoError(t, err)
	require.NoError(t, rdb.LPush(ctx, processingKey(QueueProcessing, deadWorker), data).Err())

	r := NewReaper(rdb, []*Queue{q}, time.Hour)
	r.scan(ctx)

	pending, err := rdb.LLen(ctx, pendingKey(QueueProcessing)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
	assert.Equal(t, 1, r.Recovered())

	// Dead worker is deregistered after recovery.
	members, err := rdb.SMembers(ctx, workersKey(QueueProcessing)).Result()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestReaperLeavesLiveWorkersAlone(t *testing.T) {
	_, rdb := testRedis(t)
	cfg := testQueueConfig()
	q := New(QueueProcessing, rdb, cfg)
	ctx := context.Background()

	liveWorker := "pod-worker-0"
	require.NoError(t, rdb.SAdd(ctx, workersKey(QueueProcessing), liveWorker).Err())
	require.NoError(t, rdb.Set(ctx, aliveKey(QueueProcessing, liveWorker), 1, time.Minute).Err())
	job := &Job{ID: "inflight-1", Queue: QueueProcessing, Payload: json.RawMessage(`"x"`), MaxAttempts: 3}
	data, err := job.Marshal()
	require.NoError(t, err)
	require.NoError(t, rdb.LPush(ctx, processingKey(QueueProcessing, liveWorker), data).Err())

	r := NewReaper(rdb, []*Queue{q}, time.Hour)
	r.scan(ctx)

	// Job stays in flight.
	n, err := rdb.LLen(ctx, processingKey(QueueProcessing, liveWorker)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Zero(t, r.Recovered())
}

func TestWorkerRateLimit(t *testing.T) {
	_, rdb := testRedis(t)
	q := New(QueueEmbedding, rdb, testQueueConfig())
	w := NewWorker("pod-worker-0", q, nil, WorkerOptions{
		Concurrency: 1,
		RateLimit:   RateLimit{MaxJobs: 2, Interval: time.Hour},
	})

	assert.True(t, w.allowByRateLimit())
	assert.True(t, w.allowByRateLimit())
	assert.False(t, w.allowByRateLimit(), "third job in the window is held back")
}
