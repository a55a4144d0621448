package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mehdiaksoy/mateai/pkg/metrics"
)

// backoffFor computes the retry delay for the given attempt count:
// base * 2^(attempts-1), capped.
func backoffFor(attempts int, base, cap time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base << uint(attempts-1)
	if d > cap || d <= 0 {
		return cap
	}
	return d
}

// Worker consumes jobs from one queue with bounded concurrency.
type Worker struct {
	id        string
	queue     *Queue
	handler   Handler
	rdb       *redis.Client
	workers   int
	rateLimit RateLimit
	log       *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// rate limiting window
	mu          sync.Mutex
	windowStart time.Time
	windowJobs  int
}

// WorkerOptions tunes a worker.
type WorkerOptions struct {
	// Concurrency is the number of consuming goroutines. Defaults to the
	// queue config's worker count when zero.
	Concurrency int

	// RateLimit caps handler invocations per interval (optional).
	RateLimit RateLimit
}

// NewWorker creates a worker for the queue. id must be unique per process
// (used for the processing list and heartbeat key).
func NewWorker(id string, q *Queue, handler Handler, opts WorkerOptions) *Worker {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = q.cfg.WorkerCount
	}
	return &Worker{
		id:        id,
		queue:     q,
		handler:   handler,
		rdb:       q.rdb,
		workers:   concurrency,
		rateLimit: opts.RateLimit,
		log:       slog.With("queue", q.name, "worker_id", id),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the consuming goroutines, the delayed-job promoter, and
// the heartbeat loop.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Worker starting", "concurrency", w.workers)

	if err := w.rdb.SAdd(ctx, workersKey(w.queue.name), w.id).Err(); err != nil {
		w.log.Warn("Failed to register worker", "error", err)
	}

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.consume(ctx)
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runPromoter(ctx)
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runHeartbeat(ctx)
	}()
}

// Stop signals the worker to stop and waits for in-flight jobs to finish.
// Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.log.Info("Worker stopped")
}

func (w *Worker) stopped() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Worker) consume(ctx context.Context) {
	procList := processingKey(w.queue.name, w.id)

	for ctx.Err() == nil && !w.stopped() {
		if !w.allowByRateLimit() {
			w.sleep(50 * time.Millisecond)
			continue
		}

		data, err := w.pop(ctx, procList)
		if err != nil {
			if err == ErrNoJobsAvailable {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("Dequeue error", "error", err)
			w.sleep(200 * time.Millisecond)
			continue
		}

		w.process(ctx, procList, data)
	}
}

// pop fetches the next job, priority list first, blocking briefly on the
// default list so shutdown stays responsive.
func (w *Worker) pop(ctx context.Context, procList string) (string, error) {
	// Priority jobs are drained without blocking.
	v, err := w.rdb.LMove(ctx, priorityKey(w.queue.name), procList, "RIGHT", "LEFT").Result()
	if err == nil {
		return v, nil
	}
	if err != redis.Nil {
		return "", err
	}

	v, err = w.rdb.BRPopLPush(ctx, pendingKey(w.queue.name), procList, time.Second).Result()
	if err == redis.Nil {
		return "", ErrNoJobsAvailable
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (w *Worker) process(ctx context.Context, procList, data string) {
	job, err := UnmarshalJob(data)
	if err != nil {
		// Poison payload: drop it rather than loop forever.
		w.log.Error("Invalid job payload, discarding", "error", err)
		_ = w.rdb.LRem(ctx, procList, 1, data).Err()
		return
	}

	job.Attempts++
	log := w.log.With("job_id", job.ID, "attempt", job.Attempts)

	jobCtx, cancel := context.WithTimeout(ctx, w.queue.cfg.JobTimeout)
	handlerErr := w.handler(jobCtx, job)
	cancel()

	// The job leaves the processing list regardless of outcome; its next
	// home depends on the handler result.
	if err := w.rdb.LRem(ctx, procList, 1, data).Err(); err != nil {
		log.Warn("Failed to remove job from processing list", "error", err)
	}

	if handlerErr == nil {
		metrics.JobsCompleted.WithLabelValues(w.queue.name).Inc()
		done, _ := job.Marshal()
		if err := w.queue.recordCompleted(ctx, done); err != nil {
			log.Warn("Failed to archive completed job", "error", err)
		}
		return
	}

	metrics.JobsFailed.WithLabelValues(w.queue.name).Inc()
	job.LastError = handlerErr.Error()

	if job.Attempts < job.MaxAttempts {
		delay := backoffFor(job.Attempts, w.queue.cfg.BackoffBase, w.queue.cfg.BackoffCap)
		log.Warn("Job failed, scheduling retry", "error", handlerErr, "backoff", delay)
		if err := w.queue.requeue(ctx, job, delay); err != nil {
			log.Error("Failed to requeue job", "error", err)
		}
		return
	}

	log.Error("Job failed permanently, dead-lettering", "error", handlerErr)
	metrics.JobsDeadLettered.WithLabelValues(w.queue.name).Inc()
	if err := w.queue.deadLetter(ctx, job); err != nil {
		log.Error("Failed to dead-letter job", "error", err)
	}
}

// runPromoter periodically moves due delayed jobs onto the pending lists.
func (w *Worker) runPromoter(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.queue.PromoteDue(ctx, time.Now()); err != nil && ctx.Err() == nil {
				w.log.Warn("Failed to promote delayed jobs", "error", err)
			}
		}
	}
}

// runHeartbeat refreshes the worker's liveness key. When it expires the
// reaper requeues this worker's in-flight jobs.
func (w *Worker) runHeartbeat(ctx context.Context) {
	ttl := w.queue.cfg.JobTimeout + w.queue.cfg.HeartbeatInterval
	refresh := func() {
		if err := w.rdb.Set(ctx, aliveKey(w.queue.name, w.id), time.Now().Unix(), ttl).Err(); err != nil && ctx.Err() == nil {
			w.log.Warn("Heartbeat update failed", "error", err)
		}
	}
	refresh()

	ticker := time.NewTicker(w.queue.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			// Clean exit: deregister so the reaper doesn't wait for expiry.
			_ = w.rdb.Del(context.Background(), aliveKey(w.queue.name, w.id)).Err()
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// allowByRateLimit reports whether another job may start in the current
// window, counting it if so.
func (w *Worker) allowByRateLimit() bool {
	if w.rateLimit.MaxJobs <= 0 || w.rateLimit.Interval <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if now.Sub(w.windowStart) >= w.rateLimit.Interval {
		w.windowStart = now
		w.windowJobs = 0
	}
	if w.windowJobs >= w.rateLimit.MaxJobs {
		return false
	}
	w.windowJobs++
	return true
}

// WorkerID builds a stable worker identifier from pod and index.
func WorkerID(podID string, index int) string {
	return fmt.Sprintf("%s-worker-%d", podID, index)
}
