package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reaper requeues jobs stranded on the processing lists of workers whose
// heartbeat has expired. This is what turns worker crashes into redelivery
// instead of loss.
type Reaper struct {
	rdb      *redis.Client
	queues   []*Queue
	interval time.Duration
	log      *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.Mutex
	lastScan       time.Time
	jobsRecovered  int
}

// NewReaper creates a reaper covering the given queues.
func NewReaper(rdb *redis.Client, queues []*Queue, interval time.Duration) *Reaper {
	return &Reaper{
		rdb:      rdb,
		queues:   queues,
		interval: interval,
		log:      slog.With("component", "queue-reaper"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic scan.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.scan(ctx)
			}
		}
	}()
}

// Stop signals the reaper to stop and waits for it.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Recovered returns how many jobs have been requeued since startup.
func (r *Reaper) Recovered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobsRecovered
}

func (r *Reaper) scan(ctx context.Context) {
	for _, q := range r.queues {
		workerIDs, err := r.rdb.SMembers(ctx, workersKey(q.name)).Result()
		if err != nil {
			if ctx.Err() == nil {
				r.log.Warn("Failed to list workers", "queue", q.name, "error", err)
			}
			continue
		}

		for _, workerID := range workerIDs {
			alive, err := r.rdb.Exists(ctx, aliveKey(q.name, workerID)).Result()
			if err != nil || alive > 0 {
				continue
			}
			r.recover(ctx, q, workerID)
		}
	}
	r.mu.Lock()
	r.lastScan = time.Now()
	r.mu.Unlock()
}

// recover drains a dead worker's processing list back onto the queue.
func (r *Reaper) recover(ctx context.Context, q *Queue, workerID string) {
	procList := processingKey(q.name, workerID)
	recovered := 0
	for {
		data, err := r.rdb.RPop(ctx, procList).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			r.log.Warn("Failed to pop orphaned job", "queue", q.name, "error", err)
			break
		}
		job, err := UnmarshalJob(data)
		if err != nil {
			r.log.Error("Discarding unparseable orphaned job", "queue", q.name, "error", err)
			continue
		}
		if err := q.requeue(ctx, job, 0); err != nil {
			r.log.Error("Failed to requeue orphaned job", "queue", q.name, "job_id", job.ID, "error", err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		r.log.Info("Recovered orphaned jobs",
			"queue", q.name, "worker_id", workerID, "count", recovered)
		r.mu.Lock()
		r.jobsRecovered += recovered
		r.mu.Unlock()
	}

	// Deregister the dead worker once its list is drained.
	if err := r.rdb.SRem(ctx, workersKey(q.name), workerID).Err(); err != nil && ctx.Err() == nil {
		r.log.Warn("Failed to deregister dead worker", "queue", q.name, "error", err)
	}
}
