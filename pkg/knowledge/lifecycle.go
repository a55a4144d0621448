package knowledge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mehdiaksoy/mateai/pkg/config"
	"github.com/mehdiaksoy/mateai/pkg/metrics"
	"github.com/mehdiaksoy/mateai/pkg/models"
)

// Lifecycle is the background job that demotes chunks between tiers.
// Chunks are demoted, never deleted:
//
//	hot  → warm  when older than HotAge with access_count below the hot threshold
//	warm → cold  when older than WarmAge with access_count below the warm threshold
type Lifecycle struct {
	store Store
	cfg   *config.ChunkConfig
	log   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLifecycle creates the tier-demotion job.
func NewLifecycle(store Store, cfg *config.ChunkConfig) *Lifecycle {
	return &Lifecycle{
		store:  store,
		cfg:    cfg,
		log:    slog.With("component", "chunk-lifecycle"),
		stopCh: make(chan struct{}),
	}
}

// Start launches the periodic demotion loop.
func (l *Lifecycle) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cfg.LifecycleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.RunOnce(ctx)
			}
		}
	}()
}

// Stop signals the job to stop and waits for it.
func (l *Lifecycle) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

// RunOnce performs one demotion pass. Exposed for tests and manual sweeps.
func (l *Lifecycle) RunOnce(ctx context.Context) {
	now := time.Now()

	// Demote warm→cold before hot→warm so a chunk cannot skip a tier in a
	// single pass.
	demoted, err := l.store.DemoteTier(ctx,
		models.TierWarm, models.TierCold,
		now.Add(-l.cfg.WarmAge), l.cfg.WarmAccessThreshold)
	if err != nil {
		l.log.Error("Failed to demote warm chunks", "error", err)
	} else if demoted > 0 {
		metrics.ChunksDemoted.WithLabelValues("warm_cold").Add(float64(demoted))
		l.log.Info("Demoted warm chunks to cold", "count", demoted)
	}

	demoted, err = l.store.DemoteTier(ctx,
		models.TierHot, models.TierWarm,
		now.Add(-l.cfg.HotAge), l.cfg.HotAccessThreshold)
	if err != nil {
		l.log.Error("Failed to demote hot chunks", "error", err)
	} else if demoted > 0 {
		metrics.ChunksDemoted.WithLabelValues("hot_warm").Add(float64(demoted))
		l.log.Info("Demoted hot chunks to warm", "count", demoted)
	}
}
