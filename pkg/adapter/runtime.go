package adapter

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mehdiaksoy/mateai/pkg/models"
)

const (
	reconnectBase = time.Second
	reconnectCap  = time.Minute
)

// Runtime supervises one adapter: it connects, forwards the adapter's
// events to its output channel, and reconnects with bounded backoff when
// the stream dies. Events authored by the system itself are dropped here.
type Runtime struct {
	adapter Adapter
	out     chan models.RawEventInput
	log     *slog.Logger

	mu    sync.RWMutex
	state State

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRuntime wraps an adapter.
func NewRuntime(a Adapter) *Runtime {
	return &Runtime{
		adapter: a,
		out:     make(chan models.RawEventInput, 64),
		log:     slog.With("component", "adapter-runtime", "source", a.Name()),
		state:   StateDisconnected,
		stopCh:  make(chan struct{}),
	}
}

// Events returns the supervised event stream. Closed when the runtime
// stops.
func (r *Runtime) Events() <-chan models.RawEventInput {
	return r.out
}

// State returns the current connection state.
func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// HealthCheck delegates to the adapter, whatever the runtime's state.
func (r *Runtime) HealthCheck(ctx context.Context) error {
	return r.adapter.HealthCheck(ctx)
}

// Start launches the supervision loop.
func (r *Runtime) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.out)
		r.run(ctx)
	}()
}

// Stop disconnects the adapter and waits for the loop to exit. Safe to
// call multiple times.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Runtime) run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		r.setState(StateConnecting)
		if err := r.adapter.Connect(ctx); err != nil {
			r.setState(StateError)
			attempt++
			delay := reconnectDelay(attempt)
			r.log.Warn("Adapter connect failed, retrying",
				"attempt", attempt, "backoff", delay, "error", err)
			if !r.sleep(ctx, delay) {
				return
			}
			continue
		}

		attempt = 0
		r.setState(StateConnected)
		r.log.Info("Adapter connected")

		// Forward events until the stream closes (connection lost) or we
		// are told to stop.
		if !r.forward(ctx) {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := r.adapter.Disconnect(disconnectCtx); err != nil {
				r.log.Warn("Adapter disconnect failed", "error", err)
			}
			cancel()
			r.setState(StateDisconnected)
			return
		}

		r.setState(StateError)
		r.log.Warn("Adapter stream closed, reconnecting")
	}
}

// forward pumps adapter events to the output channel. Returns false when
// the runtime should stop, true when the stream died and a reconnect is
// due.
func (r *Runtime) forward(ctx context.Context) bool {
	selfID := r.adapter.SelfID()
	for {
		select {
		case <-r.stopCh:
			return false
		case <-ctx.Done():
			return false
		case event, ok := <-r.adapter.Events():
			if !ok {
				return true
			}
			if selfID != "" && authoredBy(event, selfID) {
				continue
			}
			select {
			case r.out <- event:
			case <-r.stopCh:
				return false
			case <-ctx.Done():
				return false
			}
		}
	}
}

// authoredBy reports whether the event was written by the given identity.
func authoredBy(event models.RawEventInput, selfID string) bool {
	for _, key := range []string{"user", "bot_id", "author"} {
		if v, ok := event.Payload[key].(string); ok && v == selfID {
			return true
		}
	}
	return false
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Runtime) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-r.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// reconnectDelay is exponential with jitter, capped at a minute.
func reconnectDelay(attempt int) time.Duration {
	d := reconnectBase << uint(attempt-1)
	if d > reconnectCap || d <= 0 {
		d = reconnectCap
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 2))
	return d/2 + jitter
}
