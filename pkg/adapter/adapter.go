// Package adapter defines the source-adapter contract and the runtime that
// supervises adapters: connection state, bounded reconnection, and
// self-authored message filtering.
package adapter

import (
	"context"

	"github.com/mehdiaksoy/mateai/pkg/models"
)

// State is an adapter's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Adapter is a long-lived connection to one external source. Adapters
// convert source-native payloads into RawEventInputs without enrichment;
// everything smarter happens in the pipeline.
type Adapter interface {
	// Name returns the source tag (e.g. "slack").
	Name() string

	// Connect establishes the source connection and starts the event
	// stream. Blocks until connected or ctx is done.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down. The events channel is closed
	// once the stream has drained.
	Disconnect(ctx context.Context) error

	// Events returns the stream of normalized events. Closed on
	// disconnect.
	Events() <-chan models.RawEventInput

	// SelfID identifies the system's own identity at the source (bot user
	// id); events it authored are dropped by the runtime. Empty when the
	// source has no such identity.
	SelfID() string

	// HealthCheck verifies the connection is alive.
	HealthCheck(ctx context.Context) error
}
