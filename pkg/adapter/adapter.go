// Package adapter wraps the network protocol of each external perception
// server (speech-to-text, gesture recognition, vision-language model) and
// exposes a normalized modality event stream plus a liveness signal.
//
// Adapters own exactly one connection to their server. A disconnected
// adapter stops producing events and reports Down while it reconnects with
// exponential backoff; it never gives up while the session runs, and it
// never crashes the orchestrator. Malformed frames are dropped and logged.
package adapter

import (
	"iter"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deckd/deckd/pkg/modality"
)

// Adapter is the contract between an input channel and the fusion engine.
type Adapter interface {
	// Events returns an iterator over normalized events. The sequence is
	// infinite until Close; a reconnect starts a fresh subscription with no
	// replay. The iterator yields a non-nil error only when the adapter is
	// shutting down abnormally.
	Events() iter.Seq2[*modality.Event, error]

	// Health returns a snapshot of the channel's liveness.
	Health() modality.Health

	// Close tears down the connection and stops the event stream.
	Close() error
}

const (
	// DefaultHeartbeat is the liveness probe interval.
	DefaultHeartbeat = 2 * time.Second

	// DefaultQueueSize bounds the undelivered event buffer per adapter.
	DefaultQueueSize = 64

	// Reconnect backoff bounds.
	backoffInitial = 500 * time.Millisecond
	backoffMax     = 30 * time.Second
)

type options struct {
	heartbeat time.Duration
	queueSize int
	dialer    *websocket.Dialer
}

// Option configures an adapter.
type Option func(*options)

// WithHeartbeat sets the liveness probe interval.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.heartbeat = d
		}
	}
}

// WithQueueSize sets the undelivered event buffer size.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		heartbeat: DefaultHeartbeat,
		queueSize: DefaultQueueSize,
		dialer:    websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
