// Package audit captures who/what/when/where/why records for every core
// state transition. Emission is fire-and-forget: a saturated or failing
// sink is logged and dropped, never allowed to block or fail the
// primary transition.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Event is one audit record. Before/After hold redacted snapshots of
// the changed record, never raw identifier values.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Subject   string                 `json:"subject"`
	Reason    string                 `json:"reason,omitempty"`
	Before    interface{} `json:"before,omitempty"`
	After     interface{} `json:"after,omitempty"`
}

// Store persists audit events. Append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Emitter buffers events onto a channel consumed by a background
// worker. Emit never blocks the caller.
type Emitter struct {
	inbox  chan Event
	store  Store
	logger zerolog.Logger
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(store Store, bufferSize int, logger zerolog.Logger) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{
		inbox:  make(chan Event, bufferSize),
		store:  store,
		logger: logger,
	}
}

// Emit enqueues an event. When the buffer is full the event is dropped
// with a warning rather than blocking the state transition.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case e.inbox <- event:
	default:
		e.logger.Warn().
			Str("action", event.Action).
			Str("resource", event.Resource).
			Msg("audit buffer full, event dropped")
	}
}

// Run consumes the inbox until ctx is cancelled. Persistence failures
// are reported, not fatal.
func (e *Emitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drain()
			return
		case event := <-e.inbox:
			e.persist(ctx, event)
		}
	}
}

// drain flushes whatever is still buffered at shutdown, with a short
// independent deadline since the run context is already cancelled.
func (e *Emitter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event := <-e.inbox:
			e.persist(ctx, event)
		default:
			return
		}
	}
}

func (e *Emitter) persist(ctx context.Context, event Event) {
	if err := e.store.Append(ctx, event); err != nil {
		e.logger.Error().Err(err).
			Str("action", event.Action).
			Str("resource", event.Resource).
			Msg("audit append failed")
	}
}
