package audit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr)
}

func TestEmitterDeliversEvents(t *testing.T) {
	store := NewMemoryStore()
	emitter := NewEmitter(store, 16, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		emitter.Run(ctx)
		close(done)
	}()

	emitter.Emit(Event{Actor: "ingest-feed", Action: "version.create", Resource: "patient_name", Subject: "p1"})
	emitter.Emit(Event{Actor: "reviewer", Action: "link.create", Resource: "patient_link", Subject: "p2"})

	deadline := time.After(2 * time.Second)
	for len(store.Events()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 events, got %d", len(store.Events()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	events := store.Events()
	if events[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be stamped")
	}
	if events[0].Action != "version.create" {
		t.Errorf("unexpected first action %q", events[0].Action)
	}
}

func TestEmitterNeverBlocksWhenFull(t *testing.T) {
	store := NewMemoryStore()
	emitter := NewEmitter(store, 1, testLogger())
	// No worker running: the second emit must drop, not block.
	finished := make(chan struct{})
	go func() {
		emitter.Emit(Event{Action: "a"})
		emitter.Emit(Event{Action: "b"})
		emitter.Emit(Event{Action: "c"})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
}

type failingStore struct{}

func (failingStore) Append(context.Context, Event) error { return errors.New("sink down") }

func TestEmitterSurvivesSinkFailure(t *testing.T) {
	emitter := NewEmitter(failingStore{}, 4, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		emitter.Run(ctx)
		close(done)
	}()

	emitter.Emit(Event{Action: "version.create"})
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestEmitterDrainsOnShutdown(t *testing.T) {
	store := NewMemoryStore()
	emitter := NewEmitter(store, 16, testLogger())

	// Buffer events before the worker ever runs, then run + cancel.
	emitter.Emit(Event{Action: "a"})
	emitter.Emit(Event{Action: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	emitter.Run(ctx)

	if got := len(store.Events()); got != 2 {
		t.Errorf("expected drained events, got %d", got)
	}
}
