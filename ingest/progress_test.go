package ingest

import "testing"

func collectEvents(r *Reporter) []Event {
	events := make([]Event, 0)
	for ev := range r.Events() {
		events = append(events, ev)
	}
	return events
}

func TestReporterDeliversInOrder(t *testing.T) {
	r := NewReporter()
	r.Emit(EventStatus, "starting", nil)
	r.Emit(EventChunksPrepared, "2 chunks", nil)
	r.Emit(EventComplete, "done", nil)
	r.Close()

	events := collectEvents(r)
	want := []EventType{EventStatus, EventChunksPrepared, EventComplete}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d: %s, want %s", i, ev.Type, want[i])
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("event %d has no timestamp", i)
		}
	}
}

func TestReporterTerminalEventIsEmittedOnce(t *testing.T) {
	r := NewReporter()
	r.Emit(EventComplete, "done", nil)
	r.Emit(EventError, "boom", nil)
	r.Emit(EventStatus, "after terminal", nil)
	r.Close()

	events := collectEvents(r)
	if len(events) != 1 || events[0].Type != EventComplete {
		t.Errorf("expected only the first terminal event, got %+v", events)
	}
}

func TestReporterCloseIsIdempotent(t *testing.T) {
	r := NewReporter()
	r.Close()
	r.Close()

	// Emitting after close must not panic.
	r.Emit(EventStatus, "late", nil)

	if events := collectEvents(r); len(events) != 0 {
		t.Errorf("closed reporter delivered %d events", len(events))
	}
}

func TestReporterDropsWhenConsumerAbandons(t *testing.T) {
	r := NewReporter()

	// Nobody reads; the buffer fills and further emits are dropped instead of
	// blocking the pipeline.
	for i := 0; i < 1000; i++ {
		r.Emit(EventStatus, "tick", nil)
	}
	r.Close()

	events := collectEvents(r)
	if len(events) == 0 || len(events) > 256 {
		t.Errorf("expected a full but bounded buffer, got %d events", len(events))
	}
}

func TestReporterTerminalEventSurvivesFullBuffer(t *testing.T) {
	r := NewReporter()

	// Fill the buffer with progress updates a slow consumer has not read
	// yet. The terminal event must still come through, at the expense of
	// older updates.
	for i := 0; i < 1000; i++ {
		r.Emit(EventStatus, "tick", nil)
	}
	r.Emit(EventComplete, "done", nil)
	r.Close()

	events := collectEvents(r)
	if len(events) == 0 {
		t.Fatal("no events delivered")
	}
	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Errorf("last event %s, want complete", last.Type)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Type == EventComplete || ev.Type == EventError {
			t.Errorf("terminal event delivered out of order")
		}
	}
}
