package ingest

import (
	"sync"
	"time"
)

type EventType string

const (
	EventStatus         EventType = "status"
	EventChunksPrepared EventType = "chunks_prepared"
	EventChunkStart     EventType = "chunk_start"
	EventChunkComplete  EventType = "chunk_complete"
	EventChunkError     EventType = "chunk_error"
	EventMergeComplete  EventType = "merge_complete"

	EventStatementStart    EventType = "statement_start"
	EventStatementComplete EventType = "statement_complete"
	EventStatementError    EventType = "statement_error"

	EventValidationStart    EventType = "validation_start"
	EventValidationComplete EventType = "validation_complete"
	EventValidationError    EventType = "validation_error"

	EventClassificationStart     EventType = "classification_start"
	EventClassificationTriggered EventType = "classification_triggered"
	EventClassificationError     EventType = "classification_error"

	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one progress update streamed to the caller.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Reporter is the unidirectional event stream from the pipeline to the
// caller. The stream terminates exactly once, with either a complete or an
// error event; Close is idempotent. Emits never block: a client that
// disconnected mid-stream stops consuming, and the pipeline must still run
// to completion, so events are dropped once the buffer is full.
type Reporter struct {
	mu       sync.Mutex
	ch       chan Event
	closed   bool
	terminal bool
}

func NewReporter() *Reporter {
	return &Reporter{ch: make(chan Event, 256)}
}

func (r *Reporter) Events() <-chan Event {
	return r.ch
}

func (r *Reporter) Emit(t EventType, message string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.terminal {
		return
	}

	ev := Event{Type: t, Timestamp: time.Now().UTC(), Message: message, Data: data}

	if t == EventComplete || t == EventError {
		r.terminal = true
		// The terminal event must reach a consumer that is still attached,
		// however slowly it reads. Discard buffered progress updates until
		// there is room; the loop ends because no one else can send.
		for {
			select {
			case r.ch <- ev:
				return
			default:
			}
			select {
			case <-r.ch:
			default:
			}
		}
	}

	select {
	case r.ch <- ev:
	default:
		// Consumer abandoned the stream; drop rather than stall the pipeline.
	}
}

// Close ends the stream. Safe to call from a defer on every code path.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.ch)
}
