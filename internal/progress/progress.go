package progress

import (
	"errors"
	"sync"
)

// Event names emitted by the orchestrator.
const (
	EventMode            = "mode"
	EventPlan            = "plan"
	EventStep            = "step"
	EventTool            = "tool"
	EventValidationStart = "validation_start"
	EventValidation      = "validation"
	EventResponse        = "response"
	EventError           = "error"
	EventDone            = "done"
)

// ErrClosed is returned by writes after the sink has been closed or cancelled.
var ErrClosed = errors.New("progress: sink closed")

// Event is one forward-only progress record.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Sink is the only surface the core sees of the progress channel.
type Sink interface {
	Write(Event) error
	Close() error
}

// Stream is an in-process Sink backed by a channel. The producer closes it;
// the consumer may Cancel at any time, after which writes are dropped.
type Stream struct {
	mu        sync.RWMutex
	events    chan Event
	closed    bool
	cancelled chan struct{}
	cancel    sync.Once
}

// NewStream creates a stream with the given channel buffer.
func NewStream(buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{
		events:    make(chan Event, buffer),
		cancelled: make(chan struct{}),
	}
}

// Write delivers ev unless the stream is closed or cancelled.
func (s *Stream) Write(ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case <-s.cancelled:
		return ErrClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.cancelled:
		return ErrClosed
	}
}

// Close ends the stream. Only the first call succeeds.
func (s *Stream) Close() error {
	s.Cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	close(s.events)
	return nil
}

// Cancel is called by the consumer to stop receiving events. Pending and
// future writes return ErrClosed; the channel still closes on Close.
func (s *Stream) Cancel() {
	s.cancel.Do(func() { close(s.cancelled) })
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done is closed once the stream has been cancelled or closed.
func (s *Stream) Done() <-chan struct{} {
	return s.cancelled
}

// Recorder is a Sink that keeps every event in memory. It is used by the CLI
// and in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	closes int
}

// Write appends ev. Writes after Close are rejected.
func (r *Recorder) Write(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closes > 0 {
		return ErrClosed
	}
	r.events = append(r.events, ev)
	return nil
}

// Close records the close.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	if r.closes > 1 {
		return ErrClosed
	}
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, ev := range r.events {
		names[i] = ev.Event
	}
	return names
}

// Closes reports how many times Close was called.
func (r *Recorder) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}
