package progress

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestStreamDeliversThenCloses(t *testing.T) {
	s := NewStream(4)
	if err := s.Write(Event{Event: EventMode, Data: "single"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second close should report ErrClosed, got %v", err)
	}
	if err := s.Write(Event{Event: EventDone}); !errors.Is(err, ErrClosed) {
		t.Fatalf("write after close should fail, got %v", err)
	}

	var got []string
	for ev := range s.Events() {
		got = append(got, ev.Event)
	}
	if len(got) != 1 || got[0] != EventMode {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestStreamCancelUnblocksWriters(t *testing.T) {
	s := NewStream(0)
	var wg sync.WaitGroup
	wg.Add(1)
	var writeErr error
	go func() {
		defer wg.Done()
		writeErr = s.Write(Event{Event: EventStep})
	}()

	s.Cancel()
	wg.Wait()
	if !errors.Is(writeErr, ErrClosed) {
		t.Fatalf("expected blocked write to be dropped, got %v", writeErr)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close after cancel: %v", err)
	}
	if _, ok := <-s.Events(); ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestSSEWriterFramesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)
	if err := w.Write(Event{Event: EventStep, Data: map[string]string{"stepId": "a", "status": "success"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Write(Event{Event: EventDone}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	body := rec.Body.String()
	want := "event: step\ndata: {\"status\":\"success\",\"stepId\":\"a\"}\n\n"
	if body != want {
		t.Fatalf("unexpected frame:\n%q\nwant\n%q", body, want)
	}
	if !rec.Flushed {
		t.Fatalf("expected writer to flush")
	}
}

func TestRecorderCountsCloses(t *testing.T) {
	r := &Recorder{}
	_ = r.Write(Event{Event: EventResponse})
	_ = r.Close()
	_ = r.Close()
	if r.Closes() != 2 {
		t.Fatalf("unexpected close count: %d", r.Closes())
	}
	if names := r.Names(); strings.Join(names, ",") != EventResponse {
		t.Fatalf("unexpected names: %v", names)
	}
}
