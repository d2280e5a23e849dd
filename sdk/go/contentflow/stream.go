package contentflow

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Event is one decoded server-sent event.
type Event struct {
	Name string
	Data json.RawMessage
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Stream decodes a text/event-stream body.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newStream(body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &Stream{body: body, scanner: scanner}
}

// Next returns the next event, or io.EOF once the server closes the stream.
func (s *Stream) Next() (Event, error) {
	var (
		ev   Event
		data []string
		seen bool
	)
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if seen {
				ev.Data = json.RawMessage(strings.Join(data, "\n"))
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
			seen = true
		case "data":
			data = append(data, value)
			seen = true
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("read stream: %w", err)
	}
	if seen {
		ev.Data = json.RawMessage(strings.Join(data, "\n"))
		return ev, nil
	}
	return Event{}, io.EOF
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// ErrorPayload is the data of an "error" event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Phase   string `json:"phase"`
}

func (e *ErrorPayload) Error() string {
	return fmt.Sprintf("%s in %s: %s", e.Code, e.Phase, e.Message)
}

// Result aggregates a finished stream.
type Result struct {
	Mode      string
	Text      string
	RequestID string
	SessionID string
	Events    []Event
}

// Collect drains s. A server-side failure is returned as *ErrorPayload along
// with the events seen so far.
func Collect(s *Stream) (*Result, error) {
	res := &Result{}
	var failure *ErrorPayload
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
		res.Events = append(res.Events, ev)
		switch ev.Name {
		case "mode":
			var payload struct {
				Mode string `json:"mode"`
			}
			if err := ev.Decode(&payload); err == nil {
				res.Mode = payload.Mode
			}
		case "response":
			var payload struct {
				Text string `json:"text"`
			}
			if err := ev.Decode(&payload); err == nil {
				res.Text = payload.Text
			}
		case "error":
			failure = &ErrorPayload{}
			if err := ev.Decode(failure); err != nil {
				failure.Message = string(ev.Data)
			}
		case "done":
			var payload struct {
				RequestID string `json:"requestId"`
				SessionID string `json:"sessionId"`
			}
			if err := ev.Decode(&payload); err == nil {
				res.RequestID = payload.RequestID
				res.SessionID = payload.SessionID
			}
		}
	}
	if failure != nil {
		return res, failure
	}
	return res, nil
}
