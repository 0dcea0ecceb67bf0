package agent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Stream event types.
const (
	EventInit     = "init"
	EventProgress = "progress"
	EventSummary  = "summary"
	EventError    = "error"
	EventClose    = "close"
)

type Status string

const (
	StatusThinking Status = "thinking"
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
)

type InitData struct {
	StreamID string `json:"streamId"`
	Prompt   string `json:"prompt"`
}

type ProgressData struct {
	StreamID string    `json:"streamId"`
	Status   Status    `json:"status"`
	Message  string    `json:"message"`
	ToolCall *ToolCall `json:"toolCall,omitempty"`
}

type SummaryData struct {
	StreamID   string `json:"streamId"`
	Status     Status `json:"status"`
	DurationMs int64  `json:"durationMs"`
	Result     any    `json:"result,omitempty"`
}

type ErrorData struct {
	StreamID string `json:"streamId"`
	Message  string `json:"message"`
}

// Emitter receives stream events. A nil data writes the event without a
// data line.
type Emitter interface {
	Emit(event string, data any) error
}

// SetSSEHeaders prepares w for an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// SSEWriter writes events to an HTTP response and flushes each one.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
	mu      sync.Mutex
}

func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &SSEWriter{w: w, flusher: flusher}, nil
}

func (s *SSEWriter) Emit(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data == nil {
		if _, err := fmt.Fprintf(s.w, "event: %s\n\n", event); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	} else {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	s.flusher.Flush()
	return nil
}

// ErrStreamTruncated means the stream ended without a close event.
var ErrStreamTruncated = errors.New("agent stream ended without close")

// Event is one parsed stream event.
type Event struct {
	Type string
	Data json.RawMessage
}

// ReadStream parses an event stream from r and hands each event to fn. It
// returns nil after the close event, ErrStreamTruncated if r ends first,
// and fn's error if fn fails.
func ReadStream(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var eventType string
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if eventType == "" && data.Len() == 0 {
				continue
			}
			ev := Event{Type: eventType, Data: json.RawMessage(bytes.TrimSuffix(data.Bytes(), []byte("\n")))}
			if ev.Type == "" {
				ev.Type = "message"
			}
			if len(ev.Data) == 0 {
				ev.Data = nil
			} else {
				ev.Data = append(json.RawMessage(nil), ev.Data...)
			}
			if err := fn(ev); err != nil {
				return err
			}
			if ev.Type == EventClose {
				return nil
			}
			eventType = ""
			data.Reset()
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			data.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStreamTruncated, err)
	}
	return ErrStreamTruncated
}
