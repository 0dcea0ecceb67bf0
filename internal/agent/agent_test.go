package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabcanvas/api/internal/command"
	"collabcanvas/api/internal/lease"
	"collabcanvas/api/internal/mutation"
	"collabcanvas/api/internal/retry"
	"collabcanvas/api/internal/room"
)

type recorder struct {
	events []Event
}

func (r *recorder) Emit(event string, data any) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = b
	}
	r.events = append(r.events, Event{Type: event, Data: raw})
	return nil
}

func (r *recorder) types() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newToolbox(t *testing.T) (*Toolbox, *room.Room) {
	t.Helper()
	rm := room.New("test")
	policy := retry.DefaultPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	guard := lease.NewGuard(lease.NewMemoryManager(lease.DefaultTTL, nil), policy, nil)
	return NewToolbox(mutation.NewService(rm, guard, nil)), rm
}

func TestRunnerCompositeFromPrompt(t *testing.T) {
	tools, rm := newToolbox(t)
	runner := NewRunner(nil, tools, nil)
	rec := &recorder{}

	err := runner.Run(context.Background(), "user-1", Request{
		Prompt: "Create a login form",
		Origin: &command.Point{X: 40, Y: 40},
	}, rec)
	require.NoError(t, err)

	types := rec.types()
	assert.Equal(t, EventInit, types[0])
	assert.Equal(t, EventSummary, types[len(types)-2])
	assert.Equal(t, EventClose, types[len(types)-1])
	assert.NotContains(t, types, EventError)
	assert.Len(t, rm.Snapshot().Shapes, 7)

	var init InitData
	require.NoError(t, json.Unmarshal(rec.events[0].Data, &init))
	assert.Equal(t, "Create a login form", init.Prompt)
	assert.True(t, strings.HasPrefix(init.StreamID, "stream_"))

	var summary SummaryData
	require.NoError(t, json.Unmarshal(rec.events[len(rec.events)-2].Data, &summary))
	assert.Equal(t, StatusSuccess, summary.Status)
	assert.Equal(t, init.StreamID, summary.StreamID)
}

func TestRunnerExplicitCalls(t *testing.T) {
	tools, rm := newToolbox(t)
	runner := NewRunner(RequestPlanner{}, tools, nil)
	rec := &recorder{}

	err := runner.Run(context.Background(), "user-1", Request{
		Prompt: "draw and move",
		Calls: []ToolCall{
			{Name: command.ToolCreateShape, Params: json.RawMessage(`{"id":"sun","type":"circle","x":10,"y":10}`)},
			{Name: command.ToolMoveShape, Params: json.RawMessage(`{"shapeId":"sun","x":50,"y":50}`)},
			{Name: command.ToolInspectCanvas, Params: json.RawMessage(`{"minimal":true}`)},
		},
	}, rec)
	require.NoError(t, err)

	md, ok := rm.Get(context.Background(), "shape:sun")
	require.True(t, ok)
	assert.Equal(t, 50.0, md.Shape.X)
	assert.Equal(t, 140.0, md.Shape.Width())
	assert.Equal(t, 140.0, md.Shape.Height())
}

func TestRunnerFailureEndsWithErrorThenClose(t *testing.T) {
	tools, _ := newToolbox(t)
	runner := NewRunner(nil, tools, nil)
	rec := &recorder{}

	err := runner.Run(context.Background(), "user-1", Request{
		Prompt: "move it",
		Calls:  []ToolCall{{Name: command.ToolMoveShape, Params: json.RawMessage(`{"shapeId":"ghost","x":1,"y":1}`)}},
	}, rec)
	require.ErrorIs(t, err, mutation.ErrNotFound)

	types := rec.types()
	require.GreaterOrEqual(t, len(types), 2)
	assert.Equal(t, []string{EventError, EventClose}, types[len(types)-2:])
	assert.NotContains(t, types, EventSummary)

	var payload ErrorData
	require.NoError(t, json.Unmarshal(rec.events[len(rec.events)-2].Data, &payload))
	assert.Contains(t, payload.Message, "shape:ghost")
}

func TestRunnerRejectsEmptyPromptAndUnknownTool(t *testing.T) {
	tools, _ := newToolbox(t)
	runner := NewRunner(nil, tools, nil)

	err := runner.Run(context.Background(), "u", Request{Prompt: "  "}, &recorder{})
	require.ErrorIs(t, err, command.ErrValidation)

	err = runner.Run(context.Background(), "u", Request{Prompt: "paint a sunset"}, &recorder{})
	require.ErrorIs(t, err, ErrNoPlan)

	_, err = tools.Call(context.Background(), "u", ToolCall{Name: "explode"})
	require.ErrorIs(t, err, command.ErrValidation)

	_, err = tools.Call(context.Background(), "u", ToolCall{Name: command.ToolCreateShape, Params: json.RawMessage(`{"type":"circle"}`)})
	var verr *command.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "x", verr.Field)
}

func TestSSERoundTrip(t *testing.T) {
	tools, _ := newToolbox(t)
	runner := NewRunner(nil, tools, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetSSEHeaders(w)
		sse, err := NewSSEWriter(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = runner.Run(r.Context(), "user-1", Request{Prompt: "add a nav bar"}, sse)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var types []string
	err = ReadStream(resp.Body, func(ev Event) error {
		types = append(types, ev.Type)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, EventInit, types[0])
	assert.Equal(t, EventClose, types[len(types)-1])
	assert.Contains(t, types, EventSummary)
}

func TestReadStreamTruncated(t *testing.T) {
	body := "event: init\ndata: {\"streamId\":\"s\",\"prompt\":\"p\"}\n\n" +
		"event: progress\ndata: {\"status\":\"thinking\"}\n\n"
	var got []Event
	err := ReadStream(strings.NewReader(body), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	require.ErrorIs(t, err, ErrStreamTruncated)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"streamId":"s","prompt":"p"}`, string(got[0].Data))

	stop := errors.New("stop")
	err = ReadStream(strings.NewReader(body), func(Event) error { return stop })
	assert.ErrorIs(t, err, stop)

	err = ReadStream(strings.NewReader("event: close\n\n"), func(ev Event) error {
		assert.Nil(t, ev.Data)
		return nil
	})
	assert.NoError(t, err)
}
