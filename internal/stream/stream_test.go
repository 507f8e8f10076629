package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserLineEndings(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"lf", "data: {\"a\":1}\n\ndata: two\n\n"},
		{"crlf", "data: {\"a\":1}\r\n\r\ndata: two\r\n\r\n"},
		{"cr", "data: {\"a\":1}\r\rdata: two\r\r"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(strings.NewReader(tt.input))
			f, err := p.Next()
			require.NoError(t, err)
			assert.Equal(t, `{"a":1}`, f.Data)
			assert.Equal(t, "message", f.Event)

			f, err = p.Next()
			require.NoError(t, err)
			assert.Equal(t, "two", f.Data)

			_, err = p.Next()
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestParserFields(t *testing.T) {
	input := ": keep-alive\n" +
		"event: update\n" +
		"id: 7\n" +
		"retry: 1500\n" +
		"data: line one\n" +
		"data:line two\n" +
		"\n" +
		"\n" +
		"data: trailing"

	p := NewParser(strings.NewReader(input))
	f, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, "update", f.Event)
	assert.Equal(t, "7", f.ID)
	assert.Equal(t, 1500*time.Millisecond, f.Retry)
	assert.Equal(t, "line one\nline two", f.Data)

	f, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, "trailing", f.Data)
	assert.Equal(t, "message", f.Event)

	_, err = p.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = p.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReduceProgressSequence(t *testing.T) {
	steps := []struct {
		ev   Event
		want int
	}{
		{Event{Type: TypeSessionStart, SessionID: "s1", Message: "Starting simple analysis for Acme"}, 0},
		{Status("start", "Starting"), 5},
		{Status("research_start", ""), 15},
		{ToolCall("website", map[string]any{"url": "https://acme.test"}), 17},
		{Status("research_complete", "done"), 40},
		{Event{Type: TypeHeartbeat}, 40},
		{Status("analysis_start", ""), 45},
		{Status("analysis_complete", ""), 70},
		{Status("start", "late duplicate"), 70},
		{Status("custom_step", "something"), 70},
		{Status("report_start", ""), 75},
		{Status("complete", ""), 99},
	}

	var s State
	for i, step := range steps {
		s = Reduce(s, step.ev)
		assert.Equalf(t, step.want, s.Progress, "step %d (%s)", i, step.ev.Step)
		assert.Falsef(t, s.Done, "step %d should not terminate", i)
	}
	assert.Equal(t, "s1", s.SessionID)
	assert.Equal(t, 1, s.ToolCalls)
	assert.Equal(t, "complete", s.Step)

	s = Reduce(s, Complete(map[string]string{"status": "success", "final_report": "ok"}))
	assert.True(t, s.Done)
	assert.Equal(t, 100, s.Progress)
	assert.Empty(t, s.Err)
	assert.JSONEq(t, `{"status":"success","final_report":"ok"}`, string(s.Result))
}

func TestReduceTerminalIgnoresLaterEvents(t *testing.T) {
	s := Reduce(State{}, Status("analysis_start", ""))
	s = Reduce(s, Failure("quota exceeded"))
	require.True(t, s.Done)
	assert.Equal(t, 45, s.Progress)
	assert.Equal(t, "quota exceeded", s.Err)

	after := Reduce(s, Complete(map[string]string{"status": "success"}))
	assert.Equal(t, s, after)
}

func TestReduceCompleteWithErrorResult(t *testing.T) {
	s := Reduce(State{}, Complete(map[string]string{"status": "error", "error": "llm unavailable"}))
	assert.True(t, s.Done)
	assert.Equal(t, "llm unavailable", s.Err)
}

func TestReduceErrorWithoutMessage(t *testing.T) {
	s := Reduce(State{}, Event{Type: TypeError})
	assert.Equal(t, "unknown error", s.Err)
}

func TestReduceToolCallsCapped(t *testing.T) {
	s := State{Progress: 94}
	s = Reduce(s, ToolCall("github", nil))
	assert.Equal(t, 95, s.Progress)
	s = Reduce(s, ToolCall("github", nil))
	assert.Equal(t, 95, s.Progress)

	s = State{Progress: 98}
	s = Reduce(s, ToolCall("website", nil))
	assert.Equal(t, 98, s.Progress)
}

func TestWriterFramesAndStamps(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec, "deep")

	var sent []Type
	sw.OnSend(func(tp Type) { sent = append(sent, tp) })

	require.NoError(t, sw.Send(Status("start", "go")))
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "data: "))
	require.True(t, strings.HasSuffix(body, "\n\n"))

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(body, "data: "), "\n\n")), &ev))
	assert.Equal(t, TypeStatusUpdate, ev.Type)
	assert.Equal(t, "deep", ev.AnalysisMode)
	assert.True(t, ev.Enhanced)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, []Type{TypeStatusUpdate}, sent)
}

func TestWriterSerializationFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec, "simple")

	require.NoError(t, sw.Send(Status("research_start", "Researching")))
	require.NoError(t, sw.Send(ToolCall("bad", map[string]any{"fn": func() {}})))
	require.NoError(t, sw.Send(Status("research_complete", "Research done")))

	st, err := Consume(strings.NewReader(rec.Body.String()), nil)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.False(t, st.Done, "a bad intermediate event must not end the stream")
	assert.Empty(t, st.Err)
	assert.Equal(t, 40, st.Progress)
	assert.Equal(t, 0, st.ToolCalls)

	rec = httptest.NewRecorder()
	sw = NewWriter(rec, "simple")
	require.NoError(t, sw.Send(Event{Type: TypeComplete, Data: json.RawMessage(`{"broken`)}))

	st, err = Consume(strings.NewReader(rec.Body.String()), nil)
	require.NoError(t, err)
	assert.True(t, st.Done)
	assert.Contains(t, st.Err, "Event serialization error")
}

func TestCompleteSerializationFailure(t *testing.T) {
	ev := Complete(map[string]any{"ch": make(chan int)})
	assert.Equal(t, TypeError, ev.Type)
	assert.Contains(t, ev.Message, "serialization")
}

func TestPumpHeartbeatAndClose(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec, "simple")
	events := make(chan Event)

	done := make(chan error, 1)
	go func() {
		done <- Pump(context.Background(), sw, events, 10*time.Millisecond)
	}()

	time.Sleep(35 * time.Millisecond)
	events <- Complete(map[string]string{"status": "success"})
	close(events)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Pump did not return after channel close")
	}

	var heartbeats int
	st, err := Consume(strings.NewReader(rec.Body.String()), func(ev Event, _ State) {
		if ev.Type == TypeHeartbeat {
			heartbeats++
		}
	})
	require.NoError(t, err)
	assert.True(t, st.Done)
	assert.GreaterOrEqual(t, heartbeats, 1)
}

func TestPumpContextCancel(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec, "simple")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Pump(ctx, sw, make(chan Event), time.Second)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestConsumeTruncated(t *testing.T) {
	body := "data: {\"type\":\"status_update\",\"step\":\"start\"}\n\n" +
		"data: not json\n\n"
	st, err := Consume(strings.NewReader(body), nil)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Equal(t, 5, st.Progress)
	assert.False(t, st.Done)
}
