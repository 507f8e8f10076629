package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies a streamed event.
type Type string

const (
	TypeSessionStart Type = "session_start"
	TypeStatusUpdate Type = "status_update"
	TypeToolCall     Type = "tool_call"
	TypeHeartbeat    Type = "heartbeat"
	TypeComplete     Type = "complete"
	TypeError        Type = "error"
)

// StepSerializationError reports an event that could not be encoded
const StepSerializationError = "serialization_error"

// Event is the JSON payload of one SSE frame.
type Event struct {
	Type         Type            `json:"type"`
	Timestamp    time.Time       `json:"timestamp"`
	AnalysisMode string          `json:"analysis_mode,omitempty"`
	Enhanced     bool            `json:"enhanced,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	Step         string          `json:"step,omitempty"`
	Message      string          `json:"message,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolInput    map[string]any  `json:"tool_input,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Emitter receives pipeline events. Research tools emit from several
// goroutines, so implementations must be safe for concurrent use and must
// not block for long.
type Emitter func(Event)

// Discard drops every event.
func Discard(Event) {}

// Status builds a status_update event.
func Status(step, message string) Event {
	return Event{Type: TypeStatusUpdate, Timestamp: time.Now(), Step: step, Message: message}
}

// ToolCall builds a tool_call event.
func ToolCall(name string, input map[string]any) Event {
	return Event{Type: TypeToolCall, Timestamp: time.Now(), ToolName: name, ToolInput: input}
}

// Failure builds an error event.
func Failure(message string) Event {
	return Event{Type: TypeError, Timestamp: time.Now(), Message: message}
}

// Complete builds a complete event carrying result as its data.
// When result cannot be encoded an error event is returned instead.
func Complete(result any) Event {
	data, err := json.Marshal(result)
	if err != nil {
		return Failure(fmt.Sprintf("Event serialization error: %v", err))
	}
	return Event{Type: TypeComplete, Timestamp: time.Now(), Data: data}
}

// Terminal reports whether the event ends a stream.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}
