package stream

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Step progress milestones, in percent.
var stepProgress = map[string]int{
	"start":             5,
	"research_start":    15,
	"research_complete": 40,
	"analysis_start":    45,
	"analysis_complete": 70,
	"report_start":      75,
	"cache_hit":         95,
	"cache_stored":      98,
	"complete":          99,
}

const (
	toolCallStep = 2
	toolCallCap  = 95
)

// ErrTruncated is returned when a stream ends without complete or error.
var ErrTruncated = errors.New("stream ended before completion")

// State is the client view of a running analysis.
type State struct {
	SessionID string          `json:"session_id,omitempty"`
	Progress  int             `json:"progress"`
	Step      string          `json:"step"`
	Current   string          `json:"current"`
	ToolCalls int             `json:"tool_calls"`
	Result    json.RawMessage `json:"result,omitempty"`
	Err       string          `json:"error,omitempty"`
	Done      bool            `json:"done"`
}

// Reduce folds one event into s. Once s is done it is returned unchanged.
func Reduce(s State, ev Event) State {
	if s.Done {
		return s
	}

	switch ev.Type {
	case TypeSessionStart:
		s.SessionID = ev.SessionID
		if msg := strings.TrimSpace(ev.Message); msg != "" {
			s.Current = msg
		}
	case TypeStatusUpdate:
		if ev.Step != "" {
			s.Step = ev.Step
			if p, ok := stepProgress[ev.Step]; ok && p > s.Progress {
				s.Progress = p
			}
		}
		if msg := strings.TrimSpace(ev.Message); msg != "" {
			s.Current = msg
		} else if ev.Step != "" {
			s.Current = ev.Step
		}
	case TypeToolCall:
		s.ToolCalls++
		if s.Progress < toolCallCap {
			s.Progress = min(s.Progress+toolCallStep, toolCallCap)
		}
		if ev.ToolName != "" {
			s.Current = "Using tool: " + ev.ToolName
		}
	case TypeComplete:
		s.Done = true
		s.Progress = 100
		s.Step = "complete"
		s.Current = "Analysis complete"
		s.Result = ev.Data
		var outcome struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if len(ev.Data) > 0 && json.Unmarshal(ev.Data, &outcome) == nil && outcome.Status == "error" {
			s.Err = outcome.Error
			if s.Err == "" {
				s.Err = "analysis failed"
			}
			s.Current = s.Err
		}
	case TypeError:
		s.Done = true
		s.Err = ev.Message
		if s.Err == "" {
			s.Err = "unknown error"
		}
		s.Current = s.Err
	}
	return s
}

// Reducer holds the state of one stream.
type Reducer struct {
	state State
}

// NewReducer returns a reducer at zero progress.
func NewReducer() *Reducer {
	return &Reducer{}
}

// Apply folds ev into the state and returns the new state.
func (r *Reducer) Apply(ev Event) State {
	r.state = Reduce(r.state, ev)
	return r.state
}

// State returns the current state.
func (r *Reducer) State() State {
	return r.state
}

// Consume parses frames from body and folds them into a reducer until a
// terminal event, calling onEvent after each one. Frames that are not valid
// events are skipped.
func Consume(body io.Reader, onEvent func(Event, State)) (State, error) {
	p := NewParser(body)
	r := NewReducer()
	for {
		f, err := p.Next()
		if errors.Is(err, io.EOF) {
			return r.State(), ErrTruncated
		}
		if err != nil {
			return r.State(), err
		}
		ev, err := Decode(f)
		if err != nil {
			continue
		}
		st := r.Apply(ev)
		if onEvent != nil {
			onEvent(ev, st)
		}
		if st.Done {
			return st, nil
		}
	}
}
