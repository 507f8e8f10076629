// Package session tracks analyses while they stream and for a short
// retention period afterwards.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cexll/ci-agent/internal/stream"
)

// ErrSessionNotFound is returned for unknown or evicted session ids
var ErrSessionNotFound = errors.New("Session not found")

// DefaultRetention is how long a finished session stays visible
const DefaultRetention = 5 * time.Minute

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Kind distinguishes the workflow behind a session
type Kind string

const (
	KindAnalysis  Kind = "analysis"
	KindDiscovery Kind = "discovery"
)

// Session is one analysis or discovery run
type Session struct {
	ID           string          `json:"session_id"`
	Kind         Kind            `json:"kind"`
	Competitor   string          `json:"competitor"`
	AnalysisMode string          `json:"analysis_mode"`
	Source       string          `json:"source,omitempty"`
	Status       Status          `json:"status"`
	StartTime    time.Time       `json:"start_time"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Enhanced     bool            `json:"enhanced"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	Logs         []LogEntry      `json:"logs"`
}

// LogEntry is one progress message
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // info, error, success
	Step      string    `json:"step,omitempty"`
	Message   string    `json:"message"`
}

// NewID builds enhanced_{mode}_session_{YYYYMMDD_HHMMSS}_{name}
func NewID(mode, name string, at time.Time) string {
	return fmt.Sprintf("enhanced_%s_session_%s_%s", mode, at.Format("20060102_150405"),
		strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}

// Store is an in-memory session registry safe for concurrent use
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timers   map[string]*time.Timer
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		timers:   make(map[string]*time.Timer),
		now:      time.Now,
	}
}

// Create registers s as running and returns its id. An empty id is built
// with NewID; an id already in use gets a numeric suffix.
func (s *Store) Create(sess *Session) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sess.ID == "" {
		sess.ID = NewID(sess.AnalysisMode, sess.Competitor, now)
	}
	id := sess.ID
	for n := 2; s.sessions[id] != nil; n++ {
		id = fmt.Sprintf("%s_%d", sess.ID, n)
	}
	sess.ID = id
	if sess.Kind == "" {
		sess.Kind = KindAnalysis
	}
	sess.Status = StatusRunning
	sess.Enhanced = true
	sess.StartTime = now
	sess.UpdatedAt = now
	if sess.Logs == nil {
		sess.Logs = []LogEntry{}
	}
	s.sessions[id] = sess
	return id
}

// Get returns a snapshot of the session
func (s *Store) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess.snapshot(), nil
}

func (sess *Session) snapshot() Session {
	cp := *sess
	cp.Logs = append([]LogEntry(nil), sess.Logs...)
	return cp
}

// List returns snapshots of every session, newest first
func (s *Store) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// Active counts running sessions
func (s *Store) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sess := range s.sessions {
		if sess.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Len counts every session still held
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) UpdateStatus(id string, status Status) error {
	return s.update(id, func(sess *Session) {
		sess.Status = status
	})
}

// Finish stores the final result and marks the session completed, or
// error when errMsg is set.
func (s *Store) Finish(id string, result any, errMsg string) error {
	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode session result: %w", err)
		}
		raw = b
	}
	return s.update(id, func(sess *Session) {
		sess.Result = raw
		sess.Error = errMsg
		sess.Status = StatusCompleted
		if errMsg != "" {
			sess.Status = StatusError
		}
	})
}

func (s *Store) AddLog(id, level, step, message string) error {
	return s.update(id, func(sess *Session) {
		sess.Logs = append(sess.Logs, LogEntry{
			Timestamp: s.now(),
			Level:     level,
			Step:      step,
			Message:   message,
		})
	})
}

func (s *Store) update(id string, fn func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	fn(sess)
	sess.UpdatedAt = s.now()
	return nil
}

// ScheduleEviction removes the session after d, replacing any earlier
// schedule for the same id.
func (s *Store) ScheduleEviction(id string, d time.Duration) {
	if d <= 0 {
		d = DefaultRetention
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.sessions, id)
		delete(s.timers, id)
	})
}

// Close cancels pending evictions
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Recorder returns an emitter that copies status and tool events into the
// session log.
func (s *Store) Recorder(id string) stream.Emitter {
	return func(ev stream.Event) {
		switch ev.Type {
		case stream.TypeStatusUpdate:
			_ = s.AddLog(id, LevelFor(ev.Step), ev.Step, ev.Message)
		case stream.TypeToolCall:
			_ = s.AddLog(id, "info", "tool_call", "Running "+ev.ToolName)
		case stream.TypeError:
			_ = s.AddLog(id, "error", "error", ev.Message)
		}
	}
}

// LevelFor maps a workflow step to a log level
func LevelFor(step string) string {
	switch {
	case step == "error" || strings.HasSuffix(step, "_error"):
		return "error"
	case step == "complete" || step == "cache_stored" || step == "cache_hit":
		return "success"
	default:
		return "info"
	}
}
