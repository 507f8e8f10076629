package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cexll/ci-agent/internal/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newTestStore() *Store {
	s := NewStore()
	s.now = fixedClock(time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC))
	return s
}

func TestNewID(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 30, 5, 0, time.UTC)
	assert.Equal(t, "enhanced_deep_session_20250601_093005_Acme_Corp", NewID("deep", " Acme Corp ", at))
}

func TestStore_CreateGetAndList(t *testing.T) {
	s := newTestStore()

	a := s.Create(&Session{Competitor: "Acme", AnalysisMode: "simple"})
	b := s.Create(&Session{Competitor: "Globex", AnalysisMode: "deep"})

	got, err := s.Get(a)
	require.NoError(t, err)
	assert.Equal(t, "enhanced_simple_session_20250601_093001_Acme", got.ID)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, KindAnalysis, got.Kind)
	assert.True(t, got.Enhanced)
	assert.NotNil(t, got.Logs)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, b, list[0].ID)
	assert.Equal(t, a, list[1].ID)
	assert.Equal(t, 2, s.Active())
}

func TestStore_CreateDuplicateID(t *testing.T) {
	s := newTestStore()
	first := s.Create(&Session{ID: "same"})
	second := s.Create(&Session{ID: "same"})
	third := s.Create(&Session{ID: "same"})

	assert.Equal(t, "same", first)
	assert.Equal(t, "same_2", second)
	assert.Equal(t, "same_3", third)
}

func TestStore_UnknownSession(t *testing.T) {
	s := newTestStore()

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.UpdateStatus("missing", StatusError), ErrSessionNotFound)
	assert.ErrorIs(t, s.AddLog("missing", "info", "start", "x"), ErrSessionNotFound)
	assert.ErrorIs(t, s.Finish("missing", nil, ""), ErrSessionNotFound)
}

func TestStore_FinishAndSnapshot(t *testing.T) {
	s := newTestStore()
	id := s.Create(&Session{Competitor: "Acme", AnalysisMode: "simple"})

	require.NoError(t, s.AddLog(id, "info", "start", "Starting"))
	snap, err := s.Get(id)
	require.NoError(t, err)

	require.NoError(t, s.Finish(id, map[string]string{"status": "success"}, ""))
	require.NoError(t, s.AddLog(id, "success", "complete", "done"))

	assert.Len(t, snap.Logs, 1, "snapshots do not see later writes")

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.JSONEq(t, `{"status":"success"}`, string(got.Result))
	assert.Len(t, got.Logs, 2)
	assert.Zero(t, s.Active())

	require.NoError(t, s.Finish(id, nil, "boom"))
	got, _ = s.Get(id)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "boom", got.Error)
}

func TestStore_ScheduleEviction(t *testing.T) {
	s := NewStore()
	defer s.Close()

	keep := s.Create(&Session{ID: "keep"})
	gone := s.Create(&Session{ID: "gone"})

	s.ScheduleEviction(keep, time.Hour)
	s.ScheduleEviction(gone, time.Hour)
	s.ScheduleEviction(gone, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := s.Get(gone)
		return err != nil
	}, time.Second, 5*time.Millisecond)

	_, err := s.Get(keep)
	assert.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestRecorder(t *testing.T) {
	s := newTestStore()
	id := s.Create(&Session{Competitor: "Acme"})
	rec := s.Recorder(id)

	rec(stream.Status("start", "Starting"))
	rec(stream.ToolCall("website", map[string]any{"url": "https://acme.example"}))
	rec(stream.Status("tool_error", "github failed: rate limited"))
	rec(stream.Status("research_error", "research failed"))
	rec(stream.Event{Type: stream.TypeHeartbeat})
	rec(stream.Failure("boom"))

	got, err := s.Get(id)
	require.NoError(t, err)
	require.Len(t, got.Logs, 5)
	assert.Equal(t, "Running website", got.Logs[1].Message)
	assert.Equal(t, "tool_error", got.Logs[2].Step)
	assert.Equal(t, "error", got.Logs[2].Level)
	assert.Equal(t, "error", got.Logs[3].Level)
	assert.Equal(t, "error", got.Logs[4].Level)
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		step string
		want string
	}{
		{"start", "info"},
		{"research_complete", "info"},
		{"error", "error"},
		{"writer_error", "error"},
		{"complete", "success"},
		{"cache_hit", "success"},
		{"cache_stored", "success"},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.step); got != tt.want {
			t.Errorf("LevelFor(%q) = %q, want %q", tt.step, got, tt.want)
		}
	}
}
