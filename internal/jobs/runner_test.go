package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cexll/ci-agent/internal/credits"
	"github.com/cexll/ci-agent/internal/dispatcher"
	"github.com/cexll/ci-agent/internal/history"
	"github.com/cexll/ci-agent/internal/intel"
	"github.com/cexll/ci-agent/internal/session"
	"github.com/cexll/ci-agent/internal/stream"
	"github.com/cexll/ci-agent/internal/webhook"
)

type fakeAnalyzer struct {
	fn func(ctx context.Context, req intel.Request, emit stream.Emitter) (*intel.Result, error)
}

func (f *fakeAnalyzer) Run(ctx context.Context, req intel.Request, emit stream.Emitter) (*intel.Result, error) {
	return f.fn(ctx, req, emit)
}

func succeed(ctx context.Context, req intel.Request, emit stream.Emitter) (*intel.Result, error) {
	emit(stream.Status("start", "Starting"))
	emit(stream.Status("complete", "done"))
	return &intel.Result{
		Competitor:   req.Competitor,
		FinalReport:  "report",
		Status:       intel.StatusSuccess,
		AnalysisMode: req.Mode,
		Workflow:     req.Mode.Workflow(),
	}, nil
}

type fakeIngester struct {
	n   int
	err error
}

func (f *fakeIngester) Ingest(context.Context, *intel.Result) (int, error) { return f.n, f.err }

type fakeQueue struct {
	jobs []*dispatcher.Job
	err  error
}

func (q *fakeQueue) Enqueue(job *dispatcher.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []webhook.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n webhook.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
	return nil
}

func (f *fakeNotifier) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, n := range f.notes {
		out = append(out, n.Event)
	}
	return out
}

type fakeObserver struct {
	mu       sync.Mutex
	statuses []string
}

func (f *fakeObserver) AnalysisFinished(_ context.Context, mode, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, mode+":"+status)
}

type fixture struct {
	runner   *Runner
	sessions *session.Store
	history  *history.Store
	credits  *credits.Tracker
	notifier *fakeNotifier
	observer *fakeObserver
	queue    *fakeQueue
}

func newFixture(t *testing.T, analyzer Analyzer) *fixture {
	t.Helper()
	h, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	sessions := session.NewStore()
	t.Cleanup(sessions.Close)

	f := &fixture{
		sessions: sessions,
		history:  h,
		credits:  credits.NewTracker(5),
		notifier: &fakeNotifier{},
		observer: &fakeObserver{},
		queue:    &fakeQueue{},
	}
	f.runner = New(Options{
		Analyzer:  analyzer,
		Sessions:  sessions,
		Knowledge: &fakeIngester{n: 4},
		History:   h,
		Notifier:  f.notifier,
		Credits:   f.credits,
		Costs:     Costs{Simple: 1, Deep: 3, Discovery: 2},
		Observer:  f.observer,
	})
	f.runner.SetQueue(f.queue)
	return f
}

func TestCostsFor(t *testing.T) {
	c := Costs{Simple: 1, Deep: 3}
	assert.Equal(t, 1, c.For(intel.ModeSimple))
	assert.Equal(t, 3, c.For(intel.ModeDeep))
	assert.Equal(t, 1, c.For(""))
}

func TestSubmitChargesAndQueues(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{fn: succeed})

	job, err := f.runner.Submit(context.Background(), intel.Request{Competitor: " Acme ", Mode: intel.ModeDeep}, "alice", "api")
	require.NoError(t, err)
	require.Len(t, f.queue.jobs, 1)

	assert.Equal(t, "Acme", job.Request.Competitor)
	assert.Equal(t, 3, job.Cost)
	assert.Equal(t, "alice", job.Identity)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 3, f.credits.Stats("alice").Used)

	sess, err := f.sessions.Get(job.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, sess.Status)
	assert.Equal(t, "api", sess.Source)
	require.Len(t, sess.Logs, 1)
	assert.Equal(t, "queued", sess.Logs[0].Step)
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{fn: succeed})
	ctx := context.Background()

	_, err := f.runner.Submit(ctx, intel.Request{Competitor: ""}, "alice", "api")
	var validation *intel.ValidationError
	assert.ErrorAs(t, err, &validation)

	_, err = f.runner.Submit(ctx, intel.Request{Competitor: "Acme", Mode: "fast"}, "alice", "api")
	assert.ErrorIs(t, err, intel.ErrInvalidMode)

	_, err = f.runner.Submit(ctx, intel.Request{Competitor: "Acme", Mode: intel.ModeDeep}, "bob", "api")
	require.NoError(t, err)
	_, err = f.runner.Submit(ctx, intel.Request{Competitor: "Acme", Mode: intel.ModeDeep}, "bob", "api")
	var limit *credits.LimitError
	assert.ErrorAs(t, err, &limit)

	assert.Zero(t, f.credits.Stats("alice").Used)
	assert.Len(t, f.queue.jobs, 1)
}

func TestSubmitQueueFullRefunds(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{fn: succeed})
	f.queue.err = dispatcher.ErrQueueFull

	_, err := f.runner.Submit(context.Background(), intel.Request{Competitor: "Acme"}, "alice", "api")
	assert.ErrorIs(t, err, dispatcher.ErrQueueFull)
	assert.Zero(t, f.credits.Stats("alice").Used)

	list := f.sessions.List()
	require.Len(t, list, 1)
	assert.Equal(t, session.StatusError, list[0].Status)
}

func TestSubmitWithoutQueue(t *testing.T) {
	r := New(Options{Analyzer: &fakeAnalyzer{fn: succeed}, Sessions: session.NewStore()})
	_, err := r.Submit(context.Background(), intel.Request{Competitor: "Acme"}, "alice", "api")
	assert.ErrorIs(t, err, dispatcher.ErrQueueClosed)
}

func TestExecuteSuccess(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{fn: succeed})
	ctx := context.Background()

	job, err := f.runner.Submit(ctx, intel.Request{Competitor: "Acme"}, "alice", "webhook")
	require.NoError(t, err)
	job.Attempt = 1
	require.NoError(t, f.runner.Execute(ctx, job))

	sess, err := f.sessions.Get(job.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Contains(t, string(sess.Result), `"rag_stored":true`)
	assert.Len(t, sess.Logs, 3)

	records, err := f.history.List(ctx, 0, "acme")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, job.SessionID, records[0].SessionID)

	assert.Equal(t, []string{webhook.EventCompleted}, f.notifier.events())
	assert.Equal(t, []string{"simple:success"}, f.observer.statuses)
	assert.Equal(t, 1, f.credits.Stats("alice").Used)
}

func TestExecuteValidationIsNonRetryable(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{fn: func(ctx context.Context, req intel.Request, emit stream.Emitter) (*intel.Result, error) {
		err := &intel.ValidationError{Field: "competitor_name", Message: "competitor_name is required"}
		return &intel.Result{Status: intel.StatusError, Error: err.Error()}, err
	}})

	job := &dispatcher.Job{SessionID: "missing", Attempt: 1, Request: intel.Request{Mode: intel.ModeDeep}}
	err := f.runner.Execute(context.Background(), job)
	assert.True(t, dispatcher.IsNonRetryable(err))
	assert.Equal(t, []string{"deep:error"}, f.observer.statuses)
}

func TestExecuteTransientErrorIsRetryable(t *testing.T) {
	boom := errors.New("provider unavailable")
	f := newFixture(t, &fakeAnalyzer{fn: func(ctx context.Context, req intel.Request, emit stream.Emitter) (*intel.Result, error) {
		return &intel.Result{Status: intel.StatusError, Error: boom.Error()}, boom
	}})

	job, err := f.runner.Submit(context.Background(), intel.Request{Competitor: "Acme"}, "alice", "api")
	require.NoError(t, err)
	job.Attempt = 2

	err = f.runner.Execute(context.Background(), job)
	assert.ErrorIs(t, err, boom)
	assert.False(t, dispatcher.IsNonRetryable(err))

	sess, _ := f.sessions.Get(job.SessionID)
	assert.Equal(t, session.StatusRunning, sess.Status, "session stays open until the job is abandoned")
	assert.Equal(t, "retry", sess.Logs[1].Step)
}

func TestAbandonRefundsAndNotifies(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{fn: succeed})
	job, err := f.runner.Submit(context.Background(), intel.Request{Competitor: "Acme", Mode: intel.ModeDeep}, "alice", "api")
	require.NoError(t, err)
	require.Equal(t, 3, f.credits.Stats("alice").Used)

	f.runner.Abandon(job, errors.New("gave up"))

	assert.Zero(t, f.credits.Stats("alice").Used)
	sess, err := f.sessions.Get(job.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusError, sess.Status)
	assert.Equal(t, "gave up", sess.Error)
	assert.Equal(t, []string{webhook.EventFailed}, f.notifier.events())
}

func TestFinalizeSkipsFailedResults(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{fn: succeed})
	res := &intel.Result{Competitor: "Acme", Status: intel.StatusError}

	f.runner.Finalize(context.Background(), "s", res)
	assert.False(t, res.RAGStored)

	records, err := f.history.List(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFinalizeKnowledgeFailureStillRecordsHistory(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{fn: succeed})
	f.runner.opts.Knowledge = &fakeIngester{err: errors.New("embedding quota")}
	res, _ := succeed(context.Background(), intel.Request{Competitor: "Acme", Mode: intel.ModeSimple}, stream.Discard)

	f.runner.Finalize(context.Background(), "s", res)
	assert.False(t, res.RAGStored)

	records, err := f.history.List(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRunnerWithDispatcher(t *testing.T) {
	attempts := 0
	var mu sync.Mutex
	f := newFixture(t, &fakeAnalyzer{fn: func(ctx context.Context, req intel.Request, emit stream.Emitter) (*intel.Result, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return &intel.Result{Status: intel.StatusError}, errors.New("rate limited")
		}
		return succeed(ctx, req, emit)
	}})

	d := dispatcher.New(f.runner, dispatcher.Config{
		Workers:        1,
		QueueSize:      2,
		MaxAttempts:    2,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
	defer d.Shutdown(context.Background())
	f.runner.SetQueue(d)

	job, err := f.runner.Submit(context.Background(), intel.Request{Competitor: "Acme"}, "alice", "api")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sess, err := f.sessions.Get(job.SessionID)
		return err == nil && sess.Status == session.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, f.credits.Stats("alice").Used)
	assert.Equal(t, []string{webhook.EventCompleted}, f.notifier.events())
}
