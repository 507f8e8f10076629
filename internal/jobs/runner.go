// Package jobs runs queued analyses and stores what they produce.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/cexll/ci-agent/internal/dispatcher"
	"github.com/cexll/ci-agent/internal/history"
	"github.com/cexll/ci-agent/internal/intel"
	"github.com/cexll/ci-agent/internal/session"
	"github.com/cexll/ci-agent/internal/stream"
	"github.com/cexll/ci-agent/internal/webhook"
)

const notifyTimeout = time.Minute

// Analyzer runs one analysis. *intel.Analyzer implements it.
type Analyzer interface {
	Run(ctx context.Context, req intel.Request, emit stream.Emitter) (*intel.Result, error)
}

// Ingester stores results for retrieval. *knowledge.Base implements it.
type Ingester interface {
	Ingest(ctx context.Context, r *intel.Result) (int, error)
}

// HistoryWriter records finished analyses. *history.Store implements it.
type HistoryWriter interface {
	Save(ctx context.Context, sessionID string, r *intel.Result) (*history.Record, error)
}

// Notifier delivers completion callbacks. *webhook.Notifier implements it.
type Notifier interface {
	Notify(ctx context.Context, n webhook.Notification) error
}

// Credits charges callers. *credits.Tracker implements it.
type Credits interface {
	Consume(identity string, cost int) error
	Refund(identity string, cost int)
}

// Enqueuer accepts jobs. *dispatcher.Dispatcher implements it.
type Enqueuer interface {
	Enqueue(job *dispatcher.Job) error
}

// Observer records finished analyses
type Observer interface {
	AnalysisFinished(ctx context.Context, mode, status string, elapsed time.Duration)
}

// Costs is the credit price of each workflow
type Costs struct {
	Simple    int
	Deep      int
	Discovery int
}

// For returns the price of an analysis in mode
func (c Costs) For(mode intel.Mode) int {
	if mode == intel.ModeDeep {
		return c.Deep
	}
	return c.Simple
}

// Options configures a Runner. Everything except Analyzer and Sessions is optional.
type Options struct {
	Analyzer  Analyzer
	Sessions  *session.Store
	Knowledge Ingester
	History   HistoryWriter
	Notifier  Notifier
	Credits   Credits
	Costs     Costs
	Observer  Observer
	Retention time.Duration
}

// Runner submits analysis jobs and executes them for the dispatcher
type Runner struct {
	opts  Options
	queue Enqueuer
}

func New(opts Options) *Runner {
	if opts.Retention <= 0 {
		opts.Retention = session.DefaultRetention
	}
	return &Runner{opts: opts}
}

// SetQueue attaches the dispatcher. It is set after construction because the
// dispatcher itself needs the runner as its executor.
func (r *Runner) SetQueue(q Enqueuer) {
	r.queue = q
}

// Submit validates req, charges identity and enqueues a job with its own session
func (r *Runner) Submit(ctx context.Context, req intel.Request, identity, source string) (*dispatcher.Job, error) {
	if r.queue == nil {
		return nil, dispatcher.ErrQueueClosed
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cost := r.opts.Costs.For(req.Mode)
	if r.opts.Credits != nil {
		if err := r.opts.Credits.Consume(identity, cost); err != nil {
			return nil, err
		}
	}

	sessions := r.opts.Sessions
	sessionID := sessions.Create(&session.Session{
		Competitor:   req.Competitor,
		AnalysisMode: string(req.Mode),
		Source:       source,
	})
	job := &dispatcher.Job{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Request:   req,
		Source:    source,
		Identity:  identity,
		Cost:      cost,
	}

	if err := r.queue.Enqueue(job); err != nil {
		r.refund(job)
		_ = sessions.Finish(sessionID, nil, err.Error())
		sessions.ScheduleEviction(sessionID, r.opts.Retention)
		return nil, err
	}
	_ = sessions.AddLog(sessionID, "info", "queued", fmt.Sprintf("Queued %s analysis for %s (%s)", req.Mode, req.Competitor, source))
	zap.L().Info("analysis job queued",
		zap.String("job", job.ID),
		zap.String("session", sessionID),
		zap.String("source", source))
	return job, nil
}

// Execute runs one attempt of job
func (r *Runner) Execute(ctx context.Context, job *dispatcher.Job) error {
	sessions := r.opts.Sessions
	if job.Attempt > 1 {
		_ = sessions.AddLog(job.SessionID, "info", "retry", fmt.Sprintf("Attempt %d", job.Attempt))
	}

	start := time.Now()
	res, err := r.opts.Analyzer.Run(ctx, job.Request, sessions.Recorder(job.SessionID))
	r.observe(ctx, job.Request.Mode, res, time.Since(start))
	if err != nil {
		var validation *intel.ValidationError
		if errors.As(err, &validation) || errors.Is(err, intel.ErrInvalidMode) {
			return dispatcher.NonRetryable(err)
		}
		return err
	}

	r.Finalize(ctx, job.SessionID, res)
	_ = sessions.Finish(job.SessionID, res, "")
	sessions.ScheduleEviction(job.SessionID, r.opts.Retention)

	r.notify(job, webhook.Notification{Event: webhook.EventCompleted, Result: res})
	return nil
}

// Abandon refunds and closes the session of a job that will not run again
func (r *Runner) Abandon(job *dispatcher.Job, err error) {
	r.refund(job)
	sessions := r.opts.Sessions
	_ = sessions.Finish(job.SessionID, nil, err.Error())
	sessions.ScheduleEviction(job.SessionID, r.opts.Retention)

	r.notify(job, webhook.Notification{Event: webhook.EventFailed, Error: err.Error()})
}

// Finalize stores a successful result in the knowledge base and the history.
// It sets RAGStored when the knowledge base accepted the documents.
func (r *Runner) Finalize(ctx context.Context, sessionID string, res *intel.Result) {
	if !res.Succeeded() {
		return
	}
	log := zap.L().With(zap.String("competitor", res.Competitor), zap.String("session", sessionID))

	if r.opts.Knowledge != nil {
		n, err := r.opts.Knowledge.Ingest(ctx, res)
		switch {
		case err != nil:
			log.Warn("failed to store analysis in knowledge base", zap.Error(err))
		case n > 0:
			res.RAGStored = true
		}
	}
	if r.opts.History != nil {
		if _, err := r.opts.History.Save(ctx, sessionID, res); err != nil {
			log.Warn("failed to record analysis history", zap.Error(err))
		}
	}
}

func (r *Runner) refund(job *dispatcher.Job) {
	if r.opts.Credits != nil && job.Cost > 0 {
		r.opts.Credits.Refund(job.Identity, job.Cost)
	}
}

func (r *Runner) observe(ctx context.Context, mode intel.Mode, res *intel.Result, elapsed time.Duration) {
	if r.opts.Observer == nil {
		return
	}
	status := intel.StatusError
	if res.Succeeded() {
		status = intel.StatusSuccess
	}
	r.opts.Observer.AnalysisFinished(ctx, string(mode), status, elapsed)
}

func (r *Runner) notify(job *dispatcher.Job, n webhook.Notification) {
	if r.opts.Notifier == nil {
		return
	}
	n.JobID = job.ID
	n.SessionID = job.SessionID
	n.Source = job.Source

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := r.opts.Notifier.Notify(ctx, n); err != nil {
		zap.L().Warn("completion callback failed", zap.String("job", job.ID), zap.Error(err))
	}
}
