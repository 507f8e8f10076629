package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/cexll/ci-agent/internal/concurrency"
	"github.com/cexll/ci-agent/internal/session"
	"github.com/cexll/ci-agent/internal/stream"
)

// streamRun describes one workflow served as an event stream
type streamRun struct {
	identity string
	cost     int
	// slot keeps one identical stream per caller at a time
	slot    string
	session *session.Session
	mode    string
	message string
	run     func(ctx context.Context, sessionID string, emit stream.Emitter) (any, error)
}

// stream charges the caller, opens a session and forwards workflow events as
// SSE frames. The first frame is session_start; the last is complete or error.
// Failed runs are refunded. The session is evicted after the retention delay.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, run streamRun) {
	if err := s.streams.Acquire(run.slot); err != nil {
		if errors.Is(err, concurrency.ErrLimit) {
			writeDetail(w, http.StatusTooManyRequests, "Too many concurrent streams, try again shortly")
			return
		}
		writeDetail(w, http.StatusConflict, "This analysis is already streaming for this client")
		return
	}
	defer s.streams.Release(run.slot)

	if !s.charge(w, run.identity, run.cost) {
		return
	}

	sessions := s.opts.Sessions
	id := sessions.Create(run.session)
	defer sessions.ScheduleEviction(id, s.opts.SessionRetention)
	log := zap.L().With(zap.String("session", id), zap.String("mode", run.mode))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sw := stream.NewWriter(w, run.mode)
	sw.OnSend(s.opts.Metrics.SSEEvent)
	if err := sw.Send(stream.Event{Type: stream.TypeSessionStart, SessionID: id, Message: run.message}); err != nil {
		log.Warn("client went away before the stream started", zap.Error(err))
		s.refund(run.identity, run.cost)
		_ = sessions.Finish(id, nil, err.Error())
		return
	}

	events := make(chan stream.Event, eventBufferSize)
	record := sessions.Recorder(id)
	emit := func(ev stream.Event) {
		record(ev)
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	failed := false
	go func() {
		defer close(done)
		defer close(events)

		result, err := run.run(ctx, id, emit)
		if err != nil {
			failed = true
			_ = sessions.Finish(id, result, err.Error())
			emit(stream.Failure(err.Error()))
			return
		}
		_ = sessions.Finish(id, result, "")
		emit(stream.Complete(result))
	}()

	if err := stream.Pump(ctx, sw, events, s.opts.Heartbeat); err != nil {
		log.Info("stream closed early", zap.Error(err))
	}
	cancel()
	<-done

	if failed {
		s.refund(run.identity, run.cost)
	}
	log.Info("stream finished", zap.Bool("failed", failed))
}
