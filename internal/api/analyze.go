package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/cexll/ci-agent/internal/auth"
	"github.com/cexll/ci-agent/internal/concurrency"
	"github.com/cexll/ci-agent/internal/intel"
	"github.com/cexll/ci-agent/internal/session"
	"github.com/cexll/ci-agent/internal/stream"
)

const (
	sourceAPI       = "api"
	discoveryMode   = "discovery"
	eventBufferSize = 64
)

type analyzeRequest struct {
	intel.Request
	// Stream selects streaming on the stream endpoints; only an explicit
	// false falls back to the synchronous response.
	Stream *bool `json:"stream,omitempty"`
}

type discoverRequest struct {
	BusinessIdea string `json:"business_idea"`
	Stream       *bool  `json:"stream,omitempty"`
}

// charge spends cost credits for identity and writes the 429 when the
// allowance is exhausted.
func (s *Server) charge(w http.ResponseWriter, identity string, cost int) bool {
	if s.opts.Credits == nil || cost <= 0 {
		return true
	}
	if err := s.opts.Credits.Consume(identity, cost); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

func (s *Server) refund(identity string, cost int) {
	if s.opts.Credits != nil && cost > 0 {
		s.opts.Credits.Refund(identity, cost)
	}
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if !decode(w, r, &body) {
		return
	}
	s.runAnalysis(w, r, body.Request)
}

func (s *Server) runAnalysis(w http.ResponseWriter, r *http.Request, req intel.Request) {
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}
	identity := auth.Identity(r.Context())
	cost := s.opts.Costs.For(req.Mode)
	if !s.charge(w, identity, cost) {
		return
	}

	sessions := s.opts.Sessions
	id := sessions.Create(&session.Session{Competitor: req.Competitor, AnalysisMode: string(req.Mode), Source: sourceAPI})
	defer sessions.ScheduleEviction(id, s.opts.SessionRetention)

	zap.L().Info("starting analysis",
		zap.String("competitor", req.Competitor),
		zap.String("mode", string(req.Mode)),
		zap.String("session", id))
	res, err := s.execute(r.Context(), id, req, sessions.Recorder(id))
	if err != nil {
		s.refund(identity, cost)
		_ = sessions.Finish(id, res, err.Error())
		writeDetail(w, http.StatusInternalServerError, failureDetail(res, err))
		return
	}
	_ = sessions.Finish(id, res, "")
	writeJSON(w, http.StatusOK, res)
}

// execute runs the analyzer, records the outcome and stores a success
func (s *Server) execute(ctx context.Context, sessionID string, req intel.Request, emit stream.Emitter) (*intel.Result, error) {
	start := time.Now()
	res, err := s.opts.Analyzer.Run(ctx, req, emit)
	status := intel.StatusError
	if err == nil && res.Succeeded() {
		status = intel.StatusSuccess
	}
	s.opts.Metrics.AnalysisFinished(ctx, string(req.Mode), status, time.Since(start))
	if err != nil {
		return res, err
	}
	if !res.Succeeded() {
		return res, errors.New(failureDetail(res, nil))
	}
	if s.opts.Jobs != nil {
		s.opts.Jobs.Finalize(ctx, sessionID, res)
	}
	return res, nil
}

func failureDetail(res *intel.Result, err error) string {
	if res != nil && res.Error != "" {
		return res.Error
	}
	if err != nil {
		return err.Error()
	}
	mode := intel.ModeSimple
	if res != nil && res.AnalysisMode != "" {
		mode = res.AnalysisMode
	}
	return fmt.Sprintf("%s analysis failed", mode.Title())
}

func (s *Server) analyzeStream(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if !decode(w, r, &body) {
		return
	}
	if body.Stream != nil && !*body.Stream {
		s.runAnalysis(w, r, body.Request)
		return
	}

	req := body.Request
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}
	identity := auth.Identity(r.Context())
	mode := string(req.Mode)
	sessionID := session.NewID(mode, req.Competitor, s.now())

	s.stream(w, r, streamRun{
		identity: identity,
		cost:     s.opts.Costs.For(req.Mode),
		slot:     concurrency.StreamKey(identity, req.Competitor, mode),
		session: &session.Session{
			ID:           sessionID,
			Competitor:   req.Competitor,
			AnalysisMode: mode,
			Source:       sourceAPI,
		},
		mode:    mode,
		message: fmt.Sprintf("Starting %s analysis for %s", mode, req.Competitor),
		run: func(ctx context.Context, id string, emit stream.Emitter) (any, error) {
			return s.execute(ctx, id, req, emit)
		},
	})
}

func (s *Server) analyzeAsync(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if !decode(w, r, &body) {
		return
	}
	if s.opts.Jobs == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Background analysis is not available")
		return
	}

	job, err := countingSubmitter{s}.Submit(r.Context(), body.Request, auth.Identity(r.Context()), sourceAPI)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":        "queued",
		"job_id":        job.ID,
		"session_id":    job.SessionID,
		"analysis_mode": job.Request.Mode,
		"timestamp":     s.timestamp(),
	})
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	var body discoverRequest
	if !decode(w, r, &body) {
		return
	}
	s.runDiscovery(w, r, body.BusinessIdea)
}

func (s *Server) runDiscovery(w http.ResponseWriter, r *http.Request, idea string) {
	idea, err := intel.ValidateIdea(idea)
	if err != nil {
		writeError(w, err)
		return
	}
	identity := auth.Identity(r.Context())
	cost := s.opts.Costs.Discovery
	if !s.charge(w, identity, cost) {
		return
	}

	sessions := s.opts.Sessions
	id := sessions.Create(discoverySession(idea, s.now()))
	defer sessions.ScheduleEviction(id, s.opts.SessionRetention)

	res, err := s.opts.Discoverer.Run(r.Context(), idea, sessions.Recorder(id))
	if err != nil {
		s.refund(identity, cost)
		_ = sessions.Finish(id, res, err.Error())
		writeError(w, err)
		return
	}
	_ = sessions.Finish(id, res, "")
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) discoverStream(w http.ResponseWriter, r *http.Request) {
	var body discoverRequest
	if !decode(w, r, &body) {
		return
	}
	if body.Stream != nil && !*body.Stream {
		s.runDiscovery(w, r, body.BusinessIdea)
		return
	}

	idea, err := intel.ValidateIdea(body.BusinessIdea)
	if err != nil {
		writeError(w, err)
		return
	}
	identity := auth.Identity(r.Context())

	s.stream(w, r, streamRun{
		identity: identity,
		cost:     s.opts.Costs.Discovery,
		slot:     concurrency.StreamKey(identity, idea, discoveryMode),
		session:  discoverySession(idea, s.now()),
		mode:     discoveryMode,
		message:  "Starting competitor discovery",
		run: func(ctx context.Context, _ string, emit stream.Emitter) (any, error) {
			return s.opts.Discoverer.Run(ctx, idea, emit)
		},
	})
}

func discoverySession(idea string, at time.Time) *session.Session {
	return &session.Session{
		ID:           fmt.Sprintf("discovery_session_%s_%s", at.Format("20060102_150405"), ulid.Make().String()),
		Kind:         session.KindDiscovery,
		Competitor:   truncate(idea, 80),
		AnalysisMode: discoveryMode,
		Source:       sourceAPI,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
