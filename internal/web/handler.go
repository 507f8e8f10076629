// Package web renders the operational sessions pages.
package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cexll/ci-agent/internal/session"
)

//go:embed templates/*
var templatesFS embed.FS

// Handler handles web UI requests
type Handler struct {
	sessions  *session.Store
	templates *template.Template
}

// NewHandler creates a new web handler
func NewHandler(sessions *session.Store) (*Handler, error) {
	tmpl, err := template.New("web").Funcs(template.FuncMap{
		"statusColor":   statusColor,
		"statusIcon":    statusIcon,
		"logLevelColor": logLevelColor,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &Handler{
		sessions:  sessions,
		templates: tmpl,
	}, nil
}

// RegisterRoutes registers web UI routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ui/sessions", h.handleSessionList).Methods("GET")
	r.HandleFunc("/ui/sessions/{id}", h.handleSessionDetail).Methods("GET")
}

// handleSessionList renders the session list page
func (h *Handler) handleSessionList(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Sessions []session.Session
		Active   int
	}{
		Sessions: h.sessions.List(),
		Active:   h.sessions.Active(),
	}
	h.render(w, "session_list.html", data)
}

// handleSessionDetail renders one session with its log and result
func (h *Handler) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, err := h.sessions.Get(id)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	data := struct {
		Session session.Session
		Result  string
	}{
		Session: sess,
		Result:  indent(sess.Result),
	}
	h.render(w, "session_detail.html", data)
}

func (h *Handler) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, name, data); err != nil {
		zap.L().Error("failed to render page", zap.String("template", name), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func indent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Helper functions for templates
func statusColor(status session.Status) string {
	switch status {
	case session.StatusRunning:
		return "#0d6efd"
	case session.StatusCompleted:
		return "#198754"
	case session.StatusError:
		return "#dc3545"
	default:
		return "#6c757d"
	}
}

func statusIcon(status session.Status) string {
	switch status {
	case session.StatusRunning:
		return "⟳"
	case session.StatusCompleted:
		return "✓"
	case session.StatusError:
		return "✗"
	default:
		return "○"
	}
}

func logLevelColor(level string) string {
	switch strings.ToLower(level) {
	case "error":
		return "#dc3545"
	case "success":
		return "#198754"
	case "info":
		return "#0d6efd"
	default:
		return "#6c757d"
	}
}
