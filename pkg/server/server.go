// Package server exposes the pipeline and the status store over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattryanharris/where-is-matt/pkg/db"
	"github.com/mattryanharris/where-is-matt/pkg/duration"
	"github.com/mattryanharris/where-is-matt/pkg/pipeline"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
	maxBodyBytes        = 64 << 10
)

// Store is the status store the server reads and writes.
type Store interface {
	Latest(ctx context.Context) (*db.Status, error)
	History(ctx context.Context, limit int) ([]*db.Status, error)
	Post(ctx context.Context, message, detail, color string) (*db.Status, error)
	Runs(ctx context.Context, limit int) ([]*db.RunRecord, error)
}

// Runner executes pipeline stages.
type Runner interface {
	RunStages(ctx context.Context, stages ...pipeline.Stage) *pipeline.Run
	Cleanup(ctx context.Context, includeImage bool) (*pipeline.CleanupResult, error)
	Inspect(ctx context.Context) *pipeline.Report
	ImagePath() string
}

// Options configures a Server.
type Options struct {
	Logger *slog.Logger
	// AutoUpdate runs the full pipeline after every posted status.
	AutoUpdate bool
	// RunTimeout bounds a triggered run. Runs outlive the request that
	// started them.
	RunTimeout time.Duration
	Now        func() time.Time
}

// Server holds the HTTP handlers.
type Server struct {
	store  Store
	runner Runner
	opts   Options
}

// New creates a server.
func New(store Store, runner Runner, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{store: store, runner: runner, opts: opts}
}

// Handler returns the routed, wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/prepare", s.handleStages(pipeline.StagePrepare))
	mux.HandleFunc("POST /api/generate", s.handleStages(pipeline.StageGenerate))
	mux.HandleFunc("POST /api/push", s.handleStages(pipeline.StagePush))
	mux.HandleFunc("POST /api/run", s.handleStages(pipeline.FullRun...))
	mux.HandleFunc("GET /api/cron", s.handleStages(pipeline.FullRun...))
	mux.HandleFunc("POST /api/cleanup", s.handleCleanup)

	mux.HandleFunc("GET /api/image", s.handleImage)
	mux.HandleFunc("GET /api/message", s.handleGetMessage)
	mux.HandleFunc("POST /api/message", s.handlePostMessage)
	mux.HandleFunc("GET /api/message/text", s.handleMessageText)
	mux.HandleFunc("GET /api/messages", s.handleMessages)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", Healthz("where-is-matt"))

	return Wrap(s.opts.Logger, mux)
}

func (s *Server) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.RunTimeout)
}

func (s *Server) handleStages(stages ...pipeline.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := s.runContext(r)
		defer cancel()

		run := s.runner.RunStages(ctx, stages...)
		status := http.StatusOK
		if !run.Success {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, run)
	}
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	includeImage, _ := strconv.ParseBool(r.URL.Query().Get("image"))

	ctx, cancel := s.runContext(r)
	defer cancel()

	res, err := s.runner.Cleanup(ctx, includeImage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cleanup": res})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.runner.ImagePath())
	if err != nil || len(data) == 0 {
		writeText(w, http.StatusNotFound, "No image found")
		return
	}
	w.Header().Set("Content-Type", pipeline.ImageContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// messageView is the wire form of a status record.
type messageView struct {
	ID           int64      `json:"id"`
	Message      string     `json:"message"`
	Detail       string     `json:"detail,omitempty"`
	Color        string     `json:"color,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	HasCountdown bool       `json:"hasCountdown"`
	TargetTime   *time.Time `json:"targetTime,omitempty"`
	Remaining    string     `json:"remaining,omitempty"`
}

func (s *Server) view(st *db.Status) messageView {
	v := messageView{
		ID:           st.ID,
		Message:      st.Message,
		Detail:       st.Detail,
		Color:        st.Color,
		Timestamp:    st.CreatedAt,
		HasCountdown: st.IsCountdown(),
		TargetTime:   st.TargetTime,
	}
	if st.TargetTime != nil {
		v.Remaining = duration.FormatRemaining(*st.TargetTime, s.opts.Now())
	}
	return v
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Latest(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "No messages found")
		return
	}
	writeJSON(w, http.StatusOK, s.view(st))
}

func (s *Server) handleMessageText(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Latest(r.Context())
	if err != nil {
		writeText(w, http.StatusInternalServerError, "Error retrieving message")
		return
	}
	if st == nil {
		writeText(w, http.StatusNotFound, "No message found")
		return
	}
	writeText(w, http.StatusOK, st.Message)
}

// postRequest accepts the current field names plus the older "train" and
// "city" spellings.
type postRequest struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Train   string `json:"train"`
	Color   string `json:"color"`
	City    string `json:"city"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = strings.TrimSpace(req.City)
	}
	detail := strings.TrimSpace(req.Detail)
	if detail == "" {
		detail = strings.TrimSpace(req.Train)
	}

	st, err := s.store.Post(r.Context(), message, detail, strings.TrimSpace(req.Color))
	if errors.Is(err, db.ErrEmptyMessage) {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	resp := map[string]any{"status": s.view(st)}
	if s.opts.AutoUpdate {
		ctx, cancel := s.runContext(r)
		defer cancel()
		run := s.runner.RunStages(ctx, pipeline.FullRun...)
		resp["autoUpdate"] = "success"
		if !run.Success {
			resp["autoUpdate"] = "failed"
		}
		resp["run"] = run
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	history, err := s.store.History(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	views := make([]messageView, 0, len(history))
	for _, st := range history {
		views = append(views, s.view(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": views, "count": len(views)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := s.runner.Inspect(r.Context())
	runs, err := s.store.Runs(r.Context(), 5)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*db.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipeline": report, "recentRuns": runs})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	requestID, _ := RequestIDFromContext(r.Context())
	s.opts.Logger.Error("request_failed", "request_id", requestID, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}
