// Package server exposes the tracker and its views as a JSON HTTP API for
// the presentation layer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ldi/fieldops/internal/dataset"
	"github.com/ldi/fieldops/internal/store"
	"github.com/ldi/fieldops/internal/tracker"
	"github.com/ldi/fieldops/internal/views"
	"github.com/ldi/fieldops/pkg/models"
)

// RoleHeader carries the caller's field role. The identity provider in
// front of the API is expected to set it.
const RoleHeader = "X-Field-Role"

type Server struct {
	tracker *tracker.Tracker
	dataset *dataset.Dataset
	logger  *zap.Logger

	mu     sync.Mutex
	server *http.Server
	closed bool
}

func NewServer(tr *tracker.Tracker, ds *dataset.Dataset, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ds == nil {
		ds = &dataset.Dataset{}
	}
	return &Server{tracker: tr, dataset: ds, logger: logger}
}

// Handler returns the API routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /api/tasks/{id}/complete", s.handleComplete)
	mux.HandleFunc("POST /api/tasks/{id}/photos", s.handleAddPhoto)
	mux.HandleFunc("POST /api/tasks/{id}/flag", s.handleFlag)
	mux.HandleFunc("POST /api/tasks/{id}/block", s.handleBlock)
	mux.HandleFunc("POST /api/tasks/{id}/notes", s.handleAddNote)
	mux.HandleFunc("POST /api/tasks/{id}/start", s.handleStart)
	mux.HandleFunc("POST /api/tasks/{id}/status", s.handleStatus)

	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/sites", s.handleSites)
	mux.HandleFunc("GET /api/sites/{id}/tasks", s.handleSiteTasks)
	mux.HandleFunc("GET /api/sites/{id}/rooms", s.handleSiteRooms)
	mux.HandleFunc("GET /api/rooms/{id}/items", s.handleRoomItems)
	mux.HandleFunc("GET /api/rooms/{roomID}/items/{itemID}/tasks", s.handleItemTasks)

	return RequestLogger(s.logger)(mux)
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("http server listening", zap.String("addr", addr))
	return srv.ListenAndServe()
}

// Shutdown stops a running server. Once called, Start returns
// http.ErrServerClosed without listening.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("http server shutting down")
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		SiteID:    q.Get("site"),
		RoomID:    q.Get("room"),
		BOQItemID: q.Get("item"),
	}
	if raw := q.Get("status"); raw != "" {
		status := models.TaskStatus(raw)
		if !status.Valid() {
			writeErr(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
		filter.Status = &status
	}
	for _, v := range q["stakeholder"] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			sh := models.Stakeholder(part)
			if !sh.Valid() {
				writeErr(w, http.StatusBadRequest, "unknown stakeholder "+part)
				return
			}
			filter.Stakeholders = append(filter.Stakeholders, sh)
		}
	}

	tasks, err := s.tracker.ListTasks(r.Context(), filter)
	s.respond(w, tasks, err)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tracker.Task(r.Context(), r.PathValue("id"))
	s.respondTask(w, r, task, err)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req tracker.CompleteOptions
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := s.tracker.CompleteTask(r.Context(), r.PathValue("id"), req)
	s.respondTask(w, r, task, err)
}

func (s *Server) handleAddPhoto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MediaID string `json:"media_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MediaID == "" {
		writeErr(w, http.StatusBadRequest, "media_id is required")
		return
	}
	task, err := s.tracker.AddPhoto(r.Context(), r.PathValue("id"), req.MediaID)
	s.respondTask(w, r, task, err)
}

func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
		tracker.FlagOptions
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := s.tracker.FlagTask(r.Context(), r.PathValue("id"), req.Reason, req.FlagOptions)
	s.respondTask(w, r, task, err)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsBlocked bool `json:"is_blocked"`
		tracker.BlockOptions
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := s.tracker.SetBlocked(r.Context(), r.PathValue("id"), req.IsBlocked, req.BlockOptions)
	s.respondTask(w, r, task, err)
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := s.tracker.AddNote(r.Context(), r.PathValue("id"), req.Note)
	s.respondTask(w, r, task, err)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	task, err := s.tracker.StartTask(r.Context(), r.PathValue("id"))
	s.respondTask(w, r, task, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.TaskStatus `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := s.tracker.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	s.respondTask(w, r, task, err)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tracker.Tasks(r.Context())
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, views.Summarize(tasks))
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tracker.Tasks(r.Context())
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, views.SiteSummaries(s.dataset, tasks))
}

func (s *Server) handleSiteTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tracker.TasksForSite(r.Context(), r.PathValue("id"))
	s.respond(w, tasks, err)
}

func (s *Server) handleSiteRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, views.NavigableRooms(s.dataset, r.PathValue("id")))
}

func (s *Server) handleRoomItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, views.ItemsForRoom(s.dataset, r.PathValue("id")))
}

func (s *Server) handleItemTasks(w http.ResponseWriter, r *http.Request) {
	role := r.Header.Get(RoleHeader)
	if role == "" {
		role = r.URL.Query().Get("role")
	}

	item := s.dataset.Item(r.PathValue("itemID"))
	if item == nil {
		writeJSON(w, http.StatusOK, []*models.FieldTask{})
		return
	}

	tasks, err := s.tracker.Tasks(r.Context())
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, views.ItemTasks(tasks, role, r.PathValue("roomID"), *item))
}

func (s *Server) respond(w http.ResponseWriter, data any, err error) {
	if err != nil {
		s.logger.Error("request failed", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// respondTask maps a nil task to 404 and tracker errors to client errors.
func (s *Server) respondTask(w http.ResponseWriter, r *http.Request, task *models.FieldTask, err error) {
	switch {
	case errors.Is(err, tracker.ErrUnknownStatus):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracker.ErrInvalidTransition):
		writeErr(w, http.StatusConflict, err.Error())
	case err != nil:
		s.respond(w, nil, err)
	case task == nil:
		writeErr(w, http.StatusNotFound, "task not found: "+r.PathValue("id"))
	default:
		writeJSON(w, http.StatusOK, task)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// decodeJSON reads the request body into out. An empty body leaves out
// untouched. It writes a 400 and returns false on malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
