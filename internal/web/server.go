// Package web serves the message endpoint and read-only views of tasks and
// plugins over HTTP.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/metalagman/forge/internal/engine"
	"github.com/metalagman/forge/internal/plugin"
	"github.com/metalagman/forge/internal/task"
	"github.com/rs/zerolog/log"
)

// Handler answers inbound messages.
type Handler interface {
	Handle(ctx context.Context, userID int64, text string) engine.Reply
}

// TaskReader is the read side of the task store.
type TaskReader interface {
	List(ctx context.Context, f task.Filter) ([]task.Task, error)
	Get(ctx context.Context, id int64) (task.Task, error)
	Events(ctx context.Context, id int64) ([]task.Event, error)
}

// RouteTable exposes the live plugin routes.
type RouteTable interface {
	Routes() []plugin.Route
}

// Server provides the HTTP handlers.
type Server struct {
	handler Handler
	tasks   TaskReader
	routes  RouteTable
	index   *template.Template
}

//go:embed templates/*.html
var templatesFS embed.FS

// NewServer creates a new web server.
func NewServer(handler Handler, tasks TaskReader, routes RouteTable) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, err
	}
	return &Server{handler: handler, tasks: tasks, routes: routes, index: tmpl}, nil
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /messages", s.handleMessage)
	mux.HandleFunc("GET /tasks", s.handleTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleTask)
	mux.HandleFunc("GET /plugins", s.handlePlugins)
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("http server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type indexView struct {
	Tasks  []task.Task
	Routes []plugin.Route
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	items, err := s.tasks.List(r.Context(), task.Filter{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.index.Execute(w, indexView{Tasks: items, Routes: s.routes.Routes()}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type messageRequest struct {
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}
	if req.UserID == 0 || req.Text == "" {
		writeError(w, http.StatusBadRequest, "user_id and text are required")
		return
	}
	writeJSON(w, http.StatusOK, s.handler.Handle(r.Context(), req.UserID, req.Text))
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	var f task.Filter
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		f.Status = task.Status(v)
		if !f.Status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(v))
			return
		}
	}
	if v := q.Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		f.UserID = &id
	}
	items, err := s.tasks.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []task.Task{}
	}
	writeJSON(w, http.StatusOK, items)
}

type taskView struct {
	task.Task
	Events []task.Event `json:"events"`
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	t, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	events, err := s.tasks.Events(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []task.Event{}
	}
	writeJSON(w, http.StatusOK, taskView{Task: t, Events: events})
}

func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	routes := s.routes.Routes()
	if routes == nil {
		routes = []plugin.Route{}
	}
	writeJSON(w, http.StatusOK, routes)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
