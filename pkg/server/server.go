// Package server exposes the sync handler over HTTP: request/response note access, the websocket stream,
// health probes and metrics.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/astromechza/notesync/pkg/metrics"
	"github.com/astromechza/notesync/pkg/notes"
	"github.com/astromechza/notesync/pkg/registry"
	"github.com/astromechza/notesync/pkg/syncproto"
)

const maxBodyBytes = 4 << 20

type Options struct {
	// AllowedOrigin restricts browser origins for both CORS and websocket upgrades. Empty or "*" allows any.
	AllowedOrigin string
	Session       syncproto.SessionOptions
	// DB adds a readiness check that pings the database when set.
	DB     *sql.DB
	Logger *slog.Logger
}

type Server struct {
	ctx      context.Context
	handler  *syncproto.Handler
	store    *notes.Store
	subs     *registry.Registry
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	health   healthcheck.Handler
	router   *mux.Router
	sessions sync.WaitGroup
}

// New builds the HTTP surface. Streaming sessions are told to close when ctx is done.
func New(ctx context.Context, handler *syncproto.Handler, store *notes.Store, subs *registry.Registry, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		ctx:     ctx,
		handler: handler,
		store:   store,
		subs:    subs,
		opts:    opts,
		logger:  opts.Logger,
		health:  healthcheck.NewHandler(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	if opts.DB != nil {
		s.health.AddReadinessCheck("database", healthcheck.DatabasePingCheck(opts.DB, time.Second))
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.Methods(http.MethodGet).Path("/health").HandlerFunc(s.health.LiveEndpoint)
	r.Methods(http.MethodGet).Path("/health/live").HandlerFunc(s.health.LiveEndpoint)
	r.Methods(http.MethodGet).Path("/health/ready").HandlerFunc(s.health.ReadyEndpoint)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())
	r.Methods(http.MethodGet).Path("/notes").HandlerFunc(s.listNotes)
	r.Methods(http.MethodPost).Path("/notes").HandlerFunc(s.createNote)
	r.Methods(http.MethodGet).Path("/note/{id}/ws").HandlerFunc(s.streamNote)
	r.Methods(http.MethodGet).Path("/note/{id}").HandlerFunc(s.getNote)
	r.Methods(http.MethodPost).Path("/note/{id}").HandlerFunc(s.updateNote)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, http.StatusMethodNotAllowed, errorBody{Error: fmt.Sprintf("method %s not allowed", request.Method)})
	})
	r.NotFoundHandler = http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, http.StatusNotFound, errorBody{Error: "not found"})
	})
	s.router = r
	return s
}

// Handler returns the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	origin := s.opts.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	return handlers.CORS(
		handlers.AllowedOrigins([]string{origin}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(s.router)
}

func (s *Server) checkOrigin(request *http.Request) bool {
	allowed := s.opts.AllowedOrigin
	if allowed == "" || allowed == "*" {
		return true
	}
	origin := request.Header.Get("Origin")
	return origin == "" || strings.EqualFold(origin, allowed)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(next, writer, request)
		s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

type updateBody struct {
	Content json.RawMessage `json:"content"`
	Sender  string          `json:"sender,omitempty"`
}

type updateResult struct {
	Success     bool      `json:"success"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type noteSummary struct {
	ID          string    `json:"id"`
	LastUpdated time.Time `json:"lastUpdated"`
	Subscribers int       `json:"subscribers"`
}

type createdNote struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func writeJSON(writer http.ResponseWriter, status int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		slog.Error("failed to write response", "err", err)
	}
}

func (s *Server) writeError(writer http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, notes.ErrInvalidIdentifier):
		metrics.Rejections.WithLabelValues("invalid_identifier").Inc()
		writeJSON(writer, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, notes.ErrInvalidPayload):
		metrics.Rejections.WithLabelValues("invalid_payload").Inc()
		writeJSON(writer, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		s.logger.Error("request failed", "err", err)
		writeJSON(writer, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (s *Server) getNote(writer http.ResponseWriter, request *http.Request) {
	n, err := s.handler.Fetch(mux.Vars(request)["id"])
	if err != nil {
		s.writeError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, n)
}

func (s *Server) updateNote(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["id"]
	if err := notes.ValidateID(id); err != nil {
		s.writeError(writer, err)
		return
	}

	var body updateBody
	if err := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxBodyBytes)).Decode(&body); err != nil {
		s.writeError(writer, fmt.Errorf("%w: failed to decode body: %w", notes.ErrInvalidPayload, err))
		return
	}
	content, err := syncproto.DecodeContent(body.Content)
	if err != nil {
		s.writeError(writer, err)
		return
	}

	n, err := s.handler.Update(id, content, body.Sender)
	if err != nil {
		s.writeError(writer, err)
		return
	}
	metrics.Updates.WithLabelValues("http").Inc()
	writeJSON(writer, http.StatusOK, updateResult{Success: true, LastUpdated: n.LastUpdated})
}

func (s *Server) listNotes(writer http.ResponseWriter, _ *http.Request) {
	out := make([]noteSummary, 0, s.store.Len())
	for id, n := range s.store.All() {
		out = append(out, noteSummary{ID: id, LastUpdated: n.LastUpdated, Subscribers: s.subs.Count(id)})
	}
	slices.SortFunc(out, func(a, b noteSummary) int {
		return strings.Compare(a.ID, b.ID)
	})
	writeJSON(writer, http.StatusOK, out)
}

func (s *Server) createNote(writer http.ResponseWriter, _ *http.Request) {
	for attempt := 0; attempt < 5; attempt++ {
		id, err := notes.NewID()
		if err != nil {
			s.writeError(writer, err)
			return
		}
		if _, exists := s.store.Lookup(id); exists {
			continue
		}
		n, err := s.handler.Fetch(id)
		if err != nil {
			s.writeError(writer, err)
			return
		}
		writeJSON(writer, http.StatusCreated, createdNote{ID: id, Content: n.Content, LastUpdated: n.LastUpdated})
		return
	}
	s.writeError(writer, errors.New("failed to find an unused note id"))
}

// WaitSessions blocks until every streaming session has returned or ctx is done. Sessions run on hijacked
// connections which http.Server.Shutdown does not wait for.
func (s *Server) WaitSessions(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("streaming sessions still open: %w", ctx.Err())
	}
}

func (s *Server) streamNote(writer http.ResponseWriter, request *http.Request) {
	s.sessions.Add(1)
	defer s.sessions.Done()
	id := mux.Vars(request)["id"]
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "note", id, "err", err)
		return
	}
	defer conn.Close()

	session := s.handler.NewSession(conn, id, s.opts.Session)
	if err := session.Serve(s.ctx); err != nil {
		s.logger.Warn("stream ended with error", "note", id, "session", session.SessionID(), "err", err)
	}
}
