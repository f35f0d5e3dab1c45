// Package server exposes recorded runs over HTTP and streams a live run's
// progress over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ShayCichocki/choicesim/internal/signals"
	"github.com/ShayCichocki/choicesim/internal/state"
	"github.com/ShayCichocki/choicesim/internal/version"
)

// Config wires a Server.
type Config struct {
	// Store serves the /runs routes. Required.
	Store state.Reader
	// Hub streams a live run on /ws/progress. Optional.
	Hub *Hub
	// Controller receives POST /control/{action}. Optional.
	Controller signals.Controller
	// AllowedOrigins is passed to the websocket handshake. Empty means
	// same-origin only.
	AllowedOrigins []string
}

// Server handles the results API.
type Server struct {
	store          state.Reader
	hub            *Hub
	ctrl           signals.Controller
	allowedOrigins []string
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	return &Server{
		store:          cfg.Store,
		hub:            cfg.Hub,
		ctrl:           cfg.Controller,
		allowedOrigins: cfg.AllowedOrigins,
	}, nil
}

// Router builds the chi router for all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/responses", s.listResponses)
			r.Get("/summary", s.summary)
		})
	})

	if s.ctrl != nil {
		r.Post("/control/{action}", s.control)
	}
	if s.hub != nil {
		r.Get("/ws/progress", s.progress)
	}
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Hijacked websocket connections are not closed by Shutdown.
		if s.hub != nil {
			s.hub.Close()
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Get(),
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		log.Printf("[server] list runs: %v", err)
		Error(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []state.Run{}
	}
	JSON(w, http.StatusOK, runs)
}

// lookupRun writes a 404 or 500 and returns nil when the run is not usable.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) *state.Run {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(id)
	if err != nil {
		log.Printf("[server] get run %s: %v", id, err)
		Error(w, http.StatusInternalServerError, "failed to load run")
		return nil
	}
	if run == nil {
		Error(w, http.StatusNotFound, "run not found")
		return nil
	}
	return run
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if run := s.lookupRun(w, r); run != nil {
		JSON(w, http.StatusOK, run)
	}
}

func (s *Server) listResponses(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	responses, err := s.store.ListResponses(run.ID)
	if err != nil {
		log.Printf("[server] list responses %s: %v", run.ID, err)
		Error(w, http.StatusInternalServerError, "failed to list responses")
		return
	}
	JSON(w, http.StatusOK, responses)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	responses, err := s.store.ListResponses(run.ID)
	if err != nil {
		log.Printf("[server] list responses %s: %v", run.ID, err)
		Error(w, http.StatusInternalServerError, "failed to list responses")
		return
	}
	JSON(w, http.StatusOK, state.Summarize(responses, run.Alternatives))
}

func (s *Server) control(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	switch action {
	case "abort":
		s.ctrl.Abort()
	case "pause":
		s.ctrl.Pause()
	case "resume":
		s.ctrl.Resume()
	default:
		Error(w, http.StatusNotFound, "unknown action "+strconv.Quote(action))
		return
	}
	log.Printf("[server] control: %s", action)
	JSON(w, http.StatusAccepted, map[string]string{"action": action})
}

// progress streams hub events to one websocket client until the client
// disconnects or the hub closes.
func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOrigins,
	})
	if err != nil {
		log.Printf("[server] websocket accept: %v", err)
		return
	}
	defer ws.CloseNow()

	// Client messages are ignored; CloseRead cancels ctx when the client goes away.
	ctx := ws.CloseRead(r.Context())

	events, cancel := s.hub.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				ws.Close(websocket.StatusNormalClosure, "run finished")
				return
			}
			writeCtx, done := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, ws, ev)
			done()
			if err != nil {
				log.Printf("[server] websocket write: %v", err)
				return
			}
		}
	}
}
