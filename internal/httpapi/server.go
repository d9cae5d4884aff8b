package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/emalani/legato/internal/config"
	"github.com/emalani/legato/internal/observability"
	"github.com/emalani/legato/internal/session"
	"github.com/emalani/legato/internal/synth"
)

// Synthesizer is the pipeline entry point the API exposes.
type Synthesizer interface {
	Generate(ctx context.Context, req synth.Request) (*synth.Result, error)
	GenerateStream(ctx context.Context, req synth.Request) (*synth.Stream, error)
}

type Server struct {
	cfg      config.Config
	synth    Synthesizer
	engine   synth.Engine
	sessions *session.Manager
	perf     *observability.Monitor
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	// pending holds created sessions' requests until their stream starts.
	mu      sync.Mutex
	pending map[string]synth.Request
}

func New(cfg config.Config, syn Synthesizer, engine synth.Engine, sessions *session.Manager, perf *observability.Monitor, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		synth:    syn,
		engine:   engine,
		sessions: sessions,
		perf:     perf,
		metrics:  metrics,
		pending:  make(map[string]synth.Request),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other websites cannot drive synthesis
				// sessions if the daemon is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	if sessions != nil {
		sessions.SetExpireHook(func(sess *session.Session) {
			s.dropPending(sess.ID)
			s.metrics.SessionEvents.WithLabelValues("expired").Inc()
		})
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/speech", s.handleSpeech)
	r.Post("/v1/speech/sessions", s.handleCreateSession)
	r.Get("/v1/speech/sessions/ws", s.handleSessionWS)
	r.Get("/v1/speech/sessions/{id}", s.handleGetSession)
	r.Post("/v1/speech/sessions/{id}/cancel", s.handleCancelSession)
	r.Get("/v1/voices", s.handleListVoices)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"engine": s.engineName(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"engine":          s.engineName(),
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) engineName() string {
	if s.engine == nil {
		return ""
	}
	return s.engine.Name()
}

func (s *Server) takePending(sessionID string) (synth.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.pending[sessionID]
	if ok {
		delete(s.pending, sessionID)
	}
	return req, ok
}

func (s *Server) storePending(sessionID string, req synth.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[sessionID] = req
}

func (s *Server) dropPending(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, sessionID)
}

// respondSynthError maps pipeline failure classes onto HTTP statuses.
func respondSynthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, synth.ErrChunking):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, synth.ErrSessionCancelled):
		respondError(w, http.StatusConflict, "session_cancelled", err.Error())
	case errors.Is(err, synth.ErrSessionTimeout):
		respondError(w, http.StatusGatewayTimeout, "session_timeout", err.Error())
	case errors.Is(err, synth.ErrSynthesisTimeout):
		respondError(w, http.StatusGatewayTimeout, "synthesis_timeout", err.Error())
	default:
		respondError(w, http.StatusBadGateway, "synthesis_failed", err.Error())
	}
}

// errorCode is the wire reason for a pipeline failure, mirroring the session
// registry's reason vocabulary.
func errorCode(err error) string {
	switch {
	case errors.Is(err, synth.ErrChunking):
		return "invalid_request"
	case errors.Is(err, synth.ErrSessionCancelled):
		return session.ReasonCancelled
	case errors.Is(err, synth.ErrSessionTimeout):
		return session.ReasonTimeout
	case errors.Is(err, synth.ErrSynthesisTimeout):
		return "synthesis_timeout"
	default:
		return session.ReasonEngineFailure
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
