package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/emalani/legato/internal/chunker"
	"github.com/emalani/legato/internal/session"
	"github.com/emalani/legato/internal/synth"
)

type createSessionResponse struct {
	SessionID       string        `json:"session_id"`
	State           session.State `json:"state"`
	VoiceID         string        `json:"voice_id"`
	Strategy        string        `json:"strategy,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	StreamPath      string        `json:"stream_path"`
	InactivityTTLMS int64         `json:"inactivity_ttl_ms"`
}

// handleCreateSession registers a session and stashes its request. Synthesis
// starts when the websocket attaches; until then the janitor owns expiry.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sreq := s.synthRequest(req)
	sess := s.sessions.Create(sreq.VoiceID, strategyFor(sreq))
	sreq.SessionID = sess.ID
	s.storePending(sess.ID, sreq)

	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:       sess.ID,
		State:           sess.State,
		VoiceID:         sess.VoiceID,
		Strategy:        sess.Strategy,
		CreatedAt:       sess.CreatedAt,
		StreamPath:      "/v1/speech/sessions/ws?session_id=" + sess.ID,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	if err := s.sessions.Cancel(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.dropPending(id)
	s.metrics.SessionEvents.WithLabelValues("cancel_requested").Inc()

	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func strategyFor(req synth.Request) string {
	if req.Options.NoChunking {
		return "monolithic"
	}
	if req.Options.Strategy == "" {
		return string(chunker.StrategyAdaptive)
	}
	return string(req.Options.Strategy)
}
