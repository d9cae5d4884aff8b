package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emalani/legato/internal/protocol"
	"github.com/emalani/legato/internal/session"
	"github.com/emalani/legato/internal/synth"
)

// handleSessionWS attaches a created session to its socket and streams
// segments as they are released. Closing the socket cancels the session; so
// does a client_control cancel frame.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.State.Terminal() {
		respondError(w, http.StatusConflict, "session_ended", "session already reached a terminal state")
		return
	}

	req, ok := s.takePending(sessionID)
	if !ok {
		respondError(w, http.StatusConflict, "session_busy", "session stream already attached")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its error; the session stays claimable.
		s.storePending(sessionID, req)
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := s.synth.GenerateStream(ctx, req)
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = conn.WriteJSON(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      errorCode(err),
			Retryable: wireRetryable(err),
			Detail:    err.Error(),
		})
		return
	}

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})
	go func() {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				// Socket gone: the session must not keep generating.
				cancel()
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			parsed, err := protocol.ParseClientMessage(data)
			if err != nil {
				errEvent := protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "invalid_client_message",
					Retryable: false,
					Detail:    err.Error(),
				}
				select {
				case outbound <- errEvent:
				default:
					// Keep websocket writes single-threaded; drop if the
					// outbound queue is saturated.
				}
				continue
			}
			control, ok := parsed.(protocol.ClientControl)
			if !ok {
				continue
			}
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeClientControl)).Inc()
			if control.SessionID != "" && control.SessionID != sessionID {
				continue
			}
			if control.Action == protocol.ActionCancel {
				_ = s.sessions.Cancel(sessionID)
			}
		}
	}()

	for seg := range stream.Segments() {
		msg := protocol.SegmentChunk{
			Type:        protocol.TypeSegmentChunk,
			SessionID:   sessionID,
			ChunkIndex:  seg.Index,
			Format:      protocol.FormatPCM16LE,
			AudioBase64: base64.StdEncoding.EncodeToString(seg.PCM),
			SampleRate:  seg.SampleRate,
			CacheHit:    seg.Cached,
			Adjusted:    seg.Corrected,
			Substituted: seg.Substituted,
			Warning:     seg.Warning,
		}
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}

	end := protocol.SessionEnd{
		Type:      protocol.TypeSessionEnd,
		SessionID: sessionID,
		Fallback:  stream.FallbackTriggered(),
	}
	if sess, err := s.sessions.Get(sessionID); err == nil {
		end.State = string(sess.State)
		end.Reason = sess.Reason
		end.ChunkCount = sess.ChunkCount
		end.CacheHits = sess.CacheHits
	} else if serr := stream.Err(); serr != nil {
		end.State = string(session.StateFailed)
		end.Reason = errorCode(serr)
	} else {
		end.State = string(session.StateCompleted)
	}
	select {
	case outbound <- end:
	case <-ctx.Done():
	}

	close(outbound)
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// wireRetryable reports whether resubmitting the same request could succeed.
func wireRetryable(err error) bool {
	return !errors.Is(err, synth.ErrChunking) && !errors.Is(err, synth.ErrSessionCancelled)
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.SegmentChunk:
		return m.Type, true
	case protocol.SessionEnd:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	default:
		return "", false
	}
}
