package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeSegmentChunk  MessageType = "segment_chunk"
	TypeSessionEnd    MessageType = "session_end"
	TypeErrorEvent    MessageType = "error_event"
	TypeClientControl MessageType = "client_control"
)

// ActionCancel aborts the session the socket is bound to.
const ActionCancel = "cancel"

// FormatPCM16LE is the only audio encoding carried over the wire: raw 16-bit
// little-endian mono samples.
const FormatPCM16LE = "pcm_s16le"

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// SegmentChunk carries one released audio segment. Segments arrive strictly
// in chunk_index order.
type SegmentChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	ChunkIndex  int         `json:"chunk_index"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
	SampleRate  int         `json:"sample_rate"`
	CacheHit    bool        `json:"cache_hit"`
	Adjusted    bool        `json:"consistency_adjusted"`
	Substituted bool        `json:"substituted,omitempty"`
	Warning     string      `json:"warning,omitempty"`
}

// SessionEnd closes a stream with its terminal state; after it no further
// segment chunks follow.
type SessionEnd struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	State      string      `json:"state"`
	Reason     string      `json:"reason,omitempty"`
	ChunkCount int         `json:"chunk_count"`
	CacheHits  int         `json:"cache_hits"`
	Fallback   bool        `json:"fallback,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Action    string      `json:"action"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

// ParseClientMessage decodes one client frame. The session is bound by the
// socket, so a control's session_id is optional and checked by the handler
// when present.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
