package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emalani/legato/internal/audio"
	"github.com/emalani/legato/internal/chunker"
	"github.com/emalani/legato/internal/synth"
)

type speechRequest struct {
	Text       string         `json:"text"`
	VoiceID    string         `json:"voice_id"`
	Speed      float64        `json:"speed,omitempty"`
	SampleRate int            `json:"sample_rate,omitempty"`
	Options    *speechOptions `json:"options,omitempty"`
}

// speechOptions is the wire form of synth.Options. Omitted fields fall back
// to the server defaults; boolean flags can only add to them.
type speechOptions struct {
	Strategy         string `json:"strategy,omitempty"`
	TargetChunkSize  int    `json:"target_chunk_size,omitempty"`
	MaxChunkSize     int    `json:"max_chunk_size,omitempty"`
	MinTextLength    int    `json:"min_text_length,omitempty"`
	OverlapSize      int    `json:"overlap_size,omitempty"`
	MaxConcurrency   int    `json:"max_concurrency,omitempty"`
	ChunkTimeoutMS   int    `json:"chunk_timeout_ms,omitempty"`
	SessionTimeoutMS int    `json:"session_timeout_ms,omitempty"`
	Strict           bool   `json:"strict,omitempty"`
	NoChunking       bool   `json:"no_chunking,omitempty"`
	NoConsistency    bool   `json:"no_consistency,omitempty"`
	KeepOverlapAudio bool   `json:"keep_overlap_audio,omitempty"`
}

func (o *speechOptions) synthOptions() synth.Options {
	if o == nil {
		return synth.Options{}
	}
	return synth.Options{
		Strategy:         chunker.Strategy(strings.ToLower(strings.TrimSpace(o.Strategy))),
		TargetChunkSize:  o.TargetChunkSize,
		MaxChunkSize:     o.MaxChunkSize,
		MinTextLength:    o.MinTextLength,
		OverlapSize:      o.OverlapSize,
		MaxConcurrency:   o.MaxConcurrency,
		ChunkTimeout:     time.Duration(o.ChunkTimeoutMS) * time.Millisecond,
		SessionTimeout:   time.Duration(o.SessionTimeoutMS) * time.Millisecond,
		Strict:           o.Strict,
		NoChunking:       o.NoChunking,
		NoConsistency:    o.NoConsistency,
		KeepOverlapAudio: o.KeepOverlapAudio,
	}
}

func (s *Server) synthRequest(req speechRequest) synth.Request {
	voiceID := strings.TrimSpace(req.VoiceID)
	if voiceID == "" {
		voiceID = s.cfg.DefaultVoice
	}
	return synth.Request{
		Text:       req.Text,
		VoiceID:    voiceID,
		Speed:      req.Speed,
		SampleRate: req.SampleRate,
		Options:    req.Options.synthOptions(),
	}
}

// handleSpeech renders the whole request and responds with a WAV body. The
// request context carries cancellation: a dropped connection aborts the run.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.synth.Generate(r.Context(), s.synthRequest(req))
	if err != nil {
		respondSynthError(w, err)
		return
	}

	wav, err := audio.EncodeWAVPCM16LE(res.PCM, res.SampleRate)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encoding_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Chunk-Count", strconv.Itoa(res.ChunkCount))
	w.Header().Set("X-Cache-Hits", strconv.Itoa(res.CacheHits))
	if res.FallbackTriggered {
		w.Header().Set("X-Fallback-Triggered", "true")
	}
	if len(res.Warnings) > 0 {
		w.Header().Set("X-Warnings", strings.Join(res.Warnings, "; "))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}
