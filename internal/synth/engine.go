package synth

import "context"

// EngineRequest is one synthesis call. Text is the full prompt handed to the
// engine, overlap context included.
type EngineRequest struct {
	Text       string
	VoiceID    string
	Speed      float64
	SampleRate int
}

// EngineResult carries raw audio back from the engine as 16-bit little-endian
// mono PCM. SampleRate is the rate the engine actually rendered at, which may
// differ from the requested one.
type EngineResult struct {
	PCM        []byte
	SampleRate int
}

// Voice describes one voice an engine can render.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
}

// Engine renders text to audio. Implementations must be safe for concurrent
// Synthesize calls; serializing them internally is allowed.
type Engine interface {
	Name() string
	Synthesize(ctx context.Context, req EngineRequest) (EngineResult, error)
	Voices(ctx context.Context) ([]Voice, error)
	Close() error
}
