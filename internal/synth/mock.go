package synth

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/emalani/legato/internal/audio"
)

// MockConfig tunes the synthetic engine used for development and tests.
type MockConfig struct {
	// Latency is simulated per call before any audio is produced.
	Latency time.Duration
	// FailSubstring makes calls whose text contains it return an error.
	FailSubstring string
	// FailPermanent marks injected failures as not worth retrying.
	FailPermanent bool
	SampleRate    int
}

// MockEngine renders deterministic tones: same text, voice and speed always
// produce identical PCM, so cache and ordering behavior is observable without
// a real synthesis backend.
type MockEngine struct {
	cfg MockConfig

	mu     sync.Mutex
	closed bool
	calls  int
}

func NewMockEngine(cfg MockConfig) *MockEngine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	return &MockEngine{cfg: cfg}
}

func (e *MockEngine) Name() string { return "mock" }

func (e *MockEngine) Synthesize(ctx context.Context, req EngineRequest) (EngineResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return EngineResult{}, ErrEngineClosed
	}
	e.calls++
	e.mu.Unlock()

	if e.cfg.Latency > 0 {
		select {
		case <-time.After(e.cfg.Latency):
		case <-ctx.Done():
			return EngineResult{}, ctx.Err()
		}
	}

	if e.cfg.FailSubstring != "" && strings.Contains(req.Text, e.cfg.FailSubstring) {
		return EngineResult{}, &mockError{temporary: !e.cfg.FailPermanent}
	}

	rate := req.SampleRate
	if rate <= 0 {
		rate = e.cfg.SampleRate
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}

	seconds := float64(utf8.RuneCountInString(req.Text)) / (defaultSilenceCharsPerSec * speed)
	if seconds < 0.05 {
		seconds = 0.05
	}
	return EngineResult{PCM: tonePCM(voiceFrequency(req.VoiceID), seconds, rate), SampleRate: rate}, nil
}

func (e *MockEngine) Voices(_ context.Context) ([]Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	return []Voice{
		{ID: "af_heart", Name: "Heart", Language: "en-US"},
		{ID: "am_adam", Name: "Adam", Language: "en-US"},
		{ID: "bf_emma", Name: "Emma", Language: "en-GB"},
	}, nil
}

func (e *MockEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Calls reports how many Synthesize calls reached the engine.
func (e *MockEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type mockError struct {
	temporary bool
}

func (e *mockError) Error() string   { return "mock synthesis failure" }
func (e *mockError) Temporary() bool { return e.temporary }

// voiceFrequency maps a voice ID onto a stable audible frequency so distinct
// voices are distinguishable by ear and by pitch extraction.
func voiceFrequency(voiceID string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(voiceID))
	return 120 + float64(h.Sum32()%180)
}

func tonePCM(freq, seconds float64, rate int) []byte {
	n := int(seconds * float64(rate))
	if n < 1 {
		n = 1
	}
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := 0.25 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}
