package synth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emalani/legato/internal/audio"
	"github.com/emalani/legato/internal/chunker"
)

const (
	defaultMaxConcurrency = 3
	defaultChunkTimeout   = 30 * time.Second
	defaultSessionTimeout = 5 * time.Minute
	defaultRetryBase      = 250 * time.Millisecond
	defaultRetryCap       = 2 * time.Second

	// Silence substituted for a failed chunk is sized from its text length
	// at a nominal speaking rate.
	defaultSilenceCharsPerSec = 15.0
)

// Options tune one synthesis request. Zero values select the defaults, so an
// empty struct is a valid configuration.
type Options struct {
	Strategy        chunker.Strategy
	TargetChunkSize int
	MaxChunkSize    int
	MinTextLength   int
	OverlapSize     int

	MaxConcurrency int
	ChunkTimeout   time.Duration
	SessionTimeout time.Duration
	RetryBackoff   time.Duration

	// Strict fails the whole session on an exhausted chunk instead of
	// substituting silence.
	Strict bool
	// NoChunking routes the whole text through a single monolithic chunk.
	NoChunking bool
	// NoConsistency disables acoustic drift correction, for A/B comparison.
	NoConsistency bool
	// KeepOverlapAudio leaves overlap context audible instead of trimming
	// the estimated duplicate span from each segment.
	KeepOverlapAudio bool

	SilenceCharsPerSec float64
}

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = chunker.StrategyAdaptive
	}
	if o.MaxConcurrency == 0 {
		o.MaxConcurrency = defaultMaxConcurrency
	}
	if o.ChunkTimeout <= 0 {
		o.ChunkTimeout = defaultChunkTimeout
	}
	if o.SessionTimeout < 0 {
		o.SessionTimeout = 0
	} else if o.SessionTimeout == 0 {
		o.SessionTimeout = defaultSessionTimeout
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBase
	}
	if o.SilenceCharsPerSec <= 0 {
		o.SilenceCharsPerSec = defaultSilenceCharsPerSec
	}
	return o
}

func (o Options) chunkerOptions() chunker.Options {
	return chunker.Options{
		Strategy:      o.Strategy,
		TargetSize:    o.TargetChunkSize,
		MaxSize:       o.MaxChunkSize,
		MinTextLength: o.MinTextLength,
		Overlap:       o.OverlapSize,
	}
}

// Request is one end-to-end synthesis job.
type Request struct {
	Text       string
	VoiceID    string
	Speed      float64
	SampleRate int

	// SessionID ties the run to a registered session when set.
	SessionID string

	// FallbackRun marks the monolithic safety-net re-run of a failed
	// session, so instrumentation can account for it separately.
	FallbackRun bool

	Options Options
}

func (r Request) withDefaults() Request {
	if r.Speed <= 0 {
		r.Speed = 1.0
	}
	if r.SampleRate <= 0 {
		r.SampleRate = audio.DefaultSampleRate
	}
	r.Options = r.Options.withDefaults()
	return r
}

func (r Request) validate() error {
	if strings.TrimSpace(r.VoiceID) == "" {
		return errors.New("voice_id is required")
	}
	if mc := r.Options.MaxConcurrency; mc < 1 {
		return fmt.Errorf("max_concurrency %d must be at least 1", mc)
	}
	if r.Speed < 0.5 || r.Speed > 2.0 {
		return fmt.Errorf("speed %.2f outside supported range [0.5, 2.0]", r.Speed)
	}
	return nil
}
