// Package consistency keeps chunked synthesis acoustically level by
// profiling released audio and nudging later chunks toward the profile.
package consistency

import (
	"math"
	"sync"

	"github.com/emalani/legato/internal/audio"
)

const (
	defaultAlpha     = 0.3
	defaultMaxGainDB = 3.0

	// Corrections weaker than this are left alone; rewriting PCM for a
	// fraction of a decibel costs more than it fixes.
	minCorrectionDB = 0.5
)

// Profile is the running acoustic reference for one synthesis session.
type Profile struct {
	Pitch  float64 // Hz, EWMA of voiced chunk estimates
	Energy float64 // linear RMS, EWMA
	Tempo  float64 // envelope peaks per second, EWMA
	Chunks int     // observations folded in
}

// Options tune a Tracker. Zero values select the defaults.
type Options struct {
	Alpha     float64 // EWMA smoothing factor in (0, 1]
	MaxGainDB float64 // cap on applied gain correction
	Disabled  bool
}

// Tracker observes released chunks in index order and corrects drift.
// Safe for concurrent use; Observe and Correct are expected from a single
// release loop while Snapshot may be read from anywhere.
type Tracker struct {
	mu        sync.Mutex
	alpha     float64
	maxGainDB float64
	disabled  bool
	profile   Profile
	adjusted  int
	skipped   int
}

func New(opts Options) *Tracker {
	alpha := opts.Alpha
	if alpha <= 0 || alpha > 1 {
		alpha = defaultAlpha
	}
	maxGain := opts.MaxGainDB
	if maxGain <= 0 {
		maxGain = defaultMaxGainDB
	}
	return &Tracker{
		alpha:     alpha,
		maxGainDB: maxGain,
		disabled:  opts.Disabled,
	}
}

// Observe folds a released chunk into the profile. Chunks whose features
// cannot be extracted are skipped; the profile never moves on silence.
func (t *Tracker) Observe(index int, pcm []byte, sampleRate int) {
	if t == nil || t.disabled {
		return
	}
	f, err := audio.ExtractFeatures(pcm, sampleRate)
	if err != nil {
		t.mu.Lock()
		t.skipped++
		t.mu.Unlock()
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.profile.Chunks == 0 {
		t.profile.Energy = f.RMS
		t.profile.Pitch = f.Pitch
		t.profile.Tempo = f.Tempo
	} else {
		t.profile.Energy = t.alpha*f.RMS + (1-t.alpha)*t.profile.Energy
		if f.Pitch > 0 {
			if t.profile.Pitch > 0 {
				t.profile.Pitch = t.alpha*f.Pitch + (1-t.alpha)*t.profile.Pitch
			} else {
				t.profile.Pitch = f.Pitch
			}
		}
		t.profile.Tempo = t.alpha*f.Tempo + (1-t.alpha)*t.profile.Tempo
	}
	t.profile.Chunks++
}

// Correct returns the chunk audio nudged toward the profile energy, with the
// gain capped. The first chunk, unmeasurable audio, and sub-threshold
// corrections pass through untouched. The bool reports whether audio changed.
func (t *Tracker) Correct(index int, pcm []byte, sampleRate int) ([]byte, bool) {
	if t == nil || t.disabled || index == 0 {
		return pcm, false
	}

	t.mu.Lock()
	ref := t.profile
	t.mu.Unlock()
	if ref.Chunks == 0 || ref.Energy <= 0 {
		return pcm, false
	}

	f, err := audio.ExtractFeatures(pcm, sampleRate)
	if err != nil || f.RMS <= 0 {
		return pcm, false
	}

	gainDB := audio.GainToDB(ref.Energy / f.RMS)
	if math.Abs(gainDB) < minCorrectionDB {
		return pcm, false
	}
	if gainDB > t.maxGainDB {
		gainDB = t.maxGainDB
	} else if gainDB < -t.maxGainDB {
		gainDB = -t.maxGainDB
	}

	out := audio.ApplyGain(pcm, audio.DBToGain(gainDB))
	t.mu.Lock()
	t.adjusted++
	t.mu.Unlock()
	return out, true
}

// Snapshot returns a copy of the current profile.
func (t *Tracker) Snapshot() Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.profile
}

// Adjusted reports how many chunks received a correction.
func (t *Tracker) Adjusted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.adjusted
}

// Skipped reports how many observations failed feature extraction.
func (t *Tracker) Skipped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skipped
}
