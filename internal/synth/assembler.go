package synth

import (
	"fmt"
	"time"

	"github.com/emalani/legato/internal/audio"
)

// Result is one fully assembled synthesis.
type Result struct {
	PCM        []byte        `json:"-"`
	SampleRate int           `json:"sample_rate"`
	Duration   time.Duration `json:"-"`

	ChunkCount        int      `json:"chunk_count"`
	CacheHits         int      `json:"cache_hits"`
	CorrectedChunks   int      `json:"corrected_chunks"`
	SubstitutedChunks int      `json:"substituted_chunks"`
	Warnings          []string `json:"warnings,omitempty"`
	FallbackTriggered bool     `json:"fallback_triggered,omitempty"`
}

// Assemble drains a stream into one contiguous PCM buffer. Segments arrive
// already trimmed and corrected, so assembly is pure concatenation.
func Assemble(s *Stream) (*Result, error) {
	res := &Result{}
	for seg := range s.Segments() {
		if res.SampleRate == 0 {
			res.SampleRate = seg.SampleRate
		} else if seg.SampleRate != res.SampleRate {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("chunk %d rendered at %d Hz, session runs at %d Hz", seg.Index, seg.SampleRate, res.SampleRate))
		}
		res.PCM = append(res.PCM, seg.PCM...)
		res.ChunkCount++
		if seg.Cached {
			res.CacheHits++
		}
		if seg.Corrected {
			res.CorrectedChunks++
		}
		if seg.Substituted {
			res.SubstitutedChunks++
		}
		if seg.Warning != "" {
			res.Warnings = append(res.Warnings, seg.Warning)
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	res.FallbackTriggered = s.FallbackTriggered()
	res.Duration = audio.Duration(res.PCM, res.SampleRate)
	return res, nil
}
