package audio

import (
	"errors"
	"math"
)

// Features summarizes the acoustic character of a PCM16LE mono segment.
type Features struct {
	RMS   float64 // linear RMS amplitude in [0, 1]
	Pitch float64 // fundamental frequency estimate in Hz; 0 when unvoiced
	Tempo float64 // energy envelope peaks per second
}

var (
	ErrTooShort = errors.New("audio: segment too short for analysis")
	ErrSilent   = errors.New("audio: segment is silent")
)

const (
	minAnalysisMS   = 40
	silenceRMSFloor = 1e-4

	pitchMinHz       = 60
	pitchMaxHz       = 400
	voicingThreshold = 0.30
	pitchWindowMax   = 4096

	envelopeWindowMS = 20
	envelopePeakGain = 1.1
)

// ExtractFeatures analyzes a PCM16LE mono segment. Segments shorter than the
// analysis window or below the silence floor return an error instead of
// misleading numbers.
func ExtractFeatures(pcm []byte, sampleRate int) (Features, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	samples := Samples(pcm)
	minSamples := sampleRate * minAnalysisMS / 1000
	if len(samples) < minSamples {
		return Features{}, ErrTooShort
	}
	rms := rmsOf(samples)
	if rms < silenceRMSFloor {
		return Features{}, ErrSilent
	}
	return Features{
		RMS:   rms,
		Pitch: estimatePitch(samples, sampleRate),
		Tempo: estimateTempo(samples, sampleRate),
	}, nil
}

func rmsOf(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// estimatePitch runs a normalized autocorrelation over a window taken from
// the middle of the segment. Peaks below the voicing threshold report 0.
func estimatePitch(samples []float64, sampleRate int) float64 {
	maxLag := sampleRate / pitchMinHz
	minLag := sampleRate / pitchMaxHz
	if minLag < 2 {
		minLag = 2
	}
	window := maxLag * 3
	if window > pitchWindowMax {
		window = pitchWindowMax
	}
	if window+maxLag > len(samples) {
		window = len(samples) - maxLag
	}
	if window < maxLag || window <= 0 {
		return 0
	}

	start := (len(samples) - window - maxLag) / 2
	if start < 0 {
		start = 0
	}
	seg := samples[start : start+window+maxLag]

	var energy float64
	for i := 0; i < window; i++ {
		energy += seg[i] * seg[i]
	}
	if energy == 0 {
		return 0
	}

	bestLag := 0
	bestCorr := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr, lagEnergy float64
		for i := 0; i < window; i++ {
			corr += seg[i] * seg[i+lag]
			lagEnergy += seg[i+lag] * seg[i+lag]
		}
		if lagEnergy == 0 {
			continue
		}
		norm := corr / math.Sqrt(energy*lagEnergy)
		if norm > bestCorr {
			bestCorr = norm
			bestLag = lag
		}
	}
	if bestLag == 0 || bestCorr < voicingThreshold {
		return 0
	}
	return float64(sampleRate) / float64(bestLag)
}

// estimateTempo counts upward crossings of the smoothed energy envelope over
// its scaled mean, a cheap stand-in for syllable rate.
func estimateTempo(samples []float64, sampleRate int) float64 {
	win := sampleRate * envelopeWindowMS / 1000
	if win <= 0 {
		return 0
	}
	hop := win / 2
	if hop <= 0 {
		hop = 1
	}

	var envelope []float64
	for off := 0; off+win <= len(samples); off += hop {
		envelope = append(envelope, rmsOf(samples[off:off+win]))
	}
	if len(envelope) < 2 {
		return 0
	}

	var mean float64
	for _, e := range envelope {
		mean += e
	}
	mean /= float64(len(envelope))
	thresh := mean * envelopePeakGain

	crossings := 0
	above := envelope[0] > thresh
	for _, e := range envelope[1:] {
		if !above && e > thresh {
			crossings++
			above = true
		} else if above && e <= thresh {
			above = false
		}
	}

	seconds := float64(len(samples)) / float64(sampleRate)
	if seconds <= 0 {
		return 0
	}
	return float64(crossings) / seconds
}
