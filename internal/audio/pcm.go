package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// DefaultSampleRate is assumed whenever a caller does not pin one.
const DefaultSampleRate = 22050

const bytesPerSample = 2

// Duration reports the playback time of PCM16LE mono bytes at sampleRate.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 || len(pcm) < bytesPerSample {
		return 0
	}
	samples := len(pcm) / bytesPerSample
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// SampleCount reports the number of whole 16-bit samples in pcm.
func SampleCount(pcm []byte) int {
	return len(pcm) / bytesPerSample
}

// Samples decodes PCM16LE bytes into float64 samples in [-1, 1).
func Samples(pcm []byte) []float64 {
	n := len(pcm) / bytesPerSample
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:]))
		out[i] = float64(s) / 32768.0
	}
	return out
}

// ApplyGain scales PCM16LE samples by a linear factor, clipping to the
// int16 range. A factor of 1 returns the input unchanged.
func ApplyGain(pcm []byte, factor float64) []byte {
	if factor == 1 {
		return pcm
	}
	n := len(pcm) / bytesPerSample
	out := make([]byte, n*bytesPerSample)
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:])))
		scaled := s * factor
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		} else if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(scaled)))
	}
	return out
}

// Silence returns PCM16LE mono zero samples covering d at sampleRate.
func Silence(d time.Duration, sampleRate int) []byte {
	if d <= 0 || sampleRate <= 0 {
		return nil
	}
	samples := int(float64(sampleRate) * d.Seconds())
	if samples <= 0 {
		return nil
	}
	return make([]byte, samples*bytesPerSample)
}

// TrimLeadingSamples drops the first n samples, keeping sample alignment.
func TrimLeadingSamples(pcm []byte, n int) []byte {
	if n <= 0 {
		return pcm
	}
	cut := n * bytesPerSample
	if cut >= len(pcm) {
		return nil
	}
	return pcm[cut:]
}

// GainToDB converts a linear gain factor to decibels.
func GainToDB(factor float64) float64 {
	if factor <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(factor)
}

// DBToGain converts decibels to a linear gain factor.
func DBToGain(db float64) float64 {
	return math.Pow(10, db/20)
}
