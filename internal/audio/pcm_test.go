package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func pcmFromInt16(vals ...int16) []byte {
	out := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestApplyGainScalesAndClips(t *testing.T) {
	pcm := pcmFromInt16(1000, -1000, 30000)
	out := ApplyGain(pcm, 2)
	got := []int16{
		int16(binary.LittleEndian.Uint16(out[0:2])),
		int16(binary.LittleEndian.Uint16(out[2:4])),
		int16(binary.LittleEndian.Uint16(out[4:6])),
	}
	if got[0] != 2000 {
		t.Fatalf("sample 0 = %d, want 2000", got[0])
	}
	if got[1] != -2000 {
		t.Fatalf("sample 1 = %d, want -2000", got[1])
	}
	if got[2] != math.MaxInt16 {
		t.Fatalf("sample 2 = %d, want clipped %d", got[2], math.MaxInt16)
	}
}

func TestApplyGainUnityReturnsInput(t *testing.T) {
	pcm := pcmFromInt16(123, -456)
	out := ApplyGain(pcm, 1)
	if &out[0] != &pcm[0] {
		t.Fatal("unity gain should return the input slice")
	}
}

func TestSilenceDuration(t *testing.T) {
	pcm := Silence(500*time.Millisecond, 16000)
	if n := SampleCount(pcm); n != 8000 {
		t.Fatalf("SampleCount = %d, want 8000", n)
	}
	for _, b := range pcm {
		if b != 0 {
			t.Fatal("silence must be all zero bytes")
		}
	}
	if d := Duration(pcm, 16000); d != 500*time.Millisecond {
		t.Fatalf("Duration = %v, want 500ms", d)
	}
}

func TestTrimLeadingSamples(t *testing.T) {
	pcm := pcmFromInt16(1, 2, 3, 4)
	out := TrimLeadingSamples(pcm, 2)
	if n := SampleCount(out); n != 2 {
		t.Fatalf("SampleCount = %d, want 2", n)
	}
	if v := int16(binary.LittleEndian.Uint16(out[0:2])); v != 3 {
		t.Fatalf("first remaining sample = %d, want 3", v)
	}
	if out := TrimLeadingSamples(pcm, 100); out != nil {
		t.Fatalf("over-trim = %v, want nil", out)
	}
	if out := TrimLeadingSamples(pcm, 0); len(out) != len(pcm) {
		t.Fatal("zero trim should keep all samples")
	}
}

func TestGainDBRoundTrip(t *testing.T) {
	for _, db := range []float64{-6, -3, 0, 3, 6} {
		back := GainToDB(DBToGain(db))
		if math.Abs(back-db) > 1e-9 {
			t.Fatalf("round trip %v dB = %v", db, back)
		}
	}
	if g := DBToGain(0); g != 1 {
		t.Fatalf("DBToGain(0) = %v, want 1", g)
	}
}
