package synth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emalani/legato/internal/audio"
)

func TestDecodeResponseRejectsMismatchedID(t *testing.T) {
	e := &ExecEngine{cfg: ExecConfig{Name: "exec"}}
	_, err := e.decodeResponse("req-1", EngineRequest{}, workerResponse{ID: "req-2", OK: true})
	if err == nil || !strings.Contains(err.Error(), "out-of-sync") {
		t.Fatalf("mismatched id error = %v, want out-of-sync", err)
	}
	var temp interface{ Temporary() bool }
	if !errors.As(err, &temp) || !temp.Temporary() {
		t.Fatalf("out-of-sync error not temporary: %v", err)
	}
}

func TestDecodeResponseSurfacesWorkerError(t *testing.T) {
	e := &ExecEngine{cfg: ExecConfig{Name: "exec"}}
	_, err := e.decodeResponse("req-1", EngineRequest{}, workerResponse{ID: "req-1", OK: false, Error: "model not loaded"})
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("worker error = %v, want model not loaded", err)
	}

	_, err = e.decodeResponse("req-1", EngineRequest{}, workerResponse{ID: "req-1", OK: false})
	if err == nil || !strings.Contains(err.Error(), "unknown worker error") {
		t.Fatalf("blank worker error = %v, want unknown worker error", err)
	}
}

func TestDecodeResponseRawPCM(t *testing.T) {
	e := &ExecEngine{cfg: ExecConfig{Name: "exec"}}
	pcm := []byte{1, 0, 2, 0}
	res, err := e.decodeResponse("req-1", EngineRequest{SampleRate: 22050}, workerResponse{
		ID: "req-1", OK: true, Format: "pcm_s16le", SampleRate: 24000,
		AudioBase64: base64.StdEncoding.EncodeToString(pcm),
	})
	if err != nil {
		t.Fatalf("decodeResponse() error = %v", err)
	}
	if string(res.PCM) != string(pcm) {
		t.Fatalf("PCM = %v, want passthrough", res.PCM)
	}
	if res.SampleRate != 24000 {
		t.Fatalf("SampleRate = %d, want the worker's 24000", res.SampleRate)
	}
}

func TestDecodeResponseWAV(t *testing.T) {
	pcm := []byte{9, 0, 8, 0, 7, 0}
	wav, err := audio.EncodeWAVPCM16LE(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}

	e := &ExecEngine{cfg: ExecConfig{Name: "exec"}}
	res, err := e.decodeResponse("req-1", EngineRequest{}, workerResponse{
		ID: "req-1", OK: true, Format: "wav_24000",
		AudioBase64: base64.StdEncoding.EncodeToString(wav),
	})
	if err != nil {
		t.Fatalf("decodeResponse() error = %v", err)
	}
	if string(res.PCM) != string(pcm) || res.SampleRate != 24000 {
		t.Fatalf("decoded %d bytes at %d Hz, want %d bytes at 24000 Hz", len(res.PCM), res.SampleRate, len(pcm))
	}
}

func TestDecodeResponseUnknownFormat(t *testing.T) {
	e := &ExecEngine{cfg: ExecConfig{Name: "exec"}}
	_, err := e.decodeResponse("req-1", EngineRequest{}, workerResponse{
		ID: "req-1", OK: true, Format: "opus",
		AudioBase64: base64.StdEncoding.EncodeToString([]byte{1, 2}),
	})
	if err == nil || !strings.Contains(err.Error(), "opus") {
		t.Fatalf("unknown format error = %v, want format named", err)
	}
}

func TestNewExecEngineRejectsNonProtocolWorker(t *testing.T) {
	// cat echoes the request line back, which parses but reports ok=false,
	// so the warmup probe must fail and shut the worker down.
	_, err := NewExecEngine(ExecConfig{Command: "cat", WarmupTimeout: 5 * time.Second})
	if err == nil || !strings.Contains(err.Error(), "warmup") {
		t.Fatalf("NewExecEngine(cat) error = %v, want warmup failure", err)
	}
}

func TestTailBufferKeepsTail(t *testing.T) {
	tb := newTailBuffer(8)
	if _, err := tb.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := tb.String(); got != "89abcdef" {
		t.Fatalf("String() = %q, want trailing 8 bytes", got)
	}
}
