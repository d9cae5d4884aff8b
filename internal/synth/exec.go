package synth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/emalani/legato/internal/audio"
)

// ExecConfig describes a long-lived synthesis worker subprocess speaking
// newline-delimited JSON over stdin/stdout.
type ExecConfig struct {
	Command string
	Args    []string

	// Name distinguishes cache entries when the worker script changes.
	Name         string
	DefaultVoice string
	// KnownVoices backs the voice listing; workers have no enumeration op.
	KnownVoices []Voice

	WarmupTimeout time.Duration
}

// ExecEngine drives one worker process and serializes requests over its
// pipes. Responses carry the request id back; a mismatched id means the
// pipe is out of sync and the worker is replaced on the next call.
type ExecEngine struct {
	cfg ExecConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	dec     *json.Decoder
	logTail *tailBuffer
	closed  bool
}

type workerRequest struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	Speed      float64 `json:"speed"`
	SampleRate int     `json:"sample_rate"`
}

type workerResponse struct {
	ID          string `json:"id"`
	OK          bool   `json:"ok"`
	Format      string `json:"format"`
	SampleRate  int    `json:"sample_rate"`
	AudioBase64 string `json:"audio_base64"`
	Error       string `json:"error"`
}

// NewExecEngine starts the worker and fires a warmup request so missing
// interpreters, models or dependencies surface at boot instead of on the
// first user request.
func NewExecEngine(cfg ExecConfig) (*ExecEngine, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("worker command is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "exec"
	}
	if strings.TrimSpace(cfg.DefaultVoice) == "" {
		cfg.DefaultVoice = "af_heart"
	}
	if cfg.WarmupTimeout <= 0 {
		cfg.WarmupTimeout = 25 * time.Second
	}

	e := &ExecEngine{cfg: cfg}
	e.mu.Lock()
	err := e.start()
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.WarmupTimeout)
	defer cancel()
	if _, err := e.Synthesize(ctx, EngineRequest{Text: "warmup", VoiceID: cfg.DefaultVoice, Speed: 1.0}); err != nil {
		tail := e.stderrTail()
		_ = e.Close()
		if tail != "" {
			return nil, fmt.Errorf("worker failed warmup: %s", tail)
		}
		return nil, fmt.Errorf("worker failed warmup: %w", err)
	}
	return e, nil
}

func (e *ExecEngine) Name() string { return e.cfg.Name }

func (e *ExecEngine) Synthesize(ctx context.Context, req EngineRequest) (EngineResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return EngineResult{}, ErrEngineClosed
	}
	if e.cmd == nil {
		if err := e.start(); err != nil {
			return EngineResult{}, &workerError{op: "restart worker", cause: err, temporary: true}
		}
	}

	id := fmt.Sprintf("req-%d", time.Now().UnixNano())
	line := workerRequest{
		ID:         id,
		Text:       req.Text,
		Voice:      req.VoiceID,
		Speed:      req.Speed,
		SampleRate: req.SampleRate,
	}
	if strings.TrimSpace(line.Voice) == "" {
		line.Voice = e.cfg.DefaultVoice
	}
	if line.Speed <= 0 {
		line.Speed = 1.0
	}

	b, _ := json.Marshal(line)
	b = append(b, '\n')

	type outcome struct {
		resp workerResponse
		err  error
	}
	done := make(chan outcome, 1)
	stdin, dec := e.stdin, e.dec
	go func() {
		if _, err := stdin.Write(b); err != nil {
			done <- outcome{err: fmt.Errorf("write request: %w", err)}
			return
		}
		// The worker answers each request with exactly one JSON line.
		var resp workerResponse
		if err := dec.Decode(&resp); err != nil {
			done <- outcome{err: fmt.Errorf("read response: %w", err)}
			return
		}
		done <- outcome{resp: resp}
	}()

	select {
	case <-ctx.Done():
		// The pending response would desynchronize every later request,
		// so the worker is discarded rather than drained.
		e.stop()
		return EngineResult{}, ctx.Err()
	case out := <-done:
		if out.err != nil {
			e.stop()
			return EngineResult{}, &workerError{op: "worker io", cause: out.err, temporary: true}
		}
		return e.decodeResponse(id, req, out.resp)
	}
}

func (e *ExecEngine) decodeResponse(id string, req EngineRequest, resp workerResponse) (EngineResult, error) {
	if resp.ID != id {
		e.stop()
		return EngineResult{}, &workerError{
			op:        "worker io",
			cause:     fmt.Errorf("out-of-sync response (got %q, expected %q)", resp.ID, id),
			temporary: true,
		}
	}
	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "unknown worker error"
		}
		return EngineResult{}, &workerError{op: "synthesize", cause: fmt.Errorf("%s", msg), temporary: true}
	}

	if strings.TrimSpace(resp.AudioBase64) == "" {
		return EngineResult{PCM: []byte{}, SampleRate: pickRate(resp.SampleRate, req.SampleRate)}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return EngineResult{}, fmt.Errorf("decode audio_base64: %w", err)
	}

	format := strings.TrimSpace(resp.Format)
	switch {
	case format == "" || strings.HasPrefix(format, "wav"):
		pcm, rate, err := audio.DecodeWAVPCM16(raw)
		if err != nil {
			return EngineResult{}, fmt.Errorf("decode worker wav: %w", err)
		}
		return EngineResult{PCM: pcm, SampleRate: rate}, nil
	case strings.HasPrefix(format, "pcm"):
		return EngineResult{PCM: raw, SampleRate: pickRate(resp.SampleRate, req.SampleRate)}, nil
	default:
		return EngineResult{}, fmt.Errorf("unsupported worker audio format %q", format)
	}
}

func (e *ExecEngine) Voices(_ context.Context) ([]Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if len(e.cfg.KnownVoices) > 0 {
		out := make([]Voice, len(e.cfg.KnownVoices))
		copy(out, e.cfg.KnownVoices)
		return out, nil
	}
	return []Voice{{ID: e.cfg.DefaultVoice, Name: e.cfg.DefaultVoice}}, nil
}

// start launches the worker. Callers hold e.mu.
func (e *ExecEngine) start() error {
	cmd := exec.Command(e.cfg.Command, e.cfg.Args...)
	cmd.Env = os.Environ()
	tail := newTailBuffer(0)
	cmd.Stderr = tail

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	e.cmd = cmd
	e.stdin = stdin
	e.dec = json.NewDecoder(stdout)
	e.logTail = tail
	return nil
}

// stop kills the current worker so the next call starts a fresh one.
// Callers hold e.mu.
func (e *ExecEngine) stop() {
	if e.stdin != nil {
		_ = e.stdin.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
		go func(cmd *exec.Cmd) { _ = cmd.Wait() }(e.cmd)
	}
	e.cmd = nil
	e.stdin = nil
	e.dec = nil
}

func (e *ExecEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stdin := e.stdin
	cmd := e.cmd
	e.stdin = nil
	e.cmd = nil
	e.dec = nil
	e.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
	return nil
}

func (e *ExecEngine) stderrTail() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.logTail == nil {
		return ""
	}
	return e.logTail.String()
}

func pickRate(rates ...int) int {
	for _, r := range rates {
		if r > 0 {
			return r
		}
	}
	return audio.DefaultSampleRate
}

// workerError is a subprocess-level failure. IO and desync problems are
// temporary: the engine replaces the worker and a retry can succeed.
type workerError struct {
	op        string
	cause     error
	temporary bool
}

func (e *workerError) Error() string   { return e.op + ": " + e.cause.Error() }
func (e *workerError) Unwrap() error   { return e.cause }
func (e *workerError) Temporary() bool { return e.temporary }

// tailBuffer keeps the last max bytes written, for bounded stderr capture
// from long-lived workers.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 16 << 10
	}
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
