package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emalani/legato/internal/protocol"
)

// perfsynth replays the same text through the chunked pipeline and through a
// monolithic render, and reports first-audio and total latency for both.

type options struct {
	baseURL  string
	voiceID  string
	strategy string
	runs     int
	warm     bool
	timeout  time.Duration
	text     string
	verbose  bool
}

type runStats struct {
	ttfa      time.Duration
	total     time.Duration
	chunks    int
	cacheHits int
	fallback  bool
	audioSec  float64
}

type modeSummary struct {
	label    string
	ttfas    []time.Duration
	totals   []time.Duration
	audioSec float64
	wallSec  float64
	hits     int
	chunks   int
}

type createSessionRequest struct {
	Text    string         `json:"text"`
	VoiceID string         `json:"voice_id,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// wsFrame is a flat superset of the server frames; Type selects which fields
// are meaningful.
type wsFrame struct {
	Type        string `json:"type"`
	ChunkIndex  int    `json:"chunk_index"`
	AudioBase64 string `json:"audio_base64"`
	SampleRate  int    `json:"sample_rate"`
	State       string `json:"state"`
	Reason      string `json:"reason"`
	ChunkCount  int    `json:"chunk_count"`
	CacheHits   int    `json:"cache_hits"`
	Fallback    bool   `json:"fallback"`
	Code        string `json:"code"`
	Detail      string `json:"detail"`
}

const defaultText = "The lighthouse keeper climbed the spiral stairs for the last time that evening. " +
	"Below him the harbor lights flickered on one by one, tracing the curve of the bay. " +
	"He wound the great clockwork, checked the lamp oil twice, and wrote a single line in the log. " +
	"By morning the relief crew would arrive, and the light would no longer be his to keep. " +
	"Still, he lingered at the rail, listening to the water work against the stones."

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfsynth: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfsynth: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var timeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "legato base URL")
	flag.StringVar(&cfg.voiceID, "voice-id", "", "voice to render with (server default when empty)")
	flag.StringVar(&cfg.strategy, "strategy", "sentence", "chunking strategy for the chunked runs")
	flag.IntVar(&cfg.runs, "runs", 5, "runs per mode")
	flag.BoolVar(&cfg.warm, "warm", false, "reuse the exact text every run so the cache serves repeats")
	flag.IntVar(&timeoutMS, "timeout-ms", 60000, "per-run timeout in milliseconds")
	flag.StringVar(&cfg.text, "text", "", "text to synthesize (a built-in paragraph when empty)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print per-run progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.runs <= 0 {
		return options{}, fmt.Errorf("runs must be > 0")
	}
	if timeoutMS < 1000 {
		timeoutMS = 1000
	}
	cfg.timeout = time.Duration(timeoutMS) * time.Millisecond
	if strings.TrimSpace(cfg.text) == "" {
		cfg.text = defaultText
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(2*cfg.runs)*cfg.timeout)
	defer cancel()

	client := &http.Client{Timeout: cfg.timeout}

	chunked := modeSummary{label: "chunked/" + cfg.strategy}
	mono := modeSummary{label: "monolithic"}

	modes := []struct {
		summary *modeSummary
		opts    map[string]any
	}{
		{&chunked, map[string]any{"strategy": cfg.strategy}},
		{&mono, map[string]any{"no_chunking": true}},
	}

	for _, mode := range modes {
		for i := 0; i < cfg.runs; i++ {
			stats, err := measure(ctx, client, cfg, mode.opts, i)
			if err != nil {
				return fmt.Errorf("%s run %d: %w", mode.summary.label, i+1, err)
			}
			mode.summary.ttfas = append(mode.summary.ttfas, stats.ttfa)
			mode.summary.totals = append(mode.summary.totals, stats.total)
			mode.summary.audioSec += stats.audioSec
			mode.summary.wallSec += stats.total.Seconds()
			mode.summary.hits += stats.cacheHits
			mode.summary.chunks += stats.chunks
			if cfg.verbose {
				fmt.Printf("perfsynth: %s run %d/%d ttfa=%v total=%v chunks=%d cache_hits=%d fallback=%v\n",
					mode.summary.label, i+1, cfg.runs, stats.ttfa.Round(time.Millisecond),
					stats.total.Round(time.Millisecond), stats.chunks, stats.cacheHits, stats.fallback)
			}
		}
	}

	report(chunked)
	report(mono)

	monoTTFA := mean(mono.ttfas)
	chunkedTTFA := mean(chunked.ttfas)
	if chunkedTTFA > 0 && monoTTFA > 0 {
		fmt.Printf("perfsynth: chunked first audio %.2fx earlier than monolithic\n",
			monoTTFA.Seconds()/chunkedTTFA.Seconds())
	}
	return nil
}

func report(m modeSummary) {
	fmt.Printf("perfsynth: %s over %d runs\n", m.label, len(m.ttfas))
	fmt.Printf("perfsynth:   ttfa  mean=%v p95=%v\n",
		mean(m.ttfas).Round(time.Millisecond), percentile(m.ttfas, 0.95).Round(time.Millisecond))
	fmt.Printf("perfsynth:   total mean=%v p95=%v\n",
		mean(m.totals).Round(time.Millisecond), percentile(m.totals, 0.95).Round(time.Millisecond))
	if m.wallSec > 0 {
		fmt.Printf("perfsynth:   rendered %.1fs of audio in %.1fs wall (%.1fx realtime), chunks=%d cache_hits=%d\n",
			m.audioSec, m.wallSec, m.audioSec/m.wallSec, m.chunks, m.hits)
	}
}

func measure(ctx context.Context, client *http.Client, cfg options, opts map[string]any, runIdx int) (runStats, error) {
	text := runText(cfg.text, runIdx, cfg.warm)

	sessionID, err := createSession(ctx, client, cfg, text, opts)
	if err != nil {
		return runStats{}, fmt.Errorf("create session: %w", err)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return runStats{}, err
	}

	start := time.Now()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return runStats{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	var (
		stats      runStats
		audioBytes int
		sampleRate int
		nextIndex  int
		gotFirst   bool
	)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.timeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return runStats{}, fmt.Errorf("ws read: %w", err)
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case string(protocol.TypeSegmentChunk):
			if !gotFirst {
				stats.ttfa = time.Since(start)
				gotFirst = true
			}
			if frame.ChunkIndex != nextIndex {
				return runStats{}, fmt.Errorf("segment order broken: got index %d, want %d", frame.ChunkIndex, nextIndex)
			}
			nextIndex++
			pcm, err := base64.StdEncoding.DecodeString(frame.AudioBase64)
			if err != nil {
				return runStats{}, fmt.Errorf("segment %d audio: %w", frame.ChunkIndex, err)
			}
			audioBytes += len(pcm)
			if frame.SampleRate > 0 {
				sampleRate = frame.SampleRate
			}
		case string(protocol.TypeErrorEvent):
			return runStats{}, fmt.Errorf("error_event code=%s detail=%s", frame.Code, frame.Detail)
		case string(protocol.TypeSessionEnd):
			stats.total = time.Since(start)
			if frame.State != "completed" {
				return runStats{}, fmt.Errorf("session ended %s (reason %s)", frame.State, frame.Reason)
			}
			stats.chunks = frame.ChunkCount
			stats.cacheHits = frame.CacheHits
			stats.fallback = frame.Fallback
			if sampleRate > 0 {
				stats.audioSec = float64(audioBytes) / float64(2*sampleRate)
			}
			return stats, nil
		}
	}
}

// runText varies the text per run so the segment cache does not short-circuit
// the comparison; warm mode keeps it identical on purpose.
func runText(text string, runIdx int, warm bool) string {
	if warm || runIdx == 0 {
		return text
	}
	return fmt.Sprintf("%s Take %d.", text, runIdx+1)
}

func createSession(ctx context.Context, client *http.Client, cfg options, text string, opts map[string]any) (string, error) {
	payload, err := json.Marshal(createSessionRequest{
		Text:    text,
		VoiceID: strings.TrimSpace(cfg.voiceID),
		Options: opts,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/speech/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/speech/sessions/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func mean(values []time.Duration) time.Duration {
	if len(values) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range values {
		sum += v
	}
	return sum / time.Duration(len(values))
}

func percentile(values []time.Duration, q float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(q*float64(len(sorted)-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
