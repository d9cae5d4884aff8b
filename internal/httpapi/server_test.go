package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emalani/legato/internal/cache"
	"github.com/emalani/legato/internal/config"
	"github.com/emalani/legato/internal/observability"
	"github.com/emalani/legato/internal/session"
	"github.com/emalani/legato/internal/synth"
)

func newTestServer(t *testing.T, mock synth.MockConfig) (*httptest.Server, *session.Manager) {
	t.Helper()

	cfg := config.Config{
		DefaultVoice:             "af_heart",
		SessionInactivityTimeout: 2 * time.Minute,
	}
	engine := synth.NewMockEngine(mock)
	t.Cleanup(func() { _ = engine.Close() })

	sessions := session.NewManager(cfg.SessionInactivityTimeout, 0)
	now := time.Now()
	metrics := observability.NewMetrics("test_httpapi_" + now.Format("150405") + "_" + fmt.Sprintf("%09d", now.Nanosecond()))
	generator := synth.NewGenerator(engine, cache.NewGroup(cache.NewMemoryStore(0, 0)))
	perf := observability.NewMonitor(generator, metrics)
	controller := synth.NewController(perf, sessions, synth.Options{})

	srv := New(cfg, controller, engine, sessions, perf, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

// threeSentences packs into exactly three chunks under the options used by the
// tests (sentence strategy, target 20, max 60).
const threeSentences = "The quick brown fox jumps over the lazy dog. Pack my box with five dozen liquor jugs. How vexingly quick daft zebras jump!"

func sentenceOptions() map[string]any {
	return map[string]any{
		"strategy":          "sentence",
		"target_chunk_size": 20,
		"max_chunk_size":    60,
		"min_text_length":   1,
	}
}

func TestSpeechRendersWAV(t *testing.T) {
	ts, _ := newTestServer(t, synth.MockConfig{})

	res := postJSON(t, ts.URL+"/v1/speech", map[string]any{
		"text":    threeSentences,
		"options": sentenceOptions(),
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("speech status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("content type = %q, want %q", ct, "audio/wav")
	}
	if got := res.Header.Get("X-Chunk-Count"); got != "3" {
		t.Fatalf("X-Chunk-Count = %q, want %q", got, "3")
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) < 44 || string(body[:4]) != "RIFF" {
		t.Fatalf("body is not a WAV file (len %d)", len(body))
	}
}

func TestSpeechRejectsBadSpeed(t *testing.T) {
	ts, _ := newTestServer(t, synth.MockConfig{})

	res := postJSON(t, ts.URL+"/v1/speech", map[string]any{
		"text":  "hello there",
		"speed": 3.5,
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("speech status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if payload["code"] != "invalid_request" {
		t.Fatalf("error code = %v, want %v", payload["code"], "invalid_request")
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, synth.MockConfig{})

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var health map[string]any
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if health["engine"] != "mock" {
		t.Fatalf("healthz engine = %v, want %v", health["engine"], "mock")
	}

	ready, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer ready.Body.Close()
	if ready.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d, want %d", ready.StatusCode, http.StatusOK)
	}
}

func createSession(t *testing.T, baseURL string, payload map[string]any) string {
	t.Helper()
	res := postJSON(t, baseURL+"/v1/speech/sessions", payload)
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	id, _ := created["session_id"].(string)
	if id == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	return id
}

func dialSessionWS(t *testing.T, baseURL, sessionID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/v1/speech/sessions/ws?session_id=" + sessionID
	return websocket.DefaultDialer.Dial(wsURL, nil)
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestSessionStreamDeliversOrderedChunks(t *testing.T) {
	ts, _ := newTestServer(t, synth.MockConfig{})

	id := createSession(t, ts.URL, map[string]any{
		"text":    threeSentences,
		"options": sentenceOptions(),
	})

	conn, _, err := dialSessionWS(t, ts.URL, id)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	var indexes []int
	var end map[string]any
	for end == nil {
		frame := readFrame(t, conn)
		switch frame["type"] {
		case "segment_chunk":
			idx, _ := frame["chunk_index"].(float64)
			indexes = append(indexes, int(idx))
			if frame["format"] != "pcm_s16le" {
				t.Fatalf("format = %v, want %v", frame["format"], "pcm_s16le")
			}
			if audio, _ := frame["audio_base64"].(string); audio == "" {
				t.Fatalf("segment %d carries no audio", int(idx))
			}
		case "session_end":
			end = frame
		default:
			t.Fatalf("unexpected frame type %v", frame["type"])
		}
	}

	if len(indexes) != 3 {
		t.Fatalf("received %d segments, want 3 (indexes %v)", len(indexes), indexes)
	}
	for i, idx := range indexes {
		if idx != i {
			t.Fatalf("segment order = %v, want strictly ascending from 0", indexes)
		}
	}
	if end["state"] != string(session.StateCompleted) {
		t.Fatalf("session_end state = %v, want %v", end["state"], session.StateCompleted)
	}
	if count, _ := end["chunk_count"].(float64); int(count) != 3 {
		t.Fatalf("session_end chunk_count = %v, want 3", end["chunk_count"])
	}

	res, err := http.Get(ts.URL + "/v1/speech/sessions/" + id)
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	defer res.Body.Close()
	var snap map[string]any
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode session snapshot: %v", err)
	}
	if snap["state"] != string(session.StateCompleted) {
		t.Fatalf("session state = %v, want %v", snap["state"], session.StateCompleted)
	}
}

func TestCancelBeforeStreamStarts(t *testing.T) {
	ts, _ := newTestServer(t, synth.MockConfig{})

	id := createSession(t, ts.URL, map[string]any{"text": threeSentences})

	res := postJSON(t, ts.URL+"/v1/speech/sessions/"+id+"/cancel", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var snap map[string]any
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode cancel response: %v", err)
	}
	if snap["state"] != string(session.StateFailed) {
		t.Fatalf("state after cancel = %v, want %v", snap["state"], session.StateFailed)
	}
	if snap["reason"] != session.ReasonCancelled {
		t.Fatalf("reason after cancel = %v, want %v", snap["reason"], session.ReasonCancelled)
	}

	_, resp, err := dialSessionWS(t, ts.URL, id)
	if err == nil {
		t.Fatalf("dial after cancel succeeded, want handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("dial after cancel status = %v, want %d", resp, http.StatusConflict)
	}
}

func TestClientControlCancelStopsStream(t *testing.T) {
	ts, _ := newTestServer(t, synth.MockConfig{Latency: 60 * time.Millisecond})

	id := createSession(t, ts.URL, map[string]any{
		"text": "one two three four five six seven eight nine ten eleven twelve thirteen fourteen",
		"options": map[string]any{
			"strategy":          "fixed_size",
			"target_chunk_size": 12,
			"min_text_length":   1,
			"max_concurrency":   1,
		},
	})

	conn, _, err := dialSessionWS(t, ts.URL, id)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	first := readFrame(t, conn)
	if first["type"] != "segment_chunk" {
		t.Fatalf("first frame type = %v, want segment_chunk", first["type"])
	}
	cancelMsg := map[string]any{"type": "client_control", "action": "cancel"}
	if err := conn.WriteJSON(cancelMsg); err != nil {
		t.Fatalf("write cancel: %v", err)
	}

	received := 1
	var end map[string]any
	for end == nil {
		frame := readFrame(t, conn)
		switch frame["type"] {
		case "segment_chunk":
			received++
		case "session_end":
			end = frame
		}
	}

	if end["state"] != string(session.StateFailed) {
		t.Fatalf("session_end state = %v, want %v", end["state"], session.StateFailed)
	}
	if end["reason"] != session.ReasonCancelled {
		t.Fatalf("session_end reason = %v, want %v", end["reason"], session.ReasonCancelled)
	}
	total, _ := end["chunk_count"].(float64)
	if int(total) < 4 {
		t.Fatalf("chunk_count = %v, want at least 4", end["chunk_count"])
	}
	if received >= int(total) {
		t.Fatalf("received %d of %d segments, want the cancel to cut the stream short", received, int(total))
	}
}

func TestSessionNotFound(t *testing.T) {
	ts, _ := newTestServer(t, synth.MockConfig{})

	res, err := http.Get(ts.URL + "/v1/speech/sessions/does-not-exist")
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestListVoicesSortsByName(t *testing.T) {
	ts, _ := newTestServer(t, synth.MockConfig{})

	res, err := http.Get(ts.URL + "/v1/voices")
	if err != nil {
		t.Fatalf("GET /v1/voices error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var payload struct {
		DefaultVoiceID string `json:"default_voice_id"`
		Voices         []struct {
			VoiceID string `json:"voice_id"`
			Name    string `json:"name"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode voices: %v", err)
	}
	if payload.DefaultVoiceID != "af_heart" {
		t.Fatalf("default_voice_id = %q, want %q", payload.DefaultVoiceID, "af_heart")
	}
	if len(payload.Voices) != 3 {
		t.Fatalf("voices = %d entries, want 3", len(payload.Voices))
	}
	if payload.Voices[0].VoiceID != "am_adam" {
		t.Fatalf("first voice = %q, want %q (sorted by name)", payload.Voices[0].VoiceID, "am_adam")
	}
}

func TestPerfLatencyReportsSeries(t *testing.T) {
	ts, _ := newTestServer(t, synth.MockConfig{})

	res := postJSON(t, ts.URL+"/v1/speech", map[string]any{
		"text":    threeSentences,
		"options": sentenceOptions(),
	})
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("speech status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	perfRes, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	defer perfRes.Body.Close()
	if perfRes.StatusCode != http.StatusOK {
		t.Fatalf("perf status = %d, want %d", perfRes.StatusCode, http.StatusOK)
	}

	var snap map[string]any
	if err := json.NewDecoder(perfRes.Body).Decode(&snap); err != nil {
		t.Fatalf("decode perf snapshot: %v", err)
	}
	series, _ := snap["series"].([]any)
	if len(series) == 0 {
		t.Fatalf("perf snapshot has no series: %+v", snap)
	}
	if ws, _ := snap["window_size"].(float64); ws <= 0 {
		t.Fatalf("window_size = %v, want > 0", snap["window_size"])
	}
}
