package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/emalani/legato/internal/audio"
	"github.com/emalani/legato/internal/reliability"
)

// RemoteConfig points the engine at an HTTP synthesis service.
type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Name    string
	Timeout time.Duration
}

// RemoteEngine posts synthesis requests to an HTTP service that answers with
// either a WAV body or JSON-wrapped base64 audio.
type RemoteEngine struct {
	cfg    RemoteConfig
	client *http.Client
}

func NewRemoteEngine(cfg RemoteConfig) (*RemoteEngine, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("remote engine base URL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "remote"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &RemoteEngine{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (e *RemoteEngine) Name() string { return e.cfg.Name }

type remoteSynthesisRequest struct {
	Text       string  `json:"text"`
	VoiceID    string  `json:"voice_id"`
	Speed      float64 `json:"speed,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
}

type remoteSynthesisResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Format      string `json:"format"`
	SampleRate  int    `json:"sample_rate"`
}

func (e *RemoteEngine) Synthesize(ctx context.Context, req EngineRequest) (EngineResult, error) {
	body, _ := json.Marshal(remoteSynthesisRequest{
		Text:       req.Text,
		VoiceID:    req.VoiceID,
		Speed:      req.Speed,
		SampleRate: req.SampleRate,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return EngineResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return EngineResult{}, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return EngineResult{}, httpStatusError(resp)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "audio/wav", "audio/x-wav":
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return EngineResult{}, fmt.Errorf("read audio body: %w", err)
		}
		pcm, rate, err := audio.DecodeWAVPCM16(raw)
		if err != nil {
			return EngineResult{}, fmt.Errorf("decode wav body: %w", err)
		}
		return EngineResult{PCM: pcm, SampleRate: rate}, nil
	default:
		var payload remoteSynthesisResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return EngineResult{}, fmt.Errorf("decode synthesis response: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(payload.AudioBase64)
		if err != nil {
			return EngineResult{}, fmt.Errorf("decode audio_base64: %w", err)
		}
		if strings.HasPrefix(payload.Format, "wav") {
			pcm, rate, err := audio.DecodeWAVPCM16(raw)
			if err != nil {
				return EngineResult{}, fmt.Errorf("decode wav payload: %w", err)
			}
			return EngineResult{PCM: pcm, SampleRate: rate}, nil
		}
		return EngineResult{PCM: raw, SampleRate: pickRate(payload.SampleRate, req.SampleRate)}, nil
	}
}

func (e *RemoteEngine) Voices(ctx context.Context) ([]Voice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+"/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	if e.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("voices request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(resp)
	}
	var voices []Voice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("decode voices response: %w", err)
	}
	return voices, nil
}

func (e *RemoteEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func httpStatusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &httpError{status: resp.StatusCode, detail: strings.TrimSpace(string(msg))}
}

// httpError classifies remote failures by status code: throttling and server
// errors are temporary, client errors are not.
type httpError struct {
	status int
	detail string
}

func (e *httpError) Error() string {
	if e.detail == "" {
		return fmt.Sprintf("remote engine: HTTP %d", e.status)
	}
	return fmt.Sprintf("remote engine: HTTP %d: %s", e.status, e.detail)
}

func (e *httpError) Temporary() bool { return reliability.IsRetryableHTTPStatus(e.status) }
