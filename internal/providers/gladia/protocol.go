// Package gladia implements the live transcription protocol for the Gladia
// API. The wire contract here is provisional; every assumption about
// endpoints and field names stays inside this package so corrections do not
// leak into callers.
package gladia

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stagewhisper/internal/domain"
)

const (
	defaultBaseURL = "https://api.gladia.io"
	defaultModel   = "solaria-1"

	sampleRate    = 16000
	bufferSamples = 2048

	negotiateTimeout = 15 * time.Second
)

// Config controls the Gladia transcription protocol.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Prompt   string

	// HTTPClient overrides the negotiation client, mainly for tests.
	HTTPClient *http.Client
}

// Protocol implements ports.ProviderProtocol for the Gladia live API.
type Protocol struct {
	cfg Config
}

// NewProtocol builds a protocol instance, applying defaults for unset
// fields.
func NewProtocol(cfg Config) *Protocol {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "en"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: negotiateTimeout}
	}
	return &Protocol{cfg: cfg}
}

func (p *Protocol) Provider() domain.Provider { return domain.ProviderGladia }

func (p *Protocol) SampleRate() int { return sampleRate }

func (p *Protocol) BufferSamples() int { return bufferSamples }

type sessionRequest struct {
	Model      string `json:"model"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Language   string `json:"language"`
	Task       string `json:"task"`
	Prompt     string `json:"prompt,omitempty"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

// Negotiate requests a live session token. Gladia authenticates the REST
// call with its own key header rather than a bearer token.
func (p *Protocol) Negotiate(ctx context.Context) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", errors.New("Gladia API key is not configured")
	}

	body, err := json.Marshal(sessionRequest{
		Model:      p.cfg.Model,
		Format:     "pcm16",
		SampleRate: sampleRate,
		Language:   p.cfg.Language,
		Task:       "transcribe",
		Prompt:     p.cfg.Prompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode session request: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v2/live"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("X-Gladia-Key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("session negotiation request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read negotiation response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("session negotiation returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed sessionResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode negotiation response: %w", err)
	}
	if parsed.Token == "" {
		return "", errors.New("negotiation response is missing token")
	}
	return parsed.Token, nil
}

// StreamURL is the live websocket endpoint.
func (p *Protocol) StreamURL() (string, error) {
	base, err := websocketBaseURL(p.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	return base + "/v2/live", nil
}

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// AuthFrame is the single authentication frame sent right after dialing.
func (p *Protocol) AuthFrame(token string) ([]byte, error) {
	return json.Marshal(authFrame{Type: "auth", Token: token})
}

type audioChunk struct {
	Type string         `json:"type"`
	Data audioChunkData `json:"data"`
}

type audioChunkData struct {
	Chunk string `json:"chunk"`
}

// AudioEnvelope wraps encoded PCM in Gladia's audio_chunk frame.
func (p *Protocol) AudioEnvelope(pcm []byte) ([]byte, error) {
	return json.Marshal(audioChunk{
		Type: "audio_chunk",
		Data: audioChunkData{Chunk: base64.StdEncoding.EncodeToString(pcm)},
	})
}

type serverEvent struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	ID       string `json:"id"`
	Index    int    `json:"index"`
	Final    bool   `json:"final"`
	OffsetMs int    `json:"offset_ms"`
}

// TranslateInbound maps one provider frame onto the normalized event union.
// Gladia reports partial and final text through the same frame type,
// discriminated by the final flag.
func (p *Protocol) TranslateInbound(payload []byte) (domain.TranscriptionEvent, bool) {
	var event serverEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.TranscriptionEvent{}, false
	}

	switch event.Type {
	case "transcript":
		kind := domain.EventDelta
		if event.Final {
			kind = domain.EventCompleted
		}
		return domain.TranscriptionEvent{
			Kind:         kind,
			Text:         event.Text,
			ItemID:       event.ID,
			ContentIndex: event.Index,
		}, true
	case "speech_start":
		return domain.TranscriptionEvent{
			Kind:     domain.EventSpeechStarted,
			ItemID:   event.ID,
			OffsetMs: event.OffsetMs,
		}, true
	case "speech_end":
		return domain.TranscriptionEvent{
			Kind:     domain.EventSpeechStopped,
			ItemID:   event.ID,
			OffsetMs: event.OffsetMs,
		}, true
	case "error":
		return domain.TranscriptionEvent{
			Kind:         domain.EventError,
			ErrorPayload: json.RawMessage(payload),
		}, true
	default:
		return domain.TranscriptionEvent{}, false
	}
}

func websocketBaseURL(base string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(trimmed, "https://"):
		trimmed = "wss://" + strings.TrimPrefix(trimmed, "https://")
	case strings.HasPrefix(trimmed, "http://"):
		trimmed = "ws://" + strings.TrimPrefix(trimmed, "http://")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return "", fmt.Errorf("invalid API base URL %q: %w", base, err)
	}
	return trimmed, nil
}
