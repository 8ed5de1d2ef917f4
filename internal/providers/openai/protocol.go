// Package openai implements the realtime transcription protocol for the
// OpenAI API: REST session negotiation followed by a websocket stream.
package openai

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
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-transcribe"

	// The realtime endpoint expects pcm16 at 24 kHz.
	sampleRate    = 24000
	bufferSamples = 4096

	negotiateTimeout = 15 * time.Second
)

// interviewPrompt primes the transcription model toward interview
// vocabulary.
const interviewPrompt = "This is a technical job interview. Expect questions about " +
	"algorithms, data structures, system design, object oriented design and " +
	"behavioral experience."

// Config controls the OpenAI transcription protocol.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Prompt   string

	// HTTPClient overrides the negotiation client, mainly for tests.
	HTTPClient *http.Client
}

// Protocol implements ports.ProviderProtocol for the OpenAI realtime API.
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
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = interviewPrompt
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: negotiateTimeout}
	}
	return &Protocol{cfg: cfg}
}

func (p *Protocol) Provider() domain.Provider { return domain.ProviderOpenAI }

func (p *Protocol) SampleRate() int { return sampleRate }

func (p *Protocol) BufferSamples() int { return bufferSamples }

type transcriptionSettings struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type noiseReduction struct {
	Type string `json:"type"`
}

type sessionRequest struct {
	InputAudioFormat         string                `json:"input_audio_format"`
	InputAudioTranscription  transcriptionSettings `json:"input_audio_transcription"`
	TurnDetection            turnDetection         `json:"turn_detection"`
	InputAudioNoiseReduction noiseReduction        `json:"input_audio_noise_reduction"`
}

type sessionResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

// Negotiate obtains an ephemeral session token for one streaming
// connection.
func (p *Protocol) Negotiate(ctx context.Context) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", errors.New("OpenAI API key is not configured")
	}

	body, err := json.Marshal(sessionRequest{
		InputAudioFormat: "pcm16",
		InputAudioTranscription: transcriptionSettings{
			Model:    p.cfg.Model,
			Language: p.cfg.Language,
			Prompt:   p.cfg.Prompt,
		},
		TurnDetection: turnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
		InputAudioNoiseReduction: noiseReduction{Type: "near_field"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode session request: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/realtime/transcription_sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
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
	if parsed.ClientSecret.Value == "" {
		return "", errors.New("negotiation response is missing client_secret.value")
	}
	return parsed.ClientSecret.Value, nil
}

// StreamURL is the realtime websocket endpoint with transcription intent.
func (p *Protocol) StreamURL() (string, error) {
	base, err := websocketBaseURL(p.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	return base + "/realtime?intent=transcription", nil
}

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// AuthFrame is the single authentication frame sent right after dialing.
func (p *Protocol) AuthFrame(token string) ([]byte, error) {
	return json.Marshal(authFrame{Type: "auth", Token: token})
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// AudioEnvelope wraps encoded PCM for the input audio buffer.
func (p *Protocol) AudioEnvelope(pcm []byte) ([]byte, error) {
	return json.Marshal(audioAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

type serverEvent struct {
	Type         string          `json:"type"`
	Delta        string          `json:"delta"`
	Transcript   string          `json:"transcript"`
	ItemID       string          `json:"item_id"`
	ContentIndex int             `json:"content_index"`
	AudioStartMs int             `json:"audio_start_ms"`
	AudioEndMs   int             `json:"audio_end_ms"`
	Error        json.RawMessage `json:"error"`
}

// TranslateInbound maps one provider frame onto the normalized event union.
// The second return is false for frames that do not parse or carry an
// unrecognized type.
func (p *Protocol) TranslateInbound(payload []byte) (domain.TranscriptionEvent, bool) {
	var event serverEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.TranscriptionEvent{}, false
	}

	switch event.Type {
	case "conversation.item.input_audio_transcription.delta":
		return domain.TranscriptionEvent{
			Kind:         domain.EventDelta,
			Text:         event.Delta,
			ItemID:       event.ItemID,
			ContentIndex: event.ContentIndex,
		}, true
	case "conversation.item.input_audio_transcription.completed":
		return domain.TranscriptionEvent{
			Kind:         domain.EventCompleted,
			Text:         event.Transcript,
			ItemID:       event.ItemID,
			ContentIndex: event.ContentIndex,
		}, true
	case "input_audio_buffer.speech_started":
		return domain.TranscriptionEvent{
			Kind:     domain.EventSpeechStarted,
			ItemID:   event.ItemID,
			OffsetMs: event.AudioStartMs,
		}, true
	case "input_audio_buffer.speech_stopped":
		return domain.TranscriptionEvent{
			Kind:     domain.EventSpeechStopped,
			ItemID:   event.ItemID,
			OffsetMs: event.AudioEndMs,
		}, true
	case "error":
		return domain.TranscriptionEvent{
			Kind:         domain.EventError,
			ErrorPayload: event.Error,
		}, true
	default:
		return domain.TranscriptionEvent{}, false
	}
}

// websocketBaseURL rewrites an HTTP API base into its websocket
// counterpart.
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
