package gladia

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"stagewhisper/internal/domain"
)

func TestNewProtocolAppliesDefaults(t *testing.T) {
	t.Parallel()

	p := NewProtocol(Config{APIKey: "key"})
	if p.cfg.BaseURL != defaultBaseURL {
		t.Fatalf("unexpected base URL: %q", p.cfg.BaseURL)
	}
	if p.cfg.Model != defaultModel {
		t.Fatalf("unexpected model: %q", p.cfg.Model)
	}
	if p.SampleRate() != 16000 || p.BufferSamples() != 2048 {
		t.Fatalf("unexpected audio format: %d Hz / %d samples", p.SampleRate(), p.BufferSamples())
	}
	if p.Provider() != domain.ProviderGladia {
		t.Fatalf("unexpected provider: %q", p.Provider())
	}
}

func TestNegotiateRequestsLiveToken(t *testing.T) {
	t.Parallel()

	var captured sessionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/live" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Gladia-Key"); got != "key" {
			t.Errorf("unexpected key header: %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		_, _ = w.Write([]byte(`{"token":"glad-1"}`))
	}))
	defer server.Close()

	p := NewProtocol(Config{APIKey: "key", BaseURL: server.URL})
	token, err := p.Negotiate(context.Background())
	if err != nil {
		t.Fatalf("unexpected negotiation error: %v", err)
	}
	if token != "glad-1" {
		t.Fatalf("unexpected token: %q", token)
	}

	if captured.Model != defaultModel {
		t.Fatalf("unexpected model: %q", captured.Model)
	}
	if captured.Format != "pcm16" || captured.SampleRate != 16000 {
		t.Fatalf("unexpected audio format: %+v", captured)
	}
	if captured.Task != "transcribe" {
		t.Fatalf("unexpected task: %q", captured.Task)
	}
}

func TestNegotiateFailures(t *testing.T) {
	t.Parallel()

	t.Run("missing api key", func(t *testing.T) {
		t.Parallel()
		p := NewProtocol(Config{})
		if _, err := p.Negotiate(context.Background()); err == nil {
			t.Fatalf("expected error without API key")
		}
	})

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer server.Close()

		p := NewProtocol(Config{APIKey: "key", BaseURL: server.URL})
		if _, err := p.Negotiate(context.Background()); err == nil {
			t.Fatalf("expected error for response without token")
		}
	})
}

func TestStreamURLRewritesScheme(t *testing.T) {
	t.Parallel()

	p := NewProtocol(Config{APIKey: "key"})
	got, err := p.StreamURL()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "wss://api.gladia.io/v2/live" {
		t.Fatalf("unexpected stream URL: %q", got)
	}
}

func TestAudioEnvelopeShape(t *testing.T) {
	t.Parallel()

	p := NewProtocol(Config{APIKey: "key"})
	pcm := []byte{0xaa, 0xbb}
	envelope, err := p.AudioEnvelope(pcm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Type string `json:"type"`
		Data struct {
			Chunk string `json:"chunk"`
		} `json:"data"`
	}
	if err := json.Unmarshal(envelope, &decoded); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if decoded.Type != "audio_chunk" {
		t.Fatalf("unexpected envelope type: %q", decoded.Type)
	}
	raw, err := base64.StdEncoding.DecodeString(decoded.Data.Chunk)
	if err != nil {
		t.Fatalf("chunk field is not base64: %v", err)
	}
	if string(raw) != string(pcm) {
		t.Fatalf("unexpected chunk payload: %x", raw)
	}
}

func TestAuthFrameShape(t *testing.T) {
	t.Parallel()

	p := NewProtocol(Config{APIKey: "key"})
	frame, err := p.AuthFrame("glad-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("auth frame is not valid JSON: %v", err)
	}
	if decoded["type"] != "auth" || decoded["token"] != "glad-1" {
		t.Fatalf("unexpected auth frame: %v", decoded)
	}
}

func TestTranslateInbound(t *testing.T) {
	t.Parallel()

	p := NewProtocol(Config{APIKey: "key"})

	cases := map[string]struct {
		payload string
		want    domain.TranscriptionEvent
		ok      bool
	}{
		"partial transcript": {
			payload: `{"type":"transcript","text":"what is","id":"u1","index":0,"final":false}`,
			want:    domain.TranscriptionEvent{Kind: domain.EventDelta, Text: "what is", ItemID: "u1"},
			ok:      true,
		},
		"final transcript": {
			payload: `{"type":"transcript","text":"what is a hash table","id":"u1","index":0,"final":true}`,
			want:    domain.TranscriptionEvent{Kind: domain.EventCompleted, Text: "what is a hash table", ItemID: "u1"},
			ok:      true,
		},
		"speech start": {
			payload: `{"type":"speech_start","offset_ms":800,"id":"u2"}`,
			want:    domain.TranscriptionEvent{Kind: domain.EventSpeechStarted, ItemID: "u2", OffsetMs: 800},
			ok:      true,
		},
		"speech end": {
			payload: `{"type":"speech_end","offset_ms":1900,"id":"u2"}`,
			want:    domain.TranscriptionEvent{Kind: domain.EventSpeechStopped, ItemID: "u2", OffsetMs: 1900},
			ok:      true,
		},
		"unknown type": {
			payload: `{"type":"lifecycle"}`,
			ok:      false,
		},
		"malformed json": {
			payload: `transcript:`,
			ok:      false,
		},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, ok := p.TranslateInbound([]byte(tc.payload))
			if ok != tc.ok {
				t.Fatalf("unexpected ok: got %v want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if got.Kind != tc.want.Kind || got.Text != tc.want.Text || got.ItemID != tc.want.ItemID ||
				got.ContentIndex != tc.want.ContentIndex || got.OffsetMs != tc.want.OffsetMs {
				t.Fatalf("unexpected event: got %+v want %+v", got, tc.want)
			}
		})
	}

	t.Run("error", func(t *testing.T) {
		t.Parallel()
		payload := `{"type":"error","message":"stream rejected"}`
		got, ok := p.TranslateInbound([]byte(payload))
		if !ok || got.Kind != domain.EventError {
			t.Fatalf("expected error event, got %+v ok=%v", got, ok)
		}
		if string(got.ErrorPayload) != payload {
			t.Fatalf("expected raw payload passthrough, got %s", got.ErrorPayload)
		}
	})
}
