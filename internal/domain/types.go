package domain

import (
	"encoding/json"
	"time"
)

// Provider identifies a transcription backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGladia Provider = "gladia"
)

// ConnectionState models the lifecycle of one provider session.
type ConnectionState string

const (
	ConnectionIdle        ConnectionState = "idle"
	ConnectionNegotiating ConnectionState = "negotiating"
	ConnectionConnected   ConnectionState = "connected"
	ConnectionClosed      ConnectionState = "closed"
)

// StateReason provides a structured reason for connection state transitions.
type StateReason string

const (
	ReasonStartup           StateReason = "startup"
	ReasonNegotiating       StateReason = "negotiating"
	ReasonNegotiated        StateReason = "negotiated"
	ReasonNegotiationFailed StateReason = "negotiation_failed"
	ReasonConnected         StateReason = "connected"
	ReasonDisconnected      StateReason = "disconnected"
	ReasonTransportFailed   StateReason = "transport_failed"
	ReasonClosed            StateReason = "closed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodeNegotiation ErrorCode = "negotiation"
	ErrorCodeTransport   ErrorCode = "transport"
	ErrorCodeDecode      ErrorCode = "decode"
	ErrorCodeCapture     ErrorCode = "capture"
	ErrorCodeSend        ErrorCode = "send"
	ErrorCodeProvider    ErrorCode = "provider"
)

// EventKind discriminates normalized transcription events.
type EventKind string

const (
	EventDelta         EventKind = "delta"
	EventCompleted     EventKind = "completed"
	EventSpeechStarted EventKind = "speech_started"
	EventSpeechStopped EventKind = "speech_stopped"
	EventError         EventKind = "error"
)

// TranscriptionEvent is one normalized inbound event from a provider
// connection. Which fields carry meaning depends on Kind: delta and
// completed events hold text addressed by item, speech boundary events
// hold a stream offset, error events hold the provider's raw payload.
type TranscriptionEvent struct {
	Kind         EventKind       `json:"kind"`
	Text         string          `json:"text,omitempty"`
	ItemID       string          `json:"itemId,omitempty"`
	ContentIndex int             `json:"contentIndex"`
	OffsetMs     int             `json:"offsetMs,omitempty"`
	ErrorPayload json.RawMessage `json:"errorPayload,omitempty"`
}

// AudioFrame is one encoded chunk of captured audio on its way to the
// provider. PCM holds packed little-endian 16-bit samples.
type AudioFrame struct {
	PCM        []byte
	CapturedAt time.Time
}

// Category is an interview question category.
type Category string

const (
	CategoryBehavioral           Category = "behavioral"
	CategorySystemDesign         Category = "system_design"
	CategoryObjectOrientedDesign Category = "object_oriented_design"
	CategoryCoding               Category = "coding"
	CategoryUnknown              Category = "unknown"
)

// Classification is a category decision together with the per-category
// keyword tallies behind it.
type Classification struct {
	Category Category         `json:"category"`
	Scores   map[Category]int `json:"scores,omitempty"`
}

// Utterance is one finalized transcript entry.
type Utterance struct {
	ItemID   string   `json:"itemId"`
	Text     string   `json:"text"`
	Category Category `json:"category,omitempty"`
	Final    bool     `json:"final"`
}

// Status summarizes the current runtime status.
type Status struct {
	Provider   Provider        `json:"provider,omitempty"`
	Connection ConnectionState `json:"connection"`
	Capturing  bool            `json:"capturing"`
	Running    bool            `json:"running"`
	Message    string          `json:"message,omitempty"`
}
