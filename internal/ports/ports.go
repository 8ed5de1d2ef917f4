package ports

import (
	"context"
	"io"

	"stagewhisper/internal/domain"
)

// CaptureConfig describes how an audio source should be captured.
type CaptureConfig struct {
	SampleRate int
	Channels   int
}

// SourceInfo describes one capturable audio source.
type SourceInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Monitor bool   `json:"monitor"`
}

// MediaStream is a live raw-audio stream of little-endian 32-bit float
// samples.
type MediaStream interface {
	io.ReadCloser
	Stop() error
}

// MediaDevices enumerates capturable sources and acquires live streams.
// The context passed to AcquireStream bounds acquisition only; a returned
// stream lives until Stop.
type MediaDevices interface {
	EnumerateSources(ctx context.Context) ([]SourceInfo, error)
	AcquireStream(ctx context.Context, source SourceInfo, cfg CaptureConfig) (MediaStream, error)
}

// FrameSink consumes encoded audio frames. A frame is either sent or
// dropped; implementations never queue.
type FrameSink interface {
	SendAudioChunk(frame domain.AudioFrame) bool
}

// ProviderProtocol captures everything that differs between transcription
// backends: negotiation, endpoints, frame shapes and audio format.
type ProviderProtocol interface {
	Provider() domain.Provider
	Negotiate(ctx context.Context) (token string, err error)
	StreamURL() (string, error)
	AuthFrame(token string) ([]byte, error)
	AudioEnvelope(pcm []byte) ([]byte, error)
	TranslateInbound(payload []byte) (domain.TranscriptionEvent, bool)
	SampleRate() int
	BufferSamples() int
}

// TranscriptionSession is an active provider session as consumers drive it.
type TranscriptionSession interface {
	FrameSink
	CreateSession(ctx context.Context) error
	Connect(ctx context.Context) error
	Events() <-chan domain.TranscriptionEvent
	Close() error
	IsActive() bool
	State() domain.ConnectionState
	Provider() domain.Provider
}

// CapturePipeline turns a live audio source into encoded frames.
type CapturePipeline interface {
	Initialize(ctx context.Context) error
	StartCapturing(ctx context.Context) error
	StopCapturing() error
	IsActive() bool
}

// QuestionClassifier maps free text onto interview question categories.
type QuestionClassifier interface {
	Classify(text string) domain.Category
	ClassifyDetailed(ctx context.Context, text string) (domain.Classification, error)
}

// TranscriptNormalizer rewrites completed transcript text before it is
// classified or stored.
type TranscriptNormalizer interface {
	Normalize(text string) string
}

// StreamPublisher broadcasts normalized output to attached consumers.
type StreamPublisher interface {
	PublishEvent(event domain.TranscriptionEvent)
	PublishUtterance(utterance domain.Utterance)
}

// EventSink emits backend state/events to the runtime owner.
type EventSink interface {
	ConnectionStateChanged(state domain.ConnectionState, reason domain.StateReason)
	SessionError(code domain.ErrorCode, detail string)
}
