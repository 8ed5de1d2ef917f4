// Package usecase orchestrates the transcription runtime: one provider
// session, the capture pipeline and the fan-out of normalized output.
package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"stagewhisper/internal/domain"
	"stagewhisper/internal/ports"
	"stagewhisper/internal/transcript"
)

// ErrNoActiveSession is returned by Stop when nothing is running.
var ErrNoActiveSession = errors.New("no active transcription session")

// ErrAlreadyRunning is returned by Start while a session is live.
var ErrAlreadyRunning = errors.New("transcription is already running")

// Coordinator drives the session and capture lifecycles together and fans
// normalized events to the classifier, the transcript log and stream
// consumers.
type Coordinator struct {
	session    ports.TranscriptionSession
	capture    ports.CapturePipeline
	classifier ports.QuestionClassifier
	normalizer ports.TranscriptNormalizer
	publisher  ports.StreamPublisher
	events     ports.EventSink
	transcript *transcript.Log
	log        *zap.Logger

	mu          sync.Mutex
	running     bool
	consumeDone chan struct{}
}

// NewCoordinator wires the orchestration layer. A nil normalizer passes
// transcript text through untouched.
func NewCoordinator(
	session ports.TranscriptionSession,
	capture ports.CapturePipeline,
	classifier ports.QuestionClassifier,
	normalizer ports.TranscriptNormalizer,
	publisher ports.StreamPublisher,
	events ports.EventSink,
	transcriptLog *transcript.Log,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transcriptLog == nil {
		transcriptLog = transcript.NewLog()
	}
	return &Coordinator{
		session:    session,
		capture:    capture,
		classifier: classifier,
		normalizer: normalizer,
		publisher:  publisher,
		events:     events,
		transcript: transcriptLog,
		log:        logger.Named("coordinator"),
	}
}

// Start negotiates a session, connects and begins capturing. A failed
// capture start tears the fresh connection down again.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.mu.Unlock()

	if err := c.session.CreateSession(ctx); err != nil {
		return err
	}
	if err := c.session.Connect(ctx); err != nil {
		return err
	}
	if err := c.capture.StartCapturing(ctx); err != nil {
		_ = c.session.Close()
		return err
	}

	// Each successful start begins a fresh transcript; the previous run's
	// history stays readable until then.
	c.transcript.Reset()

	done := make(chan struct{})
	c.mu.Lock()
	c.running = true
	c.consumeDone = done
	c.mu.Unlock()

	go c.consumeEvents(c.session.Events(), done)

	c.log.Info("transcription started",
		zap.String("provider", string(c.session.Provider())))
	return nil
}

// Stop halts capture, closes the session and waits for the event stream to
// drain.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	done := c.consumeDone
	c.running = false
	c.consumeDone = nil
	c.mu.Unlock()

	captureErr := c.capture.StopCapturing()
	closeErr := c.session.Close()
	if done != nil {
		<-done
	}

	c.log.Info("transcription stopped")
	if captureErr != nil {
		return captureErr
	}
	return closeErr
}

// Status summarizes the runtime state.
func (c *Coordinator) Status() domain.Status {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	return domain.Status{
		Provider:   c.session.Provider(),
		Connection: c.session.State(),
		Capturing:  c.capture.IsActive(),
		Running:    running,
	}
}

// Transcript exposes the accumulated transcript state.
func (c *Coordinator) Transcript() *transcript.Log {
	return c.transcript
}

// Classify runs the question classifier over arbitrary text.
func (c *Coordinator) Classify(text string) domain.Category {
	return c.classifier.Classify(text)
}

// ClassifyDetailed exposes the detailed classifier entry point.
func (c *Coordinator) ClassifyDetailed(ctx context.Context, text string) (domain.Classification, error) {
	return c.classifier.ClassifyDetailed(ctx, text)
}

// consumeEvents drains the session's event stream until it closes,
// publishing every event and post-processing completed utterances.
func (c *Coordinator) consumeEvents(events <-chan domain.TranscriptionEvent, done chan struct{}) {
	defer close(done)

	if events == nil {
		return
	}
	for event := range events {
		// Deltas stay verbatim; substitution rules apply once the
		// utterance is final.
		if event.Kind == domain.EventCompleted {
			event.Text = c.normalizeText(event.Text)
		}
		c.transcript.Observe(event)
		c.publisher.PublishEvent(event)

		switch event.Kind {
		case domain.EventCompleted:
			c.classifyCompleted(event)
		case domain.EventError:
			c.events.SessionError(domain.ErrorCodeProvider, string(event.ErrorPayload))
		}
	}
}

func (c *Coordinator) normalizeText(text string) string {
	if c.normalizer == nil {
		return text
	}
	return c.normalizer.Normalize(text)
}

func (c *Coordinator) classifyCompleted(event domain.TranscriptionEvent) {
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}

	category := c.classifier.Classify(text)
	c.transcript.SetCategory(event.ItemID, category)
	c.publisher.PublishUtterance(domain.Utterance{
		ItemID:   event.ItemID,
		Text:     text,
		Category: category,
		Final:    true,
	})
	c.log.Info("utterance classified",
		zap.String("item_id", event.ItemID),
		zap.String("category", string(category)))
}
