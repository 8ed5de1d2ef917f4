// Package audio turns a live PulseAudio source into encoded PCM frames for
// the active transcription session.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"stagewhisper/internal/domain"
	"stagewhisper/internal/pcm"
	"stagewhisper/internal/ports"
)

// ErrNoSources is returned by StartCapturing when no capturable audio
// source exists.
var ErrNoSources = errors.New("no capturable audio sources found")

// Config fixes the capture format. SampleRate and BufferSamples normally
// come from the provider protocol.
type Config struct {
	SampleRate    int
	Channels      int
	BufferSamples int

	// MonitorPath, when set, receives a copy of the raw float stream so
	// captured audio can be listened to or inspected while transcribing.
	MonitorPath string
}

// Pipeline owns at most one live capture stream: it acquires the first
// discoverable source, buffers fixed-size sample windows, extracts channel
// zero, encodes to 16-bit PCM and hands frames to the session.
type Pipeline struct {
	devices ports.MediaDevices
	sink    ports.FrameSink
	events  ports.EventSink
	log     *zap.Logger
	cfg     Config

	mu          sync.Mutex
	initialized bool
	active      bool
	stream      ports.MediaStream
	done        chan struct{}
	monitor     io.Writer
	monitorFile *os.File
}

// NewPipeline builds a pipeline. Zero config fields get conservative
// defaults.
func NewPipeline(devices ports.MediaDevices, sink ports.FrameSink, events ports.EventSink, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.BufferSamples <= 0 {
		cfg.BufferSamples = 2048
	}
	return &Pipeline{
		devices: devices,
		sink:    sink,
		events:  events,
		log:     logger.Named("audio"),
		cfg:     cfg,
	}
}

// SetMonitor attaches a writer that receives the raw float stream while
// capturing. Set it before StartCapturing; it takes precedence over
// Config.MonitorPath.
func (p *Pipeline) SetMonitor(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.monitor = w
}

// Initialize probes the audio subsystem so later failures surface early.
// StartCapturing calls it lazily when skipped.
func (p *Pipeline) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if _, err := p.devices.EnumerateSources(ctx); err != nil {
		return fmt.Errorf("audio subsystem unavailable: %w", err)
	}

	p.mu.Lock()
	p.initialized = true
	p.mu.Unlock()
	return nil
}

// IsActive reports whether a capture stream is live.
func (p *Pipeline) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// StartCapturing acquires the first discoverable source and begins encoding
// frames. Calling it while already capturing is a no-op.
func (p *Pipeline) StartCapturing(ctx context.Context) error {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.Initialize(ctx); err != nil {
		p.events.SessionError(domain.ErrorCodeCapture, err.Error())
		return err
	}

	sources, err := p.devices.EnumerateSources(ctx)
	if err != nil {
		p.events.SessionError(domain.ErrorCodeCapture, err.Error())
		return fmt.Errorf("failed to enumerate audio sources: %w", err)
	}
	if len(sources) == 0 {
		p.events.SessionError(domain.ErrorCodeCapture, ErrNoSources.Error())
		return ErrNoSources
	}

	source := sources[0]
	stream, err := p.devices.AcquireStream(ctx, source, ports.CaptureConfig{
		SampleRate: p.cfg.SampleRate,
		Channels:   p.cfg.Channels,
	})
	if err != nil {
		p.events.SessionError(domain.ErrorCodeCapture, err.Error())
		return fmt.Errorf("failed to acquire stream for source %q: %w", source.ID, err)
	}

	done := make(chan struct{})

	p.mu.Lock()
	p.active = true
	p.stream = stream
	p.done = done
	p.openMonitorLocked()
	monitor := p.monitor
	p.mu.Unlock()

	p.log.Info("capture started",
		zap.String("source", source.ID),
		zap.Bool("monitor_source", source.Monitor),
		zap.Int("sample_rate", p.cfg.SampleRate),
		zap.Int("buffer_samples", p.cfg.BufferSamples))

	go p.process(stream, monitor, done)
	return nil
}

// StopCapturing releases the stream and clears capture state. Safe to call
// when not capturing, repeatedly.
func (p *Pipeline) StopCapturing() error {
	p.mu.Lock()
	stream := p.stream
	done := p.done
	p.stream = nil
	p.done = nil
	p.active = false
	p.mu.Unlock()

	if stream == nil {
		return nil
	}

	err := stream.Stop()
	if done != nil {
		<-done
	}

	p.mu.Lock()
	p.closeMonitorLocked()
	p.mu.Unlock()

	if err != nil {
		p.events.SessionError(domain.ErrorCodeCapture, fmt.Sprintf("audio capture did not stop cleanly: %v", err))
		return err
	}

	p.log.Info("capture stopped")
	return nil
}

// process reads fixed-size sample windows until the stream ends, encoding
// each window into one frame for the sink. Dropped frames are the sink's
// concern; capture never blocks on delivery.
func (p *Pipeline) process(stream ports.MediaStream, monitor io.Writer, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		if p.stream == stream {
			p.stream = nil
			p.done = nil
			p.active = false
			p.closeMonitorLocked()
		}
		p.mu.Unlock()
		close(done)
	}()

	raw := make([]byte, p.cfg.BufferSamples*p.cfg.Channels*4)
	samples := make([]float32, p.cfg.BufferSamples)
	encoded := make([]byte, 0, p.cfg.BufferSamples*2)

	for {
		if _, err := io.ReadFull(stream, raw); err != nil {
			if !isStreamEnd(err) {
				p.log.Warn("audio stream read failed", zap.Error(err))
				p.events.SessionError(domain.ErrorCodeCapture, fmt.Sprintf("audio stream read failed: %v", err))
			}
			return
		}

		if monitor != nil {
			// Best effort; a stalled monitor must not stall capture.
			_, _ = monitor.Write(raw)
		}

		extractChannel(raw, samples, p.cfg.Channels)
		encoded = pcm.Append(encoded[:0], samples)

		frame := domain.AudioFrame{
			PCM:        append([]byte(nil), encoded...),
			CapturedAt: time.Now(),
		}
		p.sink.SendAudioChunk(frame)
	}
}

func (p *Pipeline) openMonitorLocked() {
	if p.monitor != nil || p.cfg.MonitorPath == "" {
		return
	}
	file, err := os.OpenFile(p.cfg.MonitorPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		p.log.Warn("failed to open monitor path", zap.String("path", p.cfg.MonitorPath), zap.Error(err))
		return
	}
	p.monitorFile = file
	p.monitor = file
}

func (p *Pipeline) closeMonitorLocked() {
	if p.monitorFile == nil {
		return
	}
	_ = p.monitorFile.Close()
	if p.monitor == io.Writer(p.monitorFile) {
		p.monitor = nil
	}
	p.monitorFile = nil
}

// extractChannel decodes channel zero from interleaved f32le bytes.
func extractChannel(raw []byte, samples []float32, channels int) {
	stride := channels * 4
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*stride:])
		samples[i] = math.Float32frombits(bits)
	}
}

func isStreamEnd(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, os.ErrClosed)
}
