package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"stagewhisper/internal/domain"
	"stagewhisper/internal/pcm"
	"stagewhisper/internal/ports"
)

type fakeDevices struct {
	mu           sync.Mutex
	sources      []ports.SourceInfo
	enumErr      error
	acquireErr   error
	stream       ports.MediaStream
	enumerations int
	acquired     []ports.SourceInfo
}

func (d *fakeDevices) EnumerateSources(ctx context.Context) ([]ports.SourceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enumerations++
	if d.enumErr != nil {
		return nil, d.enumErr
	}
	out := make([]ports.SourceInfo, len(d.sources))
	copy(out, d.sources)
	return out, nil
}

func (d *fakeDevices) AcquireStream(ctx context.Context, source ports.SourceInfo, cfg ports.CaptureConfig) (ports.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acquireErr != nil {
		return nil, d.acquireErr
	}
	d.acquired = append(d.acquired, source)
	return d.stream, nil
}

func (d *fakeDevices) snapshot() (int, []ports.SourceInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	acquired := make([]ports.SourceInfo, len(d.acquired))
	copy(acquired, d.acquired)
	return d.enumerations, acquired
}

// fakeStream serves canned bytes, then behaves like a silent live source
// until stopped.
type fakeStream struct {
	mu      sync.Mutex
	data    *bytes.Reader
	stopped chan struct{}
	stops   int
}

func newFakeStream(data []byte) *fakeStream {
	return &fakeStream{data: bytes.NewReader(data), stopped: make(chan struct{})}
}

func (s *fakeStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	n, err := s.data.Read(p)
	s.mu.Unlock()
	if n > 0 && err == nil {
		return n, nil
	}
	<-s.stopped
	return 0, io.EOF
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if s.stops == 1 {
		close(s.stopped)
	}
	return nil
}

func (s *fakeStream) Close() error { return s.Stop() }

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeFrameSink struct {
	mu     sync.Mutex
	frames []domain.AudioFrame
	ch     chan domain.AudioFrame
}

func newFakeFrameSink() *fakeFrameSink {
	return &fakeFrameSink{ch: make(chan domain.AudioFrame, 16)}
}

func (s *fakeFrameSink) SendAudioChunk(frame domain.AudioFrame) bool {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	select {
	case s.ch <- frame:
	default:
	}
	return true
}

type fakeEventSink struct {
	mu     sync.Mutex
	errors []string
}

func (s *fakeEventSink) ConnectionStateChanged(state domain.ConnectionState, reason domain.StateReason) {}

func (s *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, string(code)+": "+detail)
}

func (s *fakeEventSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.errors))
	copy(out, s.errors)
	return out
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func packFloats(values []float32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func TestStartCapturingNoSources(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	pipeline := NewPipeline(&fakeDevices{}, newFakeFrameSink(), events, Config{}, zap.NewNop())

	err := pipeline.StartCapturing(context.Background())
	if !errors.Is(err, ErrNoSources) {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
	if pipeline.IsActive() {
		t.Fatalf("pipeline must stay inactive without sources")
	}
	if errs := events.snapshot(); len(errs) != 1 {
		t.Fatalf("expected one capture error report, got %+v", errs)
	}
}

func TestStartCapturingEncodesFirstChannel(t *testing.T) {
	t.Parallel()

	// Two interleaved channels; only channel zero may survive.
	left := []float32{0.5, -0.5, 1, -1}
	right := []float32{0.1, 0.2, 0.3, 0.4}
	interleaved := make([]float32, 0, 8)
	for i := range left {
		interleaved = append(interleaved, left[i], right[i])
	}

	stream := newFakeStream(packFloats(interleaved))
	devices := &fakeDevices{
		sources: []ports.SourceInfo{
			{ID: "speakers.monitor", Monitor: true},
			{ID: "mic"},
		},
		stream: stream,
	}
	sink := newFakeFrameSink()
	pipeline := NewPipeline(devices, sink, &fakeEventSink{}, Config{
		SampleRate:    16000,
		Channels:      2,
		BufferSamples: 4,
	}, zap.NewNop())

	if err := pipeline.StartCapturing(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer pipeline.StopCapturing()

	if !pipeline.IsActive() {
		t.Fatalf("expected active pipeline")
	}

	select {
	case frame := <-sink.ch:
		want := pcm.Encode(left)
		if !bytes.Equal(frame.PCM, want) {
			t.Fatalf("unexpected frame bytes: got %x want %x", frame.PCM, want)
		}
		if frame.CapturedAt.IsZero() {
			t.Fatalf("expected capture timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for encoded frame")
	}

	_, acquired := devices.snapshot()
	if len(acquired) != 1 || acquired[0].ID != "speakers.monitor" {
		t.Fatalf("expected first source to be acquired, got %+v", acquired)
	}
}

func TestStartCapturingTwiceIsNoOp(t *testing.T) {
	t.Parallel()

	devices := &fakeDevices{
		sources: []ports.SourceInfo{{ID: "mic"}},
		stream:  newFakeStream(nil),
	}
	pipeline := NewPipeline(devices, newFakeFrameSink(), &fakeEventSink{}, Config{}, zap.NewNop())

	if err := pipeline.StartCapturing(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer pipeline.StopCapturing()

	if err := pipeline.StartCapturing(context.Background()); err != nil {
		t.Fatalf("second start must be a no-op, got %v", err)
	}

	_, acquired := devices.snapshot()
	if len(acquired) != 1 {
		t.Fatalf("expected a single acquisition, got %d", len(acquired))
	}
}

func TestStopCapturingIsIdempotent(t *testing.T) {
	t.Parallel()

	stream := newFakeStream(nil)
	devices := &fakeDevices{sources: []ports.SourceInfo{{ID: "mic"}}, stream: stream}
	pipeline := NewPipeline(devices, newFakeFrameSink(), &fakeEventSink{}, Config{}, zap.NewNop())

	if err := pipeline.StopCapturing(); err != nil {
		t.Fatalf("stop before start must be a no-op, got %v", err)
	}

	if err := pipeline.StartCapturing(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := pipeline.StopCapturing(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if pipeline.IsActive() {
		t.Fatalf("expected inactive pipeline after stop")
	}
	if err := pipeline.StopCapturing(); err != nil {
		t.Fatalf("second stop must be a no-op, got %v", err)
	}
	if got := stream.stopCount(); got != 1 {
		t.Fatalf("expected exactly one stream stop, got %d", got)
	}
}

func TestStartCapturingAcquireFailure(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	devices := &fakeDevices{
		sources:    []ports.SourceInfo{{ID: "mic"}},
		acquireErr: errors.New("device busy"),
	}
	pipeline := NewPipeline(devices, newFakeFrameSink(), events, Config{}, zap.NewNop())

	if err := pipeline.StartCapturing(context.Background()); err == nil {
		t.Fatalf("expected acquisition error")
	}
	if pipeline.IsActive() {
		t.Fatalf("pipeline must stay inactive after failed acquisition")
	}
	if errs := events.snapshot(); len(errs) != 1 {
		t.Fatalf("expected one capture error report, got %+v", errs)
	}
}

func TestInitializeProbesSubsystem(t *testing.T) {
	t.Parallel()

	devices := &fakeDevices{enumErr: errors.New("pulse daemon unreachable")}
	pipeline := NewPipeline(devices, newFakeFrameSink(), &fakeEventSink{}, Config{}, zap.NewNop())

	if err := pipeline.Initialize(context.Background()); err == nil {
		t.Fatalf("expected probe failure")
	}

	devices.mu.Lock()
	devices.enumErr = nil
	devices.mu.Unlock()

	if err := pipeline.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected probe error: %v", err)
	}

	// A second Initialize is a cached no-op.
	before, _ := devices.snapshot()
	if err := pipeline.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected probe error: %v", err)
	}
	after, _ := devices.snapshot()
	if after != before {
		t.Fatalf("expected cached initialization, probes went %d -> %d", before, after)
	}
}

func TestMonitorReceivesRawStream(t *testing.T) {
	t.Parallel()

	raw := packFloats([]float32{0.25, -0.25, 0.75, -0.75})
	stream := newFakeStream(raw)
	devices := &fakeDevices{sources: []ports.SourceInfo{{ID: "mic"}}, stream: stream}
	sink := newFakeFrameSink()
	monitor := &lockedBuffer{}

	pipeline := NewPipeline(devices, sink, &fakeEventSink{}, Config{
		Channels:      1,
		BufferSamples: 4,
	}, zap.NewNop())
	pipeline.SetMonitor(monitor)

	if err := pipeline.StartCapturing(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-sink.ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}

	if err := pipeline.StopCapturing(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !bytes.Equal(monitor.Bytes(), raw) {
		t.Fatalf("monitor did not see the raw stream: got %x want %x", monitor.Bytes(), raw)
	}
}
