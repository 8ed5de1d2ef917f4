// Package session owns the lifecycle of one provider transcription session:
// token negotiation, the duplex websocket, outbound audio frames and the
// normalized inbound event stream.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stagewhisper/internal/domain"
	"stagewhisper/internal/metrics"
	"stagewhisper/internal/ports"
)

// ErrNoToken is returned by Connect when no negotiated token is held.
var ErrNoToken = errors.New("no session token held; negotiate a session first")

const (
	eventBufferSize  = 64
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	closeGracePeriod = time.Second
)

// Manager drives one provider session at a time. All methods are safe for
// concurrent use; websocket writes are serialized internally. After Close
// the manager can negotiate and connect again.
type Manager struct {
	protocol ports.ProviderProtocol
	sink     ports.EventSink
	log      *zap.Logger
	metrics  *metrics.Metrics
	dialer   *websocket.Dialer

	mu       sync.Mutex
	id       string
	state    domain.ConnectionState
	token    string
	conn     *websocket.Conn
	events   chan domain.TranscriptionEvent
	readDone chan struct{}

	// writeMu serializes data writes; control frames go through
	// WriteControl which gorilla allows concurrently.
	writeMu sync.Mutex
}

// NewManager builds a manager for the given protocol.
func NewManager(protocol ports.ProviderProtocol, sink ports.EventSink, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Manager{
		protocol: protocol,
		sink:     sink,
		log:      logger.Named("session"),
		metrics:  m,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		state:    domain.ConnectionIdle,
	}
}

// Provider reports which backend this manager talks to.
func (m *Manager) Provider() domain.Provider { return m.protocol.Provider() }

// State reports the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsActive reports whether the duplex connection is established.
func (m *Manager) IsActive() bool {
	return m.State() == domain.ConnectionConnected
}

// Events returns the inbound event stream for the current connection. The
// channel closes when the connection ends; before the first Connect it is
// nil.
func (m *Manager) Events() <-chan domain.TranscriptionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

// CreateSession negotiates a fresh session token with the provider. The
// token is held until Connect consumes it or Close discards it.
func (m *Manager) CreateSession(ctx context.Context) error {
	m.mu.Lock()
	if m.state == domain.ConnectionConnected {
		m.mu.Unlock()
		return errors.New("close the active connection before negotiating a new session")
	}
	m.id = uuid.NewString()
	m.token = ""
	m.state = domain.ConnectionNegotiating
	id := m.id
	m.mu.Unlock()

	m.sink.ConnectionStateChanged(domain.ConnectionNegotiating, domain.ReasonNegotiating)

	token, err := m.protocol.Negotiate(ctx)
	if err != nil {
		m.mu.Lock()
		m.state = domain.ConnectionIdle
		m.mu.Unlock()
		m.metrics.SessionResult(m.Provider(), "negotiation_failed")
		m.log.Warn("session negotiation failed",
			zap.String("session_id", id),
			zap.Error(err))
		m.sink.SessionError(domain.ErrorCodeNegotiation, err.Error())
		m.sink.ConnectionStateChanged(domain.ConnectionIdle, domain.ReasonNegotiationFailed)
		return fmt.Errorf("failed to negotiate session: %w", err)
	}

	m.mu.Lock()
	m.token = token
	m.state = domain.ConnectionIdle
	m.mu.Unlock()

	m.metrics.SessionResult(m.Provider(), "negotiated")
	m.log.Info("session token negotiated",
		zap.String("session_id", id),
		zap.String("provider", string(m.Provider())))
	m.sink.ConnectionStateChanged(domain.ConnectionIdle, domain.ReasonNegotiated)
	return nil
}

// Connect opens the duplex connection using the held token, sends the
// authentication frame and starts the inbound read loop. It fails
// immediately when no token is held.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == domain.ConnectionConnected {
		m.mu.Unlock()
		return errors.New("connection already established")
	}
	token := m.token
	id := m.id
	m.mu.Unlock()

	if token == "" {
		return ErrNoToken
	}

	streamURL, err := m.protocol.StreamURL()
	if err != nil {
		return err
	}

	conn, _, err := m.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		m.failConnect(fmt.Errorf("failed to open streaming connection: %w", err))
		return fmt.Errorf("failed to open streaming connection: %w", err)
	}

	frame, err := m.protocol.AuthFrame(token)
	if err != nil {
		_ = conn.Close()
		m.failConnect(err)
		return fmt.Errorf("failed to build auth frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		_ = conn.Close()
		m.failConnect(err)
		return fmt.Errorf("failed to send auth frame: %w", err)
	}

	events := make(chan domain.TranscriptionEvent, eventBufferSize)
	readDone := make(chan struct{})

	m.mu.Lock()
	m.conn = conn
	m.events = events
	m.readDone = readDone
	m.state = domain.ConnectionConnected
	m.mu.Unlock()

	m.metrics.SessionResult(m.Provider(), "connected")
	m.metrics.SetConnected(true)
	m.log.Info("streaming connection established",
		zap.String("session_id", id),
		zap.String("provider", string(m.Provider())))
	m.sink.ConnectionStateChanged(domain.ConnectionConnected, domain.ReasonConnected)

	go m.readLoop(conn, events, readDone)
	return nil
}

func (m *Manager) failConnect(err error) {
	m.mu.Lock()
	m.token = ""
	m.state = domain.ConnectionClosed
	m.mu.Unlock()

	m.metrics.SessionResult(m.Provider(), "connect_failed")
	m.log.Warn("connection attempt failed", zap.Error(err))
	m.sink.SessionError(domain.ErrorCodeTransport, err.Error())
	m.sink.ConnectionStateChanged(domain.ConnectionClosed, domain.ReasonTransportFailed)
}

// SendAudioChunk writes one encoded frame when connected. Frames offered
// while not connected are dropped silently; the return value reports
// whether the frame went out.
func (m *Manager) SendAudioChunk(frame domain.AudioFrame) bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == domain.ConnectionConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		m.metrics.FrameDropped()
		return false
	}

	envelope, err := m.protocol.AudioEnvelope(frame.PCM)
	if err != nil {
		m.metrics.FrameDropped()
		m.log.Warn("failed to encode audio envelope", zap.Error(err))
		m.sink.SessionError(domain.ErrorCodeSend, err.Error())
		return false
	}

	m.writeMu.Lock()
	err = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, envelope)
	}
	m.writeMu.Unlock()

	if err != nil {
		m.metrics.FrameDropped()
		m.log.Warn("failed to send audio frame", zap.Error(err))
		m.sink.SessionError(domain.ErrorCodeSend, err.Error())
		return false
	}

	m.metrics.FrameSent(len(frame.PCM))
	return true
}

// Close shuts the connection down, discards the held token and waits for
// the read loop to drain. Safe to call at any time, repeatedly.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	readDone := m.readDone
	wasConnected := m.state == domain.ConnectionConnected
	m.conn = nil
	m.readDone = nil
	m.token = ""
	m.state = domain.ConnectionClosed
	m.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(closeGracePeriod)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	if readDone != nil {
		<-readDone
	}

	if wasConnected {
		m.metrics.SetConnected(false)
		m.log.Info("session closed")
		m.sink.ConnectionStateChanged(domain.ConnectionClosed, domain.ReasonClosed)
	}
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn, events chan domain.TranscriptionEvent, done chan struct{}) {
	defer func() {
		close(events)
		close(done)
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}
		m.handleInbound(payload, events)
	}
}

// handleInbound translates one provider frame and emits it. Frames that do
// not translate are discarded without touching connection state.
func (m *Manager) handleInbound(payload []byte, events chan domain.TranscriptionEvent) {
	event, ok := m.protocol.TranslateInbound(payload)
	if !ok {
		if !json.Valid(payload) {
			m.log.Warn("discarding malformed provider frame", zap.Int("bytes", len(payload)))
			return
		}
		m.log.Debug("ignoring unrecognized provider frame", zap.ByteString("payload", payload))
		return
	}

	select {
	case events <- event:
		m.metrics.Event(event.Kind)
	default:
		m.log.Warn("event consumer is lagging; dropping event",
			zap.String("kind", string(event.Kind)))
	}
}

// handleDisconnect runs when the read loop sees an error. A locally closed
// connection was already handled by Close; everything else transitions the
// session to closed here.
func (m *Manager) handleDisconnect(conn *websocket.Conn, err error) {
	m.mu.Lock()
	current := m.conn == conn && m.state == domain.ConnectionConnected
	if current {
		m.conn = nil
		m.token = ""
		m.state = domain.ConnectionClosed
	}
	m.mu.Unlock()

	if !current {
		return
	}

	_ = conn.Close()
	m.metrics.SetConnected(false)

	if isExpectedClose(err) {
		m.log.Info("provider closed the connection")
		m.sink.ConnectionStateChanged(domain.ConnectionClosed, domain.ReasonDisconnected)
		return
	}

	m.log.Warn("streaming connection lost", zap.Error(err))
	m.sink.SessionError(domain.ErrorCodeTransport, err.Error())
	m.sink.ConnectionStateChanged(domain.ConnectionClosed, domain.ReasonTransportFailed)
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
