// Package hub fans normalized transcription output out to connected
// websocket consumers.
package hub

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"stagewhisper/internal/domain"
)

const broadcastBuffer = 64

// Message is the envelope broadcast to consumers.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Hub tracks connected consumers and broadcasts messages to all of them.
// Run owns the client set; everything else talks to it through channels.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	log        *zap.Logger
}

// New builds a hub. Call Run before serving connections.
func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        logger.Named("hub"),
	}
}

// Run dispatches registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.log.Info("consumer connected", zap.String("client_id", client.id))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Info("consumer disconnected", zap.String("client_id", client.id))
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Consumer cannot keep up; cut it loose.
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

func (h *Hub) publish(messageType string, payload any) {
	message, err := json.Marshal(Message{
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		h.log.Warn("failed to encode broadcast message", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- message:
	default:
		h.log.Warn("broadcast queue full; dropping message", zap.String("type", messageType))
	}
}

// PublishEvent broadcasts one normalized transcription event.
func (h *Hub) PublishEvent(event domain.TranscriptionEvent) {
	h.publish("transcription."+string(event.Kind), event)
}

// PublishUtterance broadcasts a classified utterance.
func (h *Hub) PublishUtterance(utterance domain.Utterance) {
	h.publish("utterance", utterance)
}

// PublishState broadcasts a connection lifecycle change.
func (h *Hub) PublishState(state domain.ConnectionState, reason domain.StateReason) {
	h.publish("state", map[string]string{
		"state":  string(state),
		"reason": string(reason),
	})
}

// PublishError broadcasts a backend error report.
func (h *Hub) PublishError(code domain.ErrorCode, detail string) {
	h.publish("error", map[string]string{
		"code":   string(code),
		"detail": detail,
	})
}
