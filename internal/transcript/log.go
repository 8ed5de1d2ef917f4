// Package transcript accumulates normalized transcription events into an
// in-progress utterance and a finalized history.
package transcript

import (
	"strings"
	"sync"

	"stagewhisper/internal/domain"
)

// Log folds the event stream into readable transcript state. Deltas build
// per-item text; completed events move an item into history in arrival
// order. Safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	pending  map[string]*strings.Builder
	lastItem string
	history  []domain.Utterance
}

// NewLog returns an empty transcript log.
func NewLog() *Log {
	return &Log{pending: make(map[string]*strings.Builder)}
}

// Observe folds one event into the log. Only delta and completed events
// change state.
func (l *Log) Observe(event domain.TranscriptionEvent) {
	switch event.Kind {
	case domain.EventDelta:
		if event.Text == "" {
			return
		}
		l.mu.Lock()
		builder, ok := l.pending[event.ItemID]
		if !ok {
			builder = &strings.Builder{}
			l.pending[event.ItemID] = builder
		}
		builder.WriteString(event.Text)
		l.lastItem = event.ItemID
		l.mu.Unlock()

	case domain.EventCompleted:
		text := strings.TrimSpace(event.Text)
		l.mu.Lock()
		delete(l.pending, event.ItemID)
		if l.lastItem == event.ItemID {
			l.lastItem = ""
		}
		if text != "" {
			l.history = append(l.history, domain.Utterance{
				ItemID: event.ItemID,
				Text:   text,
				Final:  true,
			})
		}
		l.mu.Unlock()
	}
}

// SetCategory attaches a classification to the most recent history entry
// with the given item id.
func (l *Log) SetCategory(itemID string, category domain.Category) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.history) - 1; i >= 0; i-- {
		if l.history[i].ItemID == itemID {
			l.history[i].Category = category
			return
		}
	}
}

// Current returns the in-progress utterance text, if any.
func (l *Log) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastItem == "" {
		return ""
	}
	builder, ok := l.pending[l.lastItem]
	if !ok {
		return ""
	}
	return builder.String()
}

// History returns finalized utterances in arrival order.
func (l *Log) History() []domain.Utterance {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Utterance, len(l.history))
	copy(out, l.history)
	return out
}

// Reset drops all accumulated state.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = make(map[string]*strings.Builder)
	l.lastItem = ""
	l.history = nil
}
