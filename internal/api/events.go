package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/wppdash/internal/bus"
)

var upgrader = websocket.Upgrader{
	// The daemon binds to loopback; cross-origin browsers are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventEnvelope is one bus event as streamed to API consumers.
type EventEnvelope struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Stream fans bus events out to websocket consumers. Each consumer gets its
// own subscription; a slow consumer loses events rather than stalling the
// bus.
type Stream struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewStream creates the event stream endpoint.
func NewStream(b *bus.Bus, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{bus: b, logger: logger}
}

// ServeHTTP upgrades the request and streams every bus event until the
// client goes away.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("event stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	// Drain the client's reads so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt := <-ch:
			env := EventEnvelope{
				ID:        uuid.NewString(),
				Kind:      evt.Kind,
				SessionID: evt.Session,
				Timestamp: evt.Timestamp,
				Payload:   evt.Payload,
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
