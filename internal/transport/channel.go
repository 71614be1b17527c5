package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/matheus3301/wppdash/internal/model"
)

const (
	dialTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	initialBackoff    = time.Second
	maxBackoff        = 30 * time.Second
	backoffMultiplier = 2
)

// envelope is the wire frame for both directions: a named event plus its
// JSON payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Channel is the single ingress for server-pushed events. It keeps one
// websocket to the provider backend, decodes named events into typed bus
// events, and carries outbound call signaling. Reconnects with capped
// exponential backoff; events missed while disconnected are gone, the
// registry and reconciler recover through upserts on later events.
type Channel struct {
	url    string
	token  string
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewChannel creates a channel for the given websocket URL. token may be
// empty.
func NewChannel(url, token string, b *bus.Bus, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		url:    url,
		token:  token,
		bus:    b,
		logger: logger,
	}
}

// Start runs the connect/read/reconnect loop until the context is canceled.
func (c *Channel) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		backoff := initialBackoff
		for {
			if ctx.Err() != nil {
				return
			}
			conn, err := c.dial(ctx)
			if err != nil {
				c.logger.Warn("channel dial failed",
					zap.String("url", c.url), zap.Duration("retry_in", backoff), zap.Error(err))
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				backoff = min(backoff*backoffMultiplier, maxBackoff)
				continue
			}

			c.logger.Info("channel connected", zap.String("url", c.url))
			backoff = initialBackoff
			c.setConn(conn)
			c.readLoop(ctx, conn)
			c.setConn(nil)
			conn.Close()
		}
	}()
}

// Stop closes the connection and waits for the loop to exit.
func (c *Channel) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	if c.done != nil {
		<-c.done
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	return conn, err
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("channel read failed", zap.Error(err))
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("malformed frame", zap.Error(err))
			continue
		}
		evt, err := decodeEvent(env.Event, env.Data)
		if err != nil {
			c.logger.Warn("undecodable event", zap.String("event", env.Event), zap.Error(err))
			continue
		}
		if evt.Kind == "" {
			c.logger.Debug("unknown event dropped", zap.String("event", env.Event))
			continue
		}
		c.bus.Publish(evt)
	}
}

// Emit sends one named event to the backend. Fails when disconnected; the
// caller decides whether that aborts its operation.
func (c *Channel) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("emit %s: channel disconnected", event)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// EmitOffer implements call.Emitter.
func (c *Channel) EmitOffer(to, from, name string, desc webrtc.SessionDescription) error {
	return c.Emit("callUser", model.CallOffer{To: to, From: from, Name: name, Signal: desc})
}

// EmitAnswer implements call.Emitter.
func (c *Channel) EmitAnswer(to string, desc webrtc.SessionDescription) error {
	return c.Emit("answerCall", model.CallAnswer{To: to, Signal: desc})
}

// EmitCandidate implements call.Emitter.
func (c *Channel) EmitCandidate(to string, cand webrtc.ICECandidateInit) error {
	return c.Emit("ice-candidate", model.IceCandidate{To: to, Candidate: cand})
}

// EmitEnd implements call.Emitter.
func (c *Channel) EmitEnd(to string) error {
	return c.Emit("endCall", model.CallEnd{To: to})
}
