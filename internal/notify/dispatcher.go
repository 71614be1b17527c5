package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/model"
	"go.uber.org/zap"
)

// DefaultTimeout is how long a notice stays visible unless dismissed or
// clicked earlier.
const DefaultTimeout = 5 * time.Second

// Route is returned by Click so the caller can navigate to the notice's
// conversation.
type Route struct {
	SessionID      string
	ConversationID string
}

// Dispatcher holds at most one visible notice. A newer notice replaces the
// current one; every notice expires on its own after the timeout. Message
// notices come from merge results, call notices from provider call alerts.
// Both kinds are ephemeral and never persisted.
type Dispatcher struct {
	bus     *bus.Bus
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	current *model.Notification
	// Generation counter so an expiry timer armed for a replaced notice
	// cannot clear its successor.
	gen   uint64
	timer *time.Timer

	cancel context.CancelFunc
}

// New creates a dispatcher. timeout <= 0 selects DefaultTimeout.
func New(b *bus.Bus, logger *zap.Logger, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{bus: b, logger: logger, timeout: timeout}
}

// Start subscribes to merge results and provider call alerts.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	msgCh, unsubMsg := d.bus.Subscribe("message.", 64)
	provCh, unsubProv := d.bus.Subscribe("provider.", 64)

	go func() {
		defer unsubMsg()
		defer unsubProv()
		for {
			select {
			case evt := <-msgCh:
				if res, ok := evt.Payload.(model.MergeResult); ok {
					d.onMerge(res)
				}
			case evt := <-provCh:
				if alert, ok := evt.Payload.(model.ProviderCallAlert); ok {
					d.onCallAlert(alert)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the event loop and clears any visible notice.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.Dismiss()
}

// onMerge posts a notice for an incoming message. Self-originated messages
// never notify.
func (d *Dispatcher) onMerge(res model.MergeResult) {
	if res.Message.FromMe {
		return
	}
	title := res.Message.Sender.DisplayName()
	if title == "" {
		title = res.Conversation.Name
	}
	if res.Conversation.IsGroup && title != res.Conversation.Name {
		title = fmt.Sprintf("%s @ %s", title, res.Conversation.Name)
	}
	body := res.Message.Body
	if res.Message.HasMedia {
		body = fmt.Sprintf("Media (%s)", res.Message.Type)
	}
	d.Post(model.Notification{
		Title:          title,
		Body:           body,
		SessionID:      res.SessionID,
		ConversationID: res.Conversation.ID,
	})
}

// onCallAlert posts a dismiss-only notice for a provider-originated call.
// These calls cannot be accepted through the signaling coordinator.
func (d *Dispatcher) onCallAlert(alert model.ProviderCallAlert) {
	kind := "voice"
	if alert.IsVideo {
		kind = "video"
	}
	d.Post(model.Notification{
		Title:     fmt.Sprintf("Incoming %s call", kind),
		Body:      alert.From,
		SessionID: alert.SessionID,
		IsCall:    true,
	})
}

// Post replaces the visible notice and arms its expiry timer.
func (d *Dispatcher) Post(n model.Notification) {
	n.CreatedAt = time.Now().UnixMilli()

	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.current = &n
	d.timer = time.AfterFunc(d.timeout, func() { d.expire(gen) })
	d.mu.Unlock()

	d.bus.Publish(bus.Event{
		Kind:    bus.KindNoticePosted,
		Session: n.SessionID,
		Payload: n,
	})
}

func (d *Dispatcher) expire(gen uint64) {
	d.mu.Lock()
	if d.gen != gen || d.current == nil {
		d.mu.Unlock()
		return
	}
	d.current = nil
	d.timer = nil
	d.mu.Unlock()

	d.bus.Publish(bus.Event{Kind: bus.KindNoticeCleared})
}

// Current returns the visible notice, or nil.
func (d *Dispatcher) Current() *model.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil
	}
	n := *d.current
	return &n
}

// Dismiss clears the visible notice. No-op when nothing is visible.
func (d *Dispatcher) Dismiss() {
	d.mu.Lock()
	if d.current == nil {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.current = nil
	d.mu.Unlock()

	d.bus.Publish(bus.Event{Kind: bus.KindNoticeCleared})
}

// Click clears the notice and returns where it pointed. Call notices have no
// conversation to route to; ok is false when nothing was visible or the
// notice carried no route.
func (d *Dispatcher) Click() (Route, bool) {
	d.mu.Lock()
	n := d.current
	if n == nil {
		d.mu.Unlock()
		return Route{}, false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.current = nil
	route := Route{SessionID: n.SessionID, ConversationID: n.ConversationID}
	routable := !n.IsCall && n.ConversationID != ""
	d.mu.Unlock()

	d.bus.Publish(bus.Event{Kind: bus.KindNoticeCleared})
	return route, routable
}
