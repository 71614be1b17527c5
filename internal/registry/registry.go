package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/model"
	"github.com/matheus3301/wppdash/internal/provider"
	"go.uber.org/zap"
)

// validTransitions defines allowed session lifecycle transitions. Logged-out
// is reachable from any state and is handled by removal, not by this table.
var validTransitions = map[model.SessionState][]model.SessionState{
	model.StateInitializing:  {model.StateAwaitingScan, model.StateAuthenticated, model.StateReady, model.StateDisconnected},
	model.StateAwaitingScan:  {model.StateAuthenticated, model.StateReady, model.StateDisconnected},
	model.StateAuthenticated: {model.StateReady, model.StateDisconnected},
	model.StateReady:         {model.StateDisconnected},
	model.StateDisconnected:  {model.StateReady, model.StateAuthenticated, model.StateAwaitingScan},
}

// Registry is the single source of truth for which provider sessions exist
// and their connection state. All lifecycle mutations are driven by bus
// events; consumer-facing operations only issue provider requests and wait
// for the acknowledging event.
type Registry struct {
	client provider.Client
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*model.Session
	order    []string // insertion order, for stable tie-breaking
	active   string

	cancel context.CancelFunc
}

// New creates an empty session registry.
func New(client provider.Client, b *bus.Bus, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		client:   client,
		bus:      b,
		logger:   logger,
		sessions: make(map[string]*model.Session),
	}
}

// Start subscribes to provider push events on the bus and seeds the session
// list from the provider, so a restarted daemon sees sessions that paired
// before it came up.
func (r *Registry) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("provider.", 256)

	go func() {
		defer unsub()
		r.seed(ctx)
		for {
			select {
			case evt := <-ch:
				r.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the registry event loop.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// seed lists the provider's existing sessions and registers the ones the
// registry does not know yet. A failed listing is logged only; push events
// fill the gap as they arrive.
func (r *Registry) seed(ctx context.Context) {
	sessions, err := r.client.ListSessions(ctx)
	if err != nil {
		r.logger.Warn("session seed failed", zap.Error(err))
		return
	}
	for _, s := range sessions {
		state := s.State
		if state == "" {
			state = model.StateInitializing
		}
		r.ApplyStatus(model.StatusChange{SessionID: s.ID, State: state, UserInfo: s.UserInfo})
	}
	if len(sessions) > 0 {
		r.logger.Info("sessions seeded from provider", zap.Int("count", len(sessions)))
	}
}

func (r *Registry) handleEvent(evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case model.StatusChange:
		r.ApplyStatus(payload)
	case model.QRCode:
		r.SetQR(payload.SessionID, payload.QR)
	case model.LoggedOut:
		r.Remove(payload.SessionID)
	}
}

// CreateSession registers a placeholder session and asks the provider to
// create it. Readiness arrives later via status events. On a rejected
// request the placeholder is retained with the error recorded, so the
// consumer can show it in an error state.
func (r *Registry) CreateSession(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, exists := r.sessions[id]; !exists {
		r.sessions[id] = &model.Session{ID: id, State: model.StateInitializing}
		r.order = append(r.order, id)
	}
	r.mu.Unlock()
	r.publishUpdated(id)

	if err := r.client.CreateSession(ctx, id); err != nil {
		r.mu.Lock()
		if s, ok := r.sessions[id]; ok {
			s.LastError = err.Error()
		}
		r.mu.Unlock()
		r.publishUpdated(id)
		return fmt.Errorf("create session %q: %w", id, err)
	}
	return nil
}

// ApplyStatus upserts a session from a provider status event. Unknown ids
// create a new record rather than failing. Reapplying the current state only
// refreshes metadata. A transition the lifecycle table does not allow is
// treated as stale and dropped.
func (r *Registry) ApplyStatus(change model.StatusChange) {
	if change.State == model.StateLoggedOut {
		// Terminal; equivalent to the dedicated logged-out event.
		r.Remove(change.SessionID)
		return
	}
	r.mu.Lock()
	s, ok := r.sessions[change.SessionID]
	if !ok {
		s = &model.Session{ID: change.SessionID, State: change.State}
		r.sessions[change.SessionID] = s
		r.order = append(r.order, change.SessionID)
	} else if s.State != change.State {
		if !allowed(s.State, change.State) {
			r.mu.Unlock()
			r.logger.Debug("dropping stale status transition",
				zap.String("session", change.SessionID),
				zap.String("from", string(s.State)),
				zap.String("to", string(change.State)))
			return
		}
		s.State = change.State
	}
	if change.UserInfo != nil {
		mergeUserInfo(s, change.UserInfo)
	}
	if s.State == model.StateReady {
		// Pairing finished; the code is no longer scannable.
		s.QRCode = ""
	}
	s.LastError = ""
	r.mu.Unlock()

	r.publishUpdated(change.SessionID)
}

func allowed(from, to model.SessionState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// mergeUserInfo merges provider metadata shallowly: set fields win, unset
// fields keep their previous value.
func mergeUserInfo(s *model.Session, info *model.UserInfo) {
	if s.UserInfo == nil {
		copied := *info
		s.UserInfo = &copied
		return
	}
	if info.Name != "" {
		s.UserInfo.Name = info.Name
	}
	if info.Pushname != "" {
		s.UserInfo.Pushname = info.Pushname
	}
	if info.Number != "" {
		s.UserInfo.Number = info.Number
	}
}

// SetQR stores the latest pairing code for a session and moves it to
// awaiting_scan. The code is overwritten by each newer one.
func (r *Registry) SetQR(id, qr string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		s = &model.Session{ID: id, State: model.StateAwaitingScan}
		r.sessions[id] = s
		r.order = append(r.order, id)
	} else if allowed(s.State, model.StateAwaitingScan) {
		s.State = model.StateAwaitingScan
	}
	s.QRCode = qr
	r.mu.Unlock()

	r.publishUpdated(id)
}

// Logout asks the provider to log the session out. The session is NOT
// removed here; removal waits for the provider's logged-out event, so a
// failed request never desyncs local state. Callers are expected to have
// confirmed the operation with the user.
func (r *Registry) Logout(ctx context.Context, id string) error {
	r.mu.RLock()
	_, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown session %q", id)
	}
	if err := r.client.LogoutSession(ctx, id); err != nil {
		return fmt.Errorf("logout session %q: %w", id, err)
	}
	return nil
}

// Remove deletes a session. If it was the active selection, the selection
// is cleared. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.active == id {
		r.active = ""
	}
	r.mu.Unlock()

	r.publishUpdated(id)
}

// Select marks a session as the active selection and zeroes its unread
// counter.
func (r *Registry) Select(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown session %q", id)
	}
	r.active = id
	s.UnreadCount = 0
	r.mu.Unlock()

	r.publishUpdated(id)
	return nil
}

// ActiveID returns the currently selected session id, or empty.
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// NoteMessage records message activity for a session: last-message time
// always advances, and the unread counter increments when countUnread is set
// and the session is not the active selection.
func (r *Registry) NoteMessage(id string, timestamp int64, countUnread bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		// A message for a session the registry has not seen yet still
		// creates a record.
		s = &model.Session{ID: id, State: model.StateInitializing}
		r.sessions[id] = s
		r.order = append(r.order, id)
	}
	if timestamp > s.LastMessageTime {
		s.LastMessageTime = timestamp
	}
	if countUnread && r.active != id {
		s.UnreadCount++
	}
	r.mu.Unlock()

	r.publishUpdated(id)
}

// Get returns a copy of the session, or false if unknown.
func (r *Registry) Get(id string) (model.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return *s, true
}

// Sessions returns all sessions ordered by last message time descending,
// ties broken by registration order.
func (r *Registry) Sessions() []model.Session {
	r.mu.RLock()
	out := make([]model.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.sessions[id])
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageTime > out[j].LastMessageTime
	})
	return out
}

func (r *Registry) publishUpdated(id string) {
	r.bus.Publish(bus.Event{
		Kind:    bus.KindRegistryUpdated,
		Session: id,
	})
}
