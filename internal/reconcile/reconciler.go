package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/model"
	"github.com/matheus3301/wppdash/internal/provider"
	"github.com/matheus3301/wppdash/internal/registry"
	"go.uber.org/zap"
)

// Archive is the optional write-through sink for merged state. The in-memory
// view stays authoritative; archive failures are logged and absorbed. The
// read side rehydrates sessions after a restart, and DropSession removes a
// logged-out session's rows.
type Archive interface {
	UpsertConversation(c *model.Conversation) error
	UpsertMessage(m *model.Message) error
	AdvanceDelivery(sessionID, msgID string, state model.DeliveryState) error
	ListConversations(sessionID string) ([]model.Conversation, error)
	ListMessages(sessionID, conversationID string) ([]model.Message, error)
	DropSession(sessionID string) error
}

// Reconciler keeps per-session, per-conversation message state correct under
// two independent inputs: snapshot fetches on conversation selection and an
// unbounded stream of push events. Merging is idempotent on message id, so
// snapshot/push interleaving never duplicates or loses a message.
type Reconciler struct {
	client   provider.Client
	registry *registry.Registry
	bus      *bus.Bus
	archive  Archive
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionView
	// Current conversation selection; the pair is the only scope where
	// incoming messages do not count as unread.
	selSession string
	selConv    string

	cancel context.CancelFunc
}

type sessionView struct {
	convs map[string]*conversation
	order []string // conversation ids, most recently active first
	// msg id -> conversation id, for delivery-ack routing
	msgIndex map[string]string
}

type conversation struct {
	meta model.Conversation
	msgs []model.Message
	seen map[string]int // msg id -> index into msgs
}

// New creates a reconciler. archive may be nil.
func New(client provider.Client, reg *registry.Registry, b *bus.Bus, archive Archive, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		client:   client,
		registry: reg,
		bus:      b,
		archive:  archive,
		logger:   logger,
		sessions: make(map[string]*sessionView),
	}
}

// Start subscribes to provider push events on the bus.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("provider.", 256)

	go func() {
		defer unsub()
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

// Stop stops the reconciler event loop.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reconciler) handleEvent(evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case model.MessageEvent:
		r.Merge(payload)
	case model.DeliveryAck:
		r.ApplyAck(payload)
	case model.LoggedOut:
		r.dropSession(payload.SessionID)
	}
}

// Merge applies one pushed message. Duplicates (same message id already in
// the conversation) are dropped without any mutation; the same logical
// message legitimately arrives once via snapshot and again via push.
func (r *Reconciler) Merge(evt model.MessageEvent) {
	msg := evt.Message
	msg.SessionID = evt.SessionID

	r.mu.Lock()
	view := r.session(evt.SessionID)
	conv, ok := view.convs[msg.ConversationID]
	if !ok {
		conv = r.synthesize(view, &evt)
	}

	if _, dup := conv.seen[msg.ID]; dup {
		r.mu.Unlock()
		return
	}

	conv.seen[msg.ID] = len(conv.msgs)
	conv.msgs = append(conv.msgs, msg)
	view.msgIndex[msg.ID] = msg.ConversationID

	conv.meta.LastMessage = preview(&msg)
	if msg.Timestamp > conv.meta.LastMessageAt {
		conv.meta.LastMessageAt = msg.Timestamp
	}
	moveToFront(view, msg.ConversationID)

	unread := !msg.FromMe && !(r.selSession == evt.SessionID && r.selConv == msg.ConversationID)
	if unread {
		conv.meta.UnreadCount++
	}
	meta := conv.meta
	r.mu.Unlock()

	r.registry.NoteMessage(evt.SessionID, msg.Timestamp, !msg.FromMe)
	r.archiveWrite(&meta, &msg)

	r.bus.Publish(bus.Event{
		Kind:    bus.KindMessageMerged,
		Session: evt.SessionID,
		Payload: model.MergeResult{
			SessionID:    evt.SessionID,
			Conversation: meta,
			Message:      msg,
			Unread:       unread,
		},
	})
	r.publishConversation(evt.SessionID, meta)
}

// synthesize creates a conversation from the metadata carried by a message
// event. Callers hold r.mu.
func (r *Reconciler) synthesize(view *sessionView, evt *model.MessageEvent) *conversation {
	name := evt.ChatName
	if name == "" {
		name = evt.Message.Sender.DisplayName()
	}
	if name == "" {
		name = evt.Message.ConversationID
	}
	conv := &conversation{
		meta: model.Conversation{
			ID:        evt.Message.ConversationID,
			SessionID: evt.SessionID,
			Name:      name,
			IsGroup:   evt.IsGroup,
		},
		seen: make(map[string]int),
	}
	view.convs[evt.Message.ConversationID] = conv
	view.order = append(view.order, evt.Message.ConversationID)
	return conv
}

// ApplyAck advances a message's delivery state. Unknown message ids are
// ignored (the message is not loaded), and a state lower than the stored one
// is a stale duplicate and is dropped: delivery only moves forward.
func (r *Reconciler) ApplyAck(ack model.DeliveryAck) {
	r.mu.Lock()
	view, ok := r.sessions[ack.SessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	convID, ok := view.msgIndex[ack.MsgID]
	if !ok {
		r.mu.Unlock()
		return
	}
	conv := view.convs[convID]
	idx, ok := conv.seen[ack.MsgID]
	if !ok || conv.msgs[idx].Delivery >= ack.Ack {
		r.mu.Unlock()
		return
	}
	conv.msgs[idx].Delivery = ack.Ack
	meta := conv.meta
	r.mu.Unlock()

	if r.archive != nil {
		if err := r.archive.AdvanceDelivery(ack.SessionID, ack.MsgID, ack.Ack); err != nil {
			r.logger.Warn("archive delivery update failed", zap.Error(err), zap.String("msg_id", ack.MsgID))
		}
	}
	r.publishConversation(ack.SessionID, meta)
}

// SelectConversation makes (sessionID, conversationID) the current
// selection, zeroes its unread counter, and replaces its message list with a
// freshly fetched snapshot. Messages already merged that the snapshot does
// not contain are re-merged afterwards, so an interleaved push is never
// lost. If the user switches away before the fetch resolves, the stale
// result is discarded.
func (r *Reconciler) SelectConversation(ctx context.Context, sessionID, conversationID string) ([]model.Message, error) {
	r.mu.Lock()
	view := r.session(sessionID)
	conv, ok := view.convs[conversationID]
	if !ok {
		conv = &conversation{
			meta: model.Conversation{ID: conversationID, SessionID: sessionID, Name: conversationID},
			seen: make(map[string]int),
		}
		view.convs[conversationID] = conv
		view.order = append(view.order, conversationID)
	}
	r.selSession = sessionID
	r.selConv = conversationID
	conv.meta.UnreadCount = 0
	held := make([]model.Message, len(conv.msgs))
	copy(held, conv.msgs)
	meta := conv.meta
	r.mu.Unlock()

	r.publishConversation(sessionID, meta)

	snapshot, err := r.client.ListMessages(ctx, sessionID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("fetch messages %s/%s: %w", sessionID, conversationID, err)
	}

	// The transport does not guarantee order; sort oldest first.
	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].Timestamp < snapshot[j].Timestamp
	})

	r.mu.Lock()
	if r.selSession != sessionID || r.selConv != conversationID {
		// Superseded: the user moved on while the fetch was in flight.
		r.mu.Unlock()
		return nil, nil
	}
	view = r.session(sessionID)
	conv, ok = view.convs[conversationID]
	if !ok {
		conv = &conversation{
			meta: model.Conversation{ID: conversationID, SessionID: sessionID, Name: conversationID},
			seen: make(map[string]int),
		}
		view.convs[conversationID] = conv
		view.order = append(view.order, conversationID)
	}

	merged := make([]model.Message, 0, len(snapshot))
	seen := make(map[string]int, len(snapshot))
	for _, m := range snapshot {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = len(merged)
		merged = append(merged, m)
	}
	// Keep pushes that raced the snapshot, and never regress a delivery
	// state the push stream already advanced.
	for _, m := range held {
		if idx, dup := seen[m.ID]; dup {
			if m.Delivery > merged[idx].Delivery {
				merged[idx].Delivery = m.Delivery
			}
			continue
		}
		seen[m.ID] = len(merged)
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})

	conv.msgs = merged
	conv.seen = make(map[string]int, len(merged))
	for i, m := range merged {
		conv.seen[m.ID] = i
		view.msgIndex[m.ID] = conversationID
	}
	if n := len(merged); n > 0 {
		last := merged[n-1]
		conv.meta.LastMessage = preview(&last)
		if last.Timestamp > conv.meta.LastMessageAt {
			conv.meta.LastMessageAt = last.Timestamp
		}
	}
	out := make([]model.Message, len(merged))
	copy(out, merged)
	meta = conv.meta
	r.mu.Unlock()

	r.publishConversation(sessionID, meta)
	return out, nil
}

// SeedConversations fetches the provider's conversation list for a session
// and merges it into the in-memory view. Conversations already known keep
// their unread counts and message lists; provider metadata fills the gaps.
// Called on session selection so the list does not depend on pushes alone.
func (r *Reconciler) SeedConversations(ctx context.Context, sessionID string) error {
	fetched, err := r.client.ListConversations(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("fetch conversations %s: %w", sessionID, err)
	}

	r.mu.Lock()
	view := r.session(sessionID)
	for _, meta := range fetched {
		conv, ok := view.convs[meta.ID]
		if !ok {
			c := meta
			c.SessionID = sessionID
			if c.Name == "" {
				c.Name = c.ID
			}
			c.UnreadCount = 0
			view.convs[meta.ID] = &conversation{meta: c, seen: make(map[string]int)}
			view.order = append(view.order, meta.ID)
			continue
		}
		if meta.Name != "" {
			conv.meta.Name = meta.Name
		}
		conv.meta.IsGroup = meta.IsGroup
		if meta.LastMessageAt > conv.meta.LastMessageAt {
			conv.meta.LastMessageAt = meta.LastMessageAt
			if meta.LastMessage != "" {
				conv.meta.LastMessage = meta.LastMessage
			}
		}
	}
	sort.SliceStable(view.order, func(i, j int) bool {
		return view.convs[view.order[i]].meta.LastMessageAt > view.convs[view.order[j]].meta.LastMessageAt
	})
	metas := make([]model.Conversation, 0, len(view.order))
	for _, id := range view.order {
		metas = append(metas, view.convs[id].meta)
	}
	r.mu.Unlock()

	for i := range metas {
		if r.archive != nil {
			if err := r.archive.UpsertConversation(&metas[i]); err != nil {
				r.logger.Warn("archive conversation upsert failed", zap.Error(err), zap.String("conversation", metas[i].ID))
			}
		}
		r.publishConversation(sessionID, metas[i])
	}
	return nil
}

// ClearSelection drops the current conversation selection, e.g. when the
// active session changes.
func (r *Reconciler) ClearSelection() {
	r.mu.Lock()
	r.selSession = ""
	r.selConv = ""
	r.mu.Unlock()
}

// Conversations returns the session's conversations, most recently active
// first. Freshly synthesized conversations with no activity keep their
// insertion position at the end.
func (r *Reconciler) Conversations(sessionID string) []model.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	view, ok := r.sessions[sessionID]
	if !ok {
		if view = r.hydrate(sessionID); view == nil {
			return nil
		}
	}
	out := make([]model.Conversation, 0, len(view.order))
	for _, id := range view.order {
		out = append(out, view.convs[id].meta)
	}
	return out
}

// Messages returns a copy of a conversation's message list in merge order.
// A conversation with no merged messages yet falls back to archived history.
func (r *Reconciler) Messages(sessionID, conversationID string) []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	view, ok := r.sessions[sessionID]
	if !ok {
		if view = r.hydrate(sessionID); view == nil {
			return nil
		}
	}
	conv, ok := view.convs[conversationID]
	if !ok {
		return nil
	}
	if len(conv.msgs) == 0 && r.archive != nil {
		msgs, err := r.archive.ListMessages(sessionID, conversationID)
		if err != nil {
			r.logger.Warn("archive message read failed", zap.Error(err), zap.String("conversation", conversationID))
		} else if len(msgs) > 0 {
			conv.msgs = msgs
			conv.seen = make(map[string]int, len(msgs))
			for i, m := range msgs {
				conv.seen[m.ID] = i
				view.msgIndex[m.ID] = conversationID
			}
		}
	}
	out := make([]model.Message, len(conv.msgs))
	copy(out, conv.msgs)
	return out
}

// hydrate loads a session's archived conversations when the memory view is
// missing, which happens after a daemon restart. Callers hold r.mu.
func (r *Reconciler) hydrate(sessionID string) *sessionView {
	if r.archive == nil {
		return nil
	}
	convs, err := r.archive.ListConversations(sessionID)
	if err != nil {
		r.logger.Warn("archive conversation read failed", zap.Error(err), zap.String("session", sessionID))
		return nil
	}
	if len(convs) == 0 {
		return nil
	}
	view := r.session(sessionID)
	for _, meta := range convs {
		view.convs[meta.ID] = &conversation{meta: meta, seen: make(map[string]int)}
		view.order = append(view.order, meta.ID)
	}
	return view
}

// session returns the view for sessionID, creating it lazily. Callers hold
// r.mu.
func (r *Reconciler) session(sessionID string) *sessionView {
	view, ok := r.sessions[sessionID]
	if !ok {
		view = &sessionView{
			convs:    make(map[string]*conversation),
			msgIndex: make(map[string]string),
		}
		r.sessions[sessionID] = view
	}
	return view
}

func (r *Reconciler) dropSession(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	if r.selSession == sessionID {
		r.selSession = ""
		r.selConv = ""
	}
	r.mu.Unlock()

	if r.archive != nil {
		if err := r.archive.DropSession(sessionID); err != nil {
			r.logger.Warn("archive drop failed", zap.Error(err), zap.String("session", sessionID))
		}
	}
}

func (r *Reconciler) archiveWrite(meta *model.Conversation, msg *model.Message) {
	if r.archive == nil {
		return
	}
	if err := r.archive.UpsertConversation(meta); err != nil {
		r.logger.Warn("archive conversation upsert failed", zap.Error(err), zap.String("conversation", meta.ID))
	}
	if err := r.archive.UpsertMessage(msg); err != nil {
		r.logger.Warn("archive message upsert failed", zap.Error(err), zap.String("msg_id", msg.ID))
	}
}

func (r *Reconciler) publishConversation(sessionID string, meta model.Conversation) {
	r.bus.Publish(bus.Event{
		Kind:    bus.KindConversationUpdated,
		Session: sessionID,
		Payload: meta,
	})
}

func moveToFront(view *sessionView, conversationID string) {
	for i, id := range view.order {
		if id == conversationID {
			copy(view.order[1:i+1], view.order[:i])
			view.order[0] = conversationID
			return
		}
	}
}

// preview renders the conversation list line for a message, the same shape
// the notification body uses.
func preview(m *model.Message) string {
	if m.HasMedia {
		return fmt.Sprintf("Media (%s)", m.Type)
	}
	return truncate(m.Body, 100)
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
