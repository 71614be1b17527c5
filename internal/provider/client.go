package provider

import (
	"context"

	"github.com/matheus3301/wppdash/internal/model"
)

// Client is the request/response channel to the provider backend. The
// registry and the reconciler depend on this interface only; the concrete
// transport lives behind it.
type Client interface {
	// CreateSession asks the backend to start a new provider session.
	// Readiness is reported asynchronously over the event channel.
	CreateSession(ctx context.Context, sessionID string) error

	// ListSessions returns the sessions the backend currently manages.
	ListSessions(ctx context.Context) ([]model.Session, error)

	// LogoutSession asks the backend to invalidate a session. The
	// logged-out acknowledgment arrives over the event channel.
	LogoutSession(ctx context.Context, sessionID string) error

	// ListConversations returns the conversation list for a session.
	ListConversations(ctx context.Context, sessionID string) ([]model.Conversation, error)

	// ListMessages returns the full message history snapshot for one
	// conversation. Ordering is not guaranteed by the transport.
	ListMessages(ctx context.Context, sessionID, conversationID string) ([]model.Message, error)
}
