package bus

import "time"

// Event kinds, grouped by namespace. Subscribers filter on the namespace
// prefix; payload types for each kind live in internal/model (or in the
// publishing package for component-local kinds).
const (
	// Provider push events (inbound over the transport channel).
	KindProviderStatus    = "provider.status"
	KindProviderQR        = "provider.qr"
	KindProviderLoggedOut = "provider.logged_out"
	KindProviderMessage   = "provider.message"
	KindProviderAck       = "provider.ack"
	KindProviderCallAlert = "provider.call_alert"

	// Peer-to-peer call signaling (inbound over the transport channel).
	KindSignalOffer     = "signal.offer"
	KindSignalAnswer    = "signal.answer"
	KindSignalCandidate = "signal.candidate"
	KindSignalEnded     = "signal.ended"

	// Coordinator output events.
	KindRegistryUpdated     = "registry.updated"
	KindConversationUpdated = "conversation.updated"
	KindMessageMerged       = "message.merged"
	KindCallPhaseChanged    = "call.phase_changed"
	KindNoticePosted        = "notice.posted"
	KindNoticeCleared       = "notice.cleared"
)

// Event is one domain event published on the bus. Session is set for events
// scoped to a single provider session, empty for global ones (call
// signaling, notices).
type Event struct {
	Kind      string
	Session   string
	Timestamp time.Time
	Payload   any
}
