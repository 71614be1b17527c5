package model

// SessionState is the lifecycle state of one provider account session.
type SessionState string

const (
	StateInitializing  SessionState = "initializing"
	StateAwaitingScan  SessionState = "awaiting_scan"
	StateAuthenticated SessionState = "authenticated"
	StateReady         SessionState = "ready"
	StateDisconnected  SessionState = "disconnected"
	StateLoggedOut     SessionState = "logged_out"
)

// UserInfo is provider-supplied account metadata attached to a session.
type UserInfo struct {
	Name     string `json:"name,omitempty"`
	Pushname string `json:"pushname,omitempty"`
	Number   string `json:"number,omitempty"`
}

// Session is one provider account tracked by the registry.
type Session struct {
	ID              string       `json:"sessionId"`
	State           SessionState `json:"status"`
	UserInfo        *UserInfo    `json:"userInfo,omitempty"`
	LastMessageTime int64        `json:"lastMessageTime"`
	UnreadCount     int          `json:"unreadCount"`
	LastError       string       `json:"lastError,omitempty"`
	QRCode          string       `json:"-"`
}

// Conversation is a one-to-one or group thread scoped to a session.
type Conversation struct {
	ID            string `json:"id"`
	SessionID     string `json:"sessionId"`
	Name          string `json:"name"`
	IsGroup       bool   `json:"isGroup"`
	LastMessage   string `json:"lastMessage"`
	LastMessageAt int64  `json:"lastMessageTimestamp"`
	UnreadCount   int    `json:"unreadCount"`
}

// DeliveryState is the acknowledgment ladder for an outgoing message.
// Values are ordered; a stored state never moves backward.
type DeliveryState int

const (
	DeliveryPending   DeliveryState = 0
	DeliverySent      DeliveryState = 1
	DeliveryDelivered DeliveryState = 2
	DeliveryRead      DeliveryState = 3
	DeliveryPlayed    DeliveryState = 4
)

// Attachment describes media carried by a message. The bytes themselves
// stay with the provider; only the reference travels through the coordinator.
type Attachment struct {
	MimeType string `json:"mimetype,omitempty"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Message is one message inside a conversation. Immutable after merge
// except for Delivery, which only advances.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"chatId"`
	SessionID      string        `json:"sessionId"`
	FromMe         bool          `json:"fromMe"`
	Body           string        `json:"body"`
	Type           string        `json:"type"`
	HasMedia       bool          `json:"hasMedia"`
	Media          *Attachment   `json:"media,omitempty"`
	Timestamp      int64         `json:"timestamp"`
	Delivery       DeliveryState `json:"ack"`
	QuotedID       string        `json:"quotedMessageId,omitempty"`
	Sender         *Sender       `json:"sender,omitempty"`
}

// Sender carries the metadata used to synthesize a conversation when a
// message references one the reconciler has never seen.
type Sender struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Pushname string `json:"pushname,omitempty"`
	Number   string `json:"number,omitempty"`
}

// Notification is a transient, time-boxed alert. Never persisted.
type Notification struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	SessionID      string `json:"sessionId"`
	ConversationID string `json:"chatId,omitempty"`
	IsCall         bool   `json:"isCall,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
}
