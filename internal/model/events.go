package model

import "github.com/pion/webrtc/v4"

// Payload types for every event kind the coordinator consumes or produces.
// Components type-switch on these instead of poking at raw JSON, so adding
// or removing an event kind is a compile-checked change.

// StatusChange reports a session lifecycle transition pushed by the provider.
type StatusChange struct {
	SessionID string       `json:"sessionId"`
	State     SessionState `json:"status"`
	UserInfo  *UserInfo    `json:"userInfo,omitempty"`
}

// QRCode carries a pairing code for a session awaiting scan.
type QRCode struct {
	SessionID string `json:"sessionId"`
	QR        string `json:"qr"`
}

// LoggedOut signals that the provider invalidated a session's credentials.
type LoggedOut struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// MessageEvent is one pushed message plus the chat metadata needed to
// synthesize a conversation the reconciler has not seen yet.
type MessageEvent struct {
	SessionID string  `json:"sessionId"`
	ChatName  string  `json:"chatName,omitempty"`
	IsGroup   bool    `json:"isGroup"`
	Message   Message `json:"message"`
}

// DeliveryAck updates the delivery state of a single message.
type DeliveryAck struct {
	SessionID string        `json:"sessionId"`
	MsgID     string        `json:"msgId"`
	Ack       DeliveryState `json:"ack"`
}

// ProviderCallAlert is a provider-originated call notification. These calls
// cannot be answered through this system; the alert is informational only.
type ProviderCallAlert struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	IsVideo   bool   `json:"isVideo"`
}

// CallOffer is a peer-to-peer call offer, inbound or outbound.
type CallOffer struct {
	To     string                    `json:"userToCall,omitempty"`
	From   string                    `json:"from"`
	Name   string                    `json:"name"`
	Signal webrtc.SessionDescription `json:"signal"`
}

// CallAnswer is the callee's answer to a pending offer.
type CallAnswer struct {
	To     string                    `json:"to,omitempty"`
	Signal webrtc.SessionDescription `json:"signal"`
}

// IceCandidate relays one ICE candidate between call peers.
type IceCandidate struct {
	To        string                  `json:"to,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// CallEnd signals hang-up from either side of a call.
type CallEnd struct {
	To string `json:"to,omitempty"`
}

// MergeResult is published after a push message survives deduplication and
// lands in a conversation. It drives notifications and UI refreshes.
type MergeResult struct {
	SessionID    string       `json:"sessionId"`
	Conversation Conversation `json:"conversation"`
	Message      Message      `json:"message"`
	Unread       bool         `json:"unread"`
}
