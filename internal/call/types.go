package call

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// Phase represents a call lifecycle phase.
type Phase string

const (
	Idle            Phase = "IDLE"
	OutgoingRinging Phase = "OUTGOING_RINGING"
	IncomingRinging Phase = "INCOMING_RINGING"
	Connecting      Phase = "CONNECTING"
	Active          Phase = "ACTIVE"
	Ended           Phase = "ENDED"
)

// validTransitions defines allowed phase transitions. Ended is transient:
// teardown moves through it and lands back on Idle in the same step.
var validTransitions = map[Phase][]Phase{
	Idle:            {OutgoingRinging, IncomingRinging},
	OutgoingRinging: {Connecting, Ended},
	IncomingRinging: {Connecting, Ended},
	Connecting:      {Active, Ended},
	Active:          {Ended},
	Ended:           {Idle},
}

var (
	// ErrBusy is returned when a call is initiated or accepted while
	// another call is not idle. The existing call is left untouched.
	ErrBusy = errors.New("call already in progress")
	// ErrNoCall is returned by Accept when there is no pending offer.
	ErrNoCall = errors.New("no pending call")
	// ErrMediaUnavailable wraps local capture failures.
	ErrMediaUnavailable = errors.New("local media unavailable")
)

// Emitter sends signaling messages to the remote peer. The transport channel
// implements it; tests substitute a recorder.
type Emitter interface {
	EmitOffer(to, from, name string, desc webrtc.SessionDescription) error
	EmitAnswer(to string, desc webrtc.SessionDescription) error
	EmitCandidate(to string, cand webrtc.ICECandidateInit) error
	EmitEnd(to string) error
}

// PeerConnection is the slice of the WebRTC connection surface the
// coordinator drives. pionConn adapts *webrtc.PeerConnection to it.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(cand webrtc.ICECandidateInit) error
	// OnICECandidate registers the local candidate callback. The callback
	// receives nil at end of gathering.
	OnICECandidate(fn func(*webrtc.ICECandidateInit))
	// OnConnected registers the ICE connectivity callback.
	OnConnected(fn func())
	Close() error
}

// Media acquires local capture devices and binds their tracks to a
// connection. Release stops the tracks; it is safe to call once per acquire.
type Media interface {
	Acquire(pc PeerConnection, video bool) (release func(), err error)
}

// Factory creates peer connections. Split out so tests can hand the
// coordinator a fake without touching pion.
type Factory interface {
	NewPeerConnection() (PeerConnection, error)
}

// PhaseChange is the payload published on every phase transition.
type PhaseChange struct {
	From   Phase  `json:"from"`
	To     Phase  `json:"to"`
	CallID string `json:"callId"`
	PeerID string `json:"peerId,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Info is a snapshot of the current call for the API layer.
type Info struct {
	CallID    string `json:"callId,omitempty"`
	Phase     Phase  `json:"phase"`
	PeerID    string `json:"peerId,omitempty"`
	Name      string `json:"name,omitempty"`
	Direction string `json:"direction,omitempty"` // "outgoing" or "incoming"
	Video     bool   `json:"video,omitempty"`
}
