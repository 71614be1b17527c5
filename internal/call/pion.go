package call

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Engine is the production Factory and Media implementation on top of pion.
// The webrtc API object and the capture routine are built per platform, see
// media_linux.go and media_other.go.
type Engine struct {
	api     *webrtc.API
	logger  *zap.Logger
	acquire func(pc *webrtc.PeerConnection, video bool, logger *zap.Logger) (func(), error)
}

// NewPeerConnection creates a STUN-configured peer connection wrapped in the
// coordinator's interface.
func (e *Engine) NewPeerConnection() (PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
	if err != nil {
		return nil, err
	}
	return &pionConn{pc: pc}, nil
}

// Acquire captures local media into the connection. pc must have been
// created by this engine.
func (e *Engine) Acquire(pc PeerConnection, video bool) (func(), error) {
	conn, ok := pc.(*pionConn)
	if !ok {
		return nil, fmt.Errorf("foreign peer connection %T", pc)
	}
	return e.acquire(conn.pc, video, e.logger)
}

// pionConn adapts *webrtc.PeerConnection to the coordinator's surface.
type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

func (c *pionConn) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			fn(nil)
			return
		}
		init := cand.ToJSON()
		fn(&init)
	})
}

func (c *pionConn) OnConnected(fn func()) {
	c.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateConnected {
			fn()
		}
	})
}

func (c *pionConn) Close() error { return c.pc.Close() }

// addRecvOnlyTransceivers gives the SDP valid m-lines with ICE credentials
// when there is nothing to send.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection, logger *zap.Logger) {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		logger.Warn("add video transceiver failed", zap.Error(err))
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		logger.Warn("add audio transceiver failed", zap.Error(err))
	}
}
