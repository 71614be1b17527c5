package call

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/model"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Coordinator drives exactly one peer-to-peer call at a time through the
// offer/answer/ICE exchange. Signaling rides the transport channel via the
// Emitter; phase transitions are published on the bus. Provider-originated
// call alerts are not handled here, they are informational only and go
// through the notifier.
type Coordinator struct {
	emitter Emitter
	factory Factory
	media   Media
	bus     *bus.Bus
	logger  *zap.Logger

	mu        sync.Mutex
	selfID    string
	selfName  string
	phase     Phase
	callID    string
	peerID    string
	peerName  string
	direction string
	video     bool
	// Set while media/connection setup runs outside the lock, so a
	// concurrent Initiate/Accept/HandleOffer cannot slip in mid-setup.
	negotiating bool

	pc           PeerConnection
	releaseMedia func()
	remoteOffer  *webrtc.SessionDescription
	remoteSet    bool
	// Candidates that arrived before the remote description; flushed once
	// it is applied, never dropped.
	pending []webrtc.ICECandidateInit

	cancel context.CancelFunc
}

// New creates an idle coordinator.
func New(emitter Emitter, factory Factory, media Media, b *bus.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		emitter: emitter,
		factory: factory,
		media:   media,
		bus:     b,
		logger:  logger,
		phase:   Idle,
	}
}

// SetIdentity records the identifier and display name sent with outbound
// offers. Safe to call whenever the active session changes.
func (c *Coordinator) SetIdentity(id, name string) {
	c.mu.Lock()
	c.selfID = id
	c.selfName = name
	c.mu.Unlock()
}

// Start subscribes to inbound signaling events on the bus.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	ch, unsub := c.bus.Subscribe("signal.", 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				c.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the signaling loop. The current call, if any, keeps its state;
// callers that want teardown call End first.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) handleEvent(evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case model.CallOffer:
		if err := c.HandleOffer(payload); err != nil {
			c.logger.Warn("offer rejected", zap.Error(err), zap.String("from", payload.From))
		}
	case model.CallAnswer:
		if err := c.HandleAnswer(payload); err != nil {
			c.logger.Warn("answer rejected", zap.Error(err))
		}
	case model.IceCandidate:
		c.HandleCandidate(payload.Candidate)
	case model.CallEnd:
		c.handleRemoteEnd()
	}
}

// Initiate starts an outgoing call: local media is captured, a connection is
// created with the tracks attached, and the offer goes out tagged with our
// own identity. Any failure rolls everything back to Idle. Returns ErrBusy
// if a call is already in progress.
func (c *Coordinator) Initiate(peerID, peerName string, video bool) error {
	c.mu.Lock()
	if c.phase != Idle || c.negotiating {
		c.mu.Unlock()
		return ErrBusy
	}
	callID := uuid.NewString()
	c.callID = callID
	// The peer is recorded before setup so candidates gathered while the
	// local description is applied already relay to it.
	c.peerID = peerID
	c.peerName = peerName
	c.direction = "outgoing"
	c.video = video
	c.negotiating = true
	selfID, selfName := c.selfID, c.selfName
	c.mu.Unlock()

	pc, release, err := c.setupConnection(callID, video)
	if err != nil {
		c.rollback(callID)
		return err
	}

	offer, err := pc.CreateOffer()
	if err != nil {
		release()
		pc.Close()
		c.rollback(callID)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		release()
		pc.Close()
		c.rollback(callID)
		return fmt.Errorf("set local description: %w", err)
	}
	if err := c.emitter.EmitOffer(peerID, selfID, selfName, offer); err != nil {
		release()
		pc.Close()
		c.rollback(callID)
		return fmt.Errorf("send offer: %w", err)
	}

	c.mu.Lock()
	c.pc = pc
	c.releaseMedia = release
	c.negotiating = false
	c.transition(OutgoingRinging)
	c.mu.Unlock()
	return nil
}

// HandleOffer stores a remote offer and moves to IncomingRinging. No media
// or connection is touched until Accept; ringing has no timeout here, that
// policy belongs to the caller of this coordinator. Returns ErrBusy while
// another call is non-idle, leaving it untouched.
func (c *Coordinator) HandleOffer(offer model.CallOffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Idle || c.negotiating {
		return ErrBusy
	}
	desc := offer.Signal
	c.callID = uuid.NewString()
	c.peerID = offer.From
	c.peerName = offer.Name
	c.direction = "incoming"
	c.remoteOffer = &desc
	c.transition(IncomingRinging)
	return nil
}

// Accept answers the pending incoming offer: capture local media, create the
// connection, apply the stored remote offer, flush any queued candidates,
// then answer. Failure rolls the call back to Idle.
func (c *Coordinator) Accept() error {
	c.mu.Lock()
	if c.phase != IncomingRinging || c.remoteOffer == nil || c.negotiating {
		c.mu.Unlock()
		return ErrNoCall
	}
	callID := c.callID
	peerID := c.peerID
	remote := *c.remoteOffer
	c.negotiating = true
	c.mu.Unlock()

	pc, release, err := c.setupConnection(callID, true)
	if err != nil {
		c.teardown(true)
		return err
	}

	fail := func(step string, err error) error {
		release()
		pc.Close()
		c.teardown(true)
		return fmt.Errorf("%s: %w", step, err)
	}

	if err := pc.SetRemoteDescription(remote); err != nil {
		return fail("set remote description", err)
	}
	answer, err := pc.CreateAnswer()
	if err != nil {
		return fail("create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail("set local description", err)
	}
	if err := c.emitter.EmitAnswer(peerID, answer); err != nil {
		return fail("send answer", err)
	}

	c.mu.Lock()
	if c.callID != callID {
		// Torn down while we were negotiating.
		c.mu.Unlock()
		release()
		pc.Close()
		return ErrNoCall
	}
	c.pc = pc
	c.releaseMedia = release
	c.remoteSet = true
	c.negotiating = false
	queued := c.pending
	c.pending = nil
	c.transition(Connecting)
	c.mu.Unlock()

	c.applyCandidates(pc, queued)
	return nil
}

// HandleAnswer applies the callee's answer to our pending offer and flushes
// candidates held back until the remote description existed.
func (c *Coordinator) HandleAnswer(ans model.CallAnswer) error {
	c.mu.Lock()
	if c.phase != OutgoingRinging || c.pc == nil {
		c.mu.Unlock()
		return ErrNoCall
	}
	pc := c.pc
	c.mu.Unlock()

	if err := pc.SetRemoteDescription(ans.Signal); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	c.mu.Lock()
	c.remoteSet = true
	queued := c.pending
	c.pending = nil
	c.transition(Connecting)
	c.mu.Unlock()

	c.applyCandidates(pc, queued)
	return nil
}

// HandleCandidate applies a remote ICE candidate, queueing it if the remote
// description is not set yet. Candidates with no call in progress are
// dropped.
func (c *Coordinator) HandleCandidate(cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	if c.phase == Idle {
		c.mu.Unlock()
		return
	}
	if !c.remoteSet || c.pc == nil {
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return
	}
	pc := c.pc
	c.mu.Unlock()

	c.applyCandidates(pc, []webrtc.ICECandidateInit{cand})
}

// End hangs up locally: the peer is told, media and the connection are torn
// down, and the coordinator returns to Idle. Ending an idle coordinator is a
// no-op.
func (c *Coordinator) End() {
	c.teardown(true)
}

func (c *Coordinator) handleRemoteEnd() {
	c.teardown(false)
}

// Current reports the call snapshot for the API layer.
func (c *Coordinator) Current() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		CallID:    c.callID,
		Phase:     c.phase,
		PeerID:    c.peerID,
		Name:      c.peerName,
		Direction: c.direction,
		Video:     c.video,
	}
}

// setupConnection captures local media and returns a connection with the
// tracks attached and the local-candidate relay installed. The relay runs
// for the whole connection lifetime; late candidates are normal.
func (c *Coordinator) setupConnection(callID string, video bool) (PeerConnection, func(), error) {
	pc, err := c.factory.NewPeerConnection()
	if err != nil {
		return nil, nil, fmt.Errorf("new peer connection: %w", err)
	}
	release, err := c.media.Acquire(pc, video)
	if err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	if release == nil {
		release = func() {}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidateInit) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		peerID := c.peerID
		live := c.callID == callID
		c.mu.Unlock()
		if !live || peerID == "" {
			return
		}
		if err := c.emitter.EmitCandidate(peerID, *cand); err != nil {
			c.logger.Warn("candidate relay failed", zap.Error(err))
		}
	})
	pc.OnConnected(func() {
		c.markActive(callID)
	})
	return pc, release, nil
}

func (c *Coordinator) markActive(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callID != callID || c.phase != Connecting {
		return
	}
	c.transition(Active)
}

func (c *Coordinator) applyCandidates(pc PeerConnection, cands []webrtc.ICECandidateInit) {
	for _, cand := range cands {
		if err := pc.AddICECandidate(cand); err != nil {
			c.logger.Warn("add ice candidate failed", zap.Error(err))
		}
	}
}

// rollback clears a half-built outgoing call. Separate from teardown because
// nothing was installed on the coordinator yet.
func (c *Coordinator) rollback(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callID != callID {
		return
	}
	c.callID = ""
	c.peerID = ""
	c.peerName = ""
	c.direction = ""
	c.video = false
	c.negotiating = false
}

// teardown releases media, closes the connection, clears every piece of call
// state, and walks Ended back to Idle. Idempotent.
func (c *Coordinator) teardown(local bool) {
	c.mu.Lock()
	if c.phase == Idle {
		c.mu.Unlock()
		return
	}
	pc := c.pc
	release := c.releaseMedia
	peerID := c.peerID

	c.pc = nil
	c.releaseMedia = nil
	c.remoteOffer = nil
	c.remoteSet = false
	c.pending = nil
	c.peerID = ""
	c.peerName = ""
	c.direction = ""
	c.video = false
	c.negotiating = false
	c.transition(Ended)
	c.transition(Idle)
	c.callID = ""
	c.mu.Unlock()

	if release != nil {
		release()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			c.logger.Warn("peer connection close failed", zap.Error(err))
		}
	}
	if local && peerID != "" {
		if err := c.emitter.EmitEnd(peerID); err != nil {
			c.logger.Warn("end signal failed", zap.Error(err))
		}
	}
}

// transition moves to a new phase and publishes the change. Callers hold
// c.mu. Invalid transitions indicate a coordinator bug and are logged, not
// applied.
func (c *Coordinator) transition(to Phase) {
	if !slices.Contains(validTransitions[c.phase], to) {
		c.logger.Error("invalid phase transition",
			zap.String("from", string(c.phase)), zap.String("to", string(to)))
		return
	}
	from := c.phase
	c.phase = to
	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Kind: bus.KindCallPhaseChanged,
			Payload: PhaseChange{
				From:   from,
				To:     to,
				CallID: c.callID,
				PeerID: c.peerID,
				Name:   c.peerName,
			},
		})
	}
}
