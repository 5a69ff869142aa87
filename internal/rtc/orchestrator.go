package rtc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus/rpc"
	"github.com/isqad/livelook-meet/internal/telemetry"
)

const errorsBufferSize = 64

// Signaler delivers rpc to the signaling server
type Signaler interface {
	Send(r rpc.Rpc) error
}

type OrchestratorParams struct {
	Signaler    Signaler
	Transports  TransportFactory
	Media       *LocalMedia
	DisplayName string
}

// LinkStateObserver is called on the loop goroutine for every state change
type LinkStateObserver func(peer core.ConnectionID, from, to LinkState)

// Orchestrator keeps one negotiated link per remote participant.
// All link state is mutated by closures executed in order on a single loop.
type Orchestrator struct {
	signaler    Signaler
	transports  TransportFactory
	media       *LocalMedia
	displayName string

	self        core.ConnectionID
	video       webrtc.TrackLocal
	links       map[core.ConnectionID]*PeerLink
	roster      *Roster
	streams     *StreamMap
	errors      chan PeerError
	onLinkState LinkStateObserver
	mediaState  core.MediaState

	// link states readable outside the loop
	statesLock sync.RWMutex
	states     map[core.ConnectionID]LinkState

	queueLock sync.Mutex
	queue     []func()
	wake      chan struct{}

	runLock sync.Mutex
	quit    chan struct{}
	closed  atomic.Bool
}

func NewOrchestrator(params OrchestratorParams) (*Orchestrator, error) {
	if params.Media == nil {
		return nil, ErrNoLocalMedia
	}

	o := &Orchestrator{
		signaler:    params.Signaler,
		transports:  params.Transports,
		media:       params.Media,
		displayName: params.DisplayName,
		links:       make(map[core.ConnectionID]*PeerLink),
		roster:      newRoster(),
		streams:     newStreamMap(),
		errors:      make(chan PeerError, errorsBufferSize),
		states:      make(map[core.ConnectionID]LinkState),
		queue:       make([]func(), 0),
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
	}
	if params.Media.Camera != nil {
		o.video = params.Media.Camera
	}

	return o, nil
}

// Run executes queued events until the context is done or the orchestrator is closed
func (o *Orchestrator) Run(ctx context.Context) {
	o.runLock.Lock()
	defer o.runLock.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.quit:
			return
		case <-o.wake:
			o.drain()
		}
	}
}

// post enqueues f for the loop. The queue is unbounded so callbacks fired
// while the loop is executing never block it.
func (o *Orchestrator) post(f func()) {
	if o.closed.Load() {
		return
	}

	o.queueLock.Lock()
	o.queue = append(o.queue, f)
	o.queueLock.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) drain() {
	for {
		o.queueLock.Lock()
		batch := o.queue
		o.queue = make([]func(), 0)
		o.queueLock.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, f := range batch {
			if o.closed.Load() {
				return
			}
			f()
		}
	}
}

// Close tears down every link and stops the loop. It blocks until the loop
// has exited and must not be called from an observer.
func (o *Orchestrator) Close() {
	if o.closed.Swap(true) {
		return
	}
	close(o.quit)

	o.runLock.Lock()
	defer o.runLock.Unlock()

	for _, peer := range o.linkIDs() {
		o.closeLink(o.links[peer])
	}
	o.streams.clear()
	close(o.errors)

	log.Debug().Str("service", "orchestrator").Str("connectionId", string(o.self)).Msg("orchestrator closed")
}

// OnLinkState registers an observer, it must be set before Run
func (o *Orchestrator) OnLinkState(f LinkStateObserver) {
	o.onLinkState = f
}

// Errors delivers per-link failures, it is closed by Close
func (o *Orchestrator) Errors() <-chan PeerError {
	return o.errors
}

func (o *Orchestrator) Roster() *Roster {
	return o.roster
}

func (o *Orchestrator) Streams() *StreamMap {
	return o.streams
}

// LinkState returns the current state of the link to peer
func (o *Orchestrator) LinkState(peer core.ConnectionID) (LinkState, error) {
	o.statesLock.RLock()
	defer o.statesLock.RUnlock()

	state, ok := o.states[peer]
	if !ok {
		return LinkClosed, ErrUnknownPeer
	}
	return state, nil
}

// Dispatch queues an inbound signaling message
func (o *Orchestrator) Dispatch(r rpc.Rpc) {
	o.post(func() {
		o.handle(r)
	})
}

// RenegotiateAll re-offers every connected link
func (o *Orchestrator) RenegotiateAll() {
	o.post(o.renegotiateAll)
}

// ReplaceVideo switches the outgoing video of every link in one step
func (o *Orchestrator) ReplaceVideo(track webrtc.TrackLocal) {
	o.post(func() {
		o.replaceVideo(track)
	})
}

// ReconnectAll rebuilds the link to every remote participant and offers
func (o *Orchestrator) ReconnectAll() {
	o.post(func() {
		for _, entry := range o.roster.Remotes() {
			var stale uint64
			var hasStale bool
			if link, ok := o.links[entry.ConnectionID]; ok {
				stale, hasStale = link.remoteSession, link.hasRemoteSession
				o.closeLink(link)
			}
			link, err := o.createLink(entry.ConnectionID)
			if err != nil {
				o.publishError(entry.ConnectionID, "create-link", err)
				continue
			}
			link.staleSession, link.hasStaleSession = stale, hasStale
			o.offer(link)
		}
	})
}

func (o *Orchestrator) handle(r rpc.Rpc) {
	switch msg := r.(type) {
	case *rpc.ConnectionRpc:
		o.handleConnection(msg)
	case *rpc.ParticipantsRpc:
		o.handleParticipants(msg.Params)
	case *rpc.ParticipantJoinedRpc:
		if msg.GetMethod() == rpc.ParticipantJoinedMethod {
			o.handleParticipantJoined(msg.Params)
		}
	case *rpc.SDPRpc:
		o.handleSDP(msg)
	case *rpc.ICECandidateRpc:
		o.handleCandidate(msg.Params)
	case *rpc.MediaStateRpc:
		if msg.GetMethod() == rpc.MediaStateUpdatedMethod {
			o.roster.update(msg.Params.ConnectionID, func(e *RosterEntry) {
				e.IsMuted = msg.Params.IsMuted
				e.IsVideoOff = msg.Params.IsVideoOff
			})
		}
	case *rpc.RenegotiateRpc:
		o.renegotiateAll()
	case *rpc.ErrorRpc:
		log.Warn().Str("service", "orchestrator").Str("error", msg.Params.Error).Msg("signaling server reported an error")
	default:
		log.Debug().Str("service", "orchestrator").Str("method", string(r.GetMethod())).Msg("ignore message")
	}
}

func (o *Orchestrator) handleConnection(msg *rpc.ConnectionRpc) {
	id := msg.Params.ConnectionID

	switch msg.GetMethod() {
	case rpc.ConnectedMethod:
		if o.self != "" && o.self != id {
			log.Info().
				Str("service", "orchestrator").
				Str("connectionId", string(id)).
				Str("previousId", string(o.self)).
				Msg("session reconnected, reset links")
			o.reset()
		}
		o.self = id
		o.roster.upsert(RosterEntry{
			ConnectionID: id,
			DisplayName:  o.displayName,
			IsMuted:      o.mediaState.IsMuted,
			IsVideoOff:   o.mediaState.IsVideoOff,
			IsSelf:       true,
		})
	case rpc.ParticipantLeftMethod:
		if link, ok := o.links[id]; ok {
			o.closeLink(link)
		}
		o.roster.remove(id)
	case rpc.ScreenShareStartMethod, rpc.ScreenShareEndMethod:
		sharing := msg.GetMethod() == rpc.ScreenShareStartMethod
		o.roster.update(id, func(e *RosterEntry) {
			e.IsScreenSharing = sharing
		})
	}
}

// The joiner waits for offers from everyone already in the room
func (o *Orchestrator) handleParticipants(participants []core.Participant) {
	o.roster.mergeRemotes(participants, o.self, func(id core.ConnectionID) bool {
		_, ok := o.links[id]
		return ok
	})

	for _, p := range participants {
		if p.ConnectionID == o.self {
			continue
		}
		if _, ok := o.links[p.ConnectionID]; ok {
			continue
		}
		if _, err := o.createLink(p.ConnectionID); err != nil {
			o.publishError(p.ConnectionID, "create-link", err)
		}
	}
}

// Existing members initiate towards a newcomer
func (o *Orchestrator) handleParticipantJoined(p rpc.ParticipantJoinedParams) {
	if p.ConnectionID == o.self {
		return
	}
	o.roster.upsert(RosterEntry{ConnectionID: p.ConnectionID, DisplayName: p.DisplayName})

	if link, ok := o.links[p.ConnectionID]; ok {
		o.closeLink(link)
	}
	link, err := o.createLink(p.ConnectionID)
	if err != nil {
		o.publishError(p.ConnectionID, "create-link", err)
		return
	}
	o.offer(link)
}

func (o *Orchestrator) handleSDP(msg *rpc.SDPRpc) {
	from := msg.Params.FromID
	desc, err := msg.Params.SessionDescription()
	if err != nil {
		log.Warn().Err(err).Str("service", "orchestrator").Str("peerId", string(from)).Msg("drop session description")
		return
	}

	switch msg.GetMethod() {
	case rpc.SDPOfferMethod:
		o.handleOffer(from, desc)
	case rpc.SDPAnswerMethod:
		o.handleAnswer(from, desc)
	}
}

func (o *Orchestrator) handleOffer(from core.ConnectionID, desc webrtc.SessionDescription) {
	link, ok := o.links[from]
	if !ok {
		var err error
		if link, err = o.createLink(from); err != nil {
			o.publishError(from, "create-link", err)
			return
		}
	}

	session, err := originSessionID(desc.SDP)
	if err != nil {
		o.failLink(link, "apply-offer", err)
		return
	}

	if link.hasStaleSession && link.staleSession == session {
		// sent before the peer got our fresh offer, it answers that one instead
		log.Debug().Str("service", "orchestrator").Str("peerId", string(from)).Msg("drop offer for a replaced connection")
		return
	}

	// the peer restarted its connection, whatever was negotiated with it is gone
	restarted := link.hasRemoteSession && link.remoteSession != session

	switch {
	case link.localOfferPending:
		if ResolveGlare(o.self, from) == KeepLocalOffer {
			if !restarted {
				log.Debug().Str("service", "orchestrator").Str("peerId", string(from)).Msg("glare, keep local offer")
				return
			}
			// our offer went to a connection the peer has closed, offer again from a clean transport
			log.Debug().Str("service", "orchestrator").Str("peerId", string(from)).Msg("glare with restarted peer, offer again")
			if err := o.replaceTransport(link, true); err != nil {
				o.failLink(link, "replace-transport", err)
				return
			}
			o.offer(link)
			return
		}

		log.Debug().Str("service", "orchestrator").Str("peerId", string(from)).Bool("restarted", restarted).Msg("glare, yield to remote offer")
		if restarted {
			err = o.replaceTransport(link, true)
		} else {
			err = o.yield(link)
		}
		if err != nil {
			o.failLink(link, "rollback", err)
			return
		}
	case restarted:
		log.Debug().Str("service", "orchestrator").Str("peerId", string(from)).Msg("remote session changed, replace transport")
		if err := o.replaceTransport(link, true); err != nil {
			o.failLink(link, "replace-transport", err)
			return
		}
	}

	if err := o.setState(link, EventRemoteOffer); err != nil {
		return
	}
	if err := link.transport.SetRemoteDescription(desc); err != nil {
		o.failLink(link, "apply-offer", err)
		return
	}
	link.remoteSession = session
	link.hasRemoteSession = true
	link.remoteApplied = true
	o.flushCandidates(link)

	answer, err := link.transport.CreateAnswer()
	if err != nil {
		o.failLink(link, "create-answer", err)
		return
	}
	reply, err := rpc.NewSDPAnswerRpc(from, answer)
	if err != nil {
		o.failLink(link, "create-answer", err)
		return
	}
	o.send(reply)

	if err := o.setState(link, EventAnswerSent); err != nil {
		return
	}
	o.maybeEstablished(link)
}

// yield drops the pending local offer. A link that never connected has
// nothing worth keeping, so its transport is replaced instead of rolled back.
func (o *Orchestrator) yield(link *PeerLink) error {
	link.localOfferPending = false

	if link.everConnected {
		if err := link.transport.Rollback(); err == nil {
			return nil
		}
	}
	return o.replaceTransport(link, false)
}

func (o *Orchestrator) handleAnswer(from core.ConnectionID, desc webrtc.SessionDescription) {
	link, ok := o.links[from]
	if !ok || !link.localOfferPending {
		log.Debug().Str("service", "orchestrator").Str("peerId", string(from)).Msg("drop unexpected answer")
		return
	}

	session, err := originSessionID(desc.SDP)
	if err != nil {
		o.failLink(link, "apply-answer", err)
		return
	}
	if err := link.transport.SetRemoteDescription(desc); err != nil {
		o.failLink(link, "apply-answer", err)
		return
	}

	link.remoteSession = session
	link.hasRemoteSession = true
	link.localOfferPending = false
	link.remoteApplied = true
	o.flushCandidates(link)
	o.maybeEstablished(link)
}

func (o *Orchestrator) handleCandidate(params rpc.ICECandidateParams) {
	link, ok := o.links[params.FromID]
	if !ok {
		log.Debug().Str("service", "orchestrator").Str("peerId", string(params.FromID)).Msg("drop candidate for unknown peer")
		return
	}

	candidate, err := params.ICECandidate()
	if err != nil {
		log.Warn().Err(err).Str("service", "orchestrator").Str("peerId", string(params.FromID)).Msg("drop candidate")
		return
	}

	if !link.transport.HasRemoteDescription() {
		link.candidates.Push(candidate)
		return
	}
	if err := link.transport.AddICECandidate(candidate); err != nil {
		log.Warn().Err(err).Str("service", "orchestrator").Str("peerId", string(params.FromID)).Msg("add candidate")
	}
}

func (o *Orchestrator) flushCandidates(link *PeerLink) {
	_, discarded := link.candidates.Drain(link.transport.AddICECandidate)
	for _, err := range discarded {
		log.Warn().Err(err).Str("service", "orchestrator").Str("peerId", string(link.peerID)).Msg("discard queued candidate")
	}
}

func (o *Orchestrator) createLink(peer core.ConnectionID) (*PeerLink, error) {
	link := newPeerLink(peer)
	if err := o.attachTransport(link); err != nil {
		return nil, err
	}

	o.links[peer] = link
	o.statesLock.Lock()
	o.states[peer] = link.state
	o.statesLock.Unlock()

	log.Debug().Str("service", "orchestrator").Str("peerId", string(peer)).Msg("link created")
	return link, nil
}

func (o *Orchestrator) attachTransport(link *PeerLink) error {
	t, err := o.transports(link.peerID)
	if err != nil {
		return err
	}

	if o.media.Audio != nil {
		if err := t.AddTrack(o.media.Audio); err != nil {
			_ = t.Close()
			return err
		}
	}
	if o.video != nil {
		if err := t.AddTrack(o.video); err != nil {
			_ = t.Close()
			return err
		}
	}

	peer := link.peerID
	current := func() bool {
		return o.links[peer] == link && link.transport == t
	}

	t.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		o.post(func() {
			if !current() {
				return
			}
			r, err := rpc.NewICECandidateRpc(peer, candidate)
			if err != nil {
				log.Warn().Err(err).Str("service", "orchestrator").Str("peerId", string(peer)).Msg("encode candidate")
				return
			}
			o.send(r)
		})
	})
	t.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		o.post(func() {
			if current() {
				o.handleTransportState(link, state)
			}
		})
	})
	t.OnTrack(func(track RemoteTrack) {
		o.post(func() {
			if current() {
				o.streams.addTrack(peer, track)
			}
		})
	})

	link.transport = t
	return nil
}

// replaceTransport closes the current transport and attaches a fresh one
func (o *Orchestrator) replaceTransport(link *PeerLink, clearCandidates bool) error {
	old := link.transport
	link.transport = nil
	if old != nil {
		if err := old.Close(); err != nil {
			log.Debug().Err(err).Str("service", "orchestrator").Str("peerId", string(link.peerID)).Msg("close replaced transport")
		}
	}

	if clearCandidates {
		link.candidates.Clear()
	}
	link.localOfferPending = false
	link.remoteApplied = false
	link.transportUp = false
	link.hasRemoteSession = false
	o.streams.remove(link.peerID)

	return o.attachTransport(link)
}

func (o *Orchestrator) handleTransportState(link *PeerLink, state webrtc.PeerConnectionState) {
	log.Debug().
		Str("service", "orchestrator").
		Str("peerId", string(link.peerID)).
		Str("state", state.String()).
		Msg("transport state changed")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		link.transportUp = true
		link.everConnected = true
		o.maybeEstablished(link)
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		o.failLink(link, "transport", fmt.Errorf("%w: %s", ErrTransportFailed, state))
	}
}

func (o *Orchestrator) maybeEstablished(link *PeerLink) {
	if link.state == LinkNegotiating && link.transportUp && link.negotiationComplete() {
		_ = o.setState(link, EventEstablished)
	}
}

func (o *Orchestrator) offer(link *PeerLink) {
	if err := o.setState(link, EventLocalOffer); err != nil {
		return
	}

	desc, err := link.transport.CreateOffer()
	if err != nil {
		o.failLink(link, "create-offer", err)
		return
	}
	r, err := rpc.NewSDPOfferRpc(link.peerID, desc)
	if err != nil {
		o.failLink(link, "create-offer", err)
		return
	}

	link.localOfferPending = true
	link.remoteApplied = false
	o.send(r)

	_ = o.setState(link, EventOfferSent)
}

func (o *Orchestrator) renegotiateAll() {
	for _, peer := range o.linkIDs() {
		if link := o.links[peer]; link.state == LinkConnected {
			o.offer(link)
		}
	}
}

func (o *Orchestrator) replaceVideo(track webrtc.TrackLocal) {
	o.video = track
	for _, peer := range o.linkIDs() {
		if err := o.links[peer].transport.ReplaceVideoTrack(track); err != nil {
			log.Warn().Err(err).Str("service", "orchestrator").Str("peerId", string(peer)).Msg("replace video track")
		}
	}
}

func (o *Orchestrator) setState(link *PeerLink, event LinkEvent) error {
	from := link.state
	to, err := Transition(from, event)
	if err != nil {
		log.Warn().Err(err).Str("service", "orchestrator").Str("peerId", string(link.peerID)).Msg("ignore event")
		return err
	}

	link.state = to
	o.statesLock.Lock()
	o.states[link.peerID] = to
	o.statesLock.Unlock()

	log.Debug().
		Str("service", "orchestrator").
		Str("peerId", string(link.peerID)).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("link state")

	if o.onLinkState != nil {
		o.onLinkState(link.peerID, from, to)
	}
	return nil
}

// failLink destroys the link and reports the failure
func (o *Orchestrator) failLink(link *PeerLink, op string, err error) {
	_ = o.setState(link, EventTransportFailed)
	o.destroyLink(link)
	o.publishError(link.peerID, op, err)
}

func (o *Orchestrator) closeLink(link *PeerLink) {
	_ = o.setState(link, EventClose)
	o.destroyLink(link)
}

func (o *Orchestrator) destroyLink(link *PeerLink) {
	if o.links[link.peerID] == link {
		delete(o.links, link.peerID)
	}
	o.statesLock.Lock()
	delete(o.states, link.peerID)
	o.statesLock.Unlock()

	if link.transport != nil {
		if err := link.transport.Close(); err != nil {
			log.Debug().Err(err).Str("service", "orchestrator").Str("peerId", string(link.peerID)).Msg("close transport")
		}
	}
	link.candidates.Clear()
	o.streams.remove(link.peerID)
}

func (o *Orchestrator) reset() {
	for _, peer := range o.linkIDs() {
		o.closeLink(o.links[peer])
	}
	o.roster.reset()
	o.streams.clear()
}

func (o *Orchestrator) publishError(peer core.ConnectionID, op string, err error) {
	peerErr := PeerError{PeerID: peer, Op: op, Err: err}
	log.Error().Err(err).Str("service", "orchestrator").Str("peerId", string(peer)).Str("op", op).Msg("link failed")
	telemetry.ServiceOperationCounter.WithLabelValues("peer_link", "failure", op).Inc()

	select {
	case o.errors <- peerErr:
	default:
		log.Warn().Str("service", "orchestrator").Msg("errors channel is full")
	}
}

func (o *Orchestrator) send(r rpc.Rpc) {
	if err := o.signaler.Send(r); err != nil {
		log.Warn().Err(err).Str("service", "orchestrator").Str("method", string(r.GetMethod())).Msg("send rpc")
	}
}

// linkIDs returns link keys in a stable order
func (o *Orchestrator) linkIDs() []core.ConnectionID {
	ids := make([]core.ConnectionID, 0, len(o.links))
	for id := range o.links {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
