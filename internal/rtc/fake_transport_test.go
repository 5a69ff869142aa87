package rtc

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus"
	"github.com/isqad/livelook-meet/internal/eventbus/rpc"
	"github.com/isqad/livelook-meet/internal/registry"
	"github.com/isqad/livelook-meet/internal/relay"
)

const (
	stable          = "stable"
	haveLocalOffer  = "have-local-offer"
	haveRemoteOffer = "have-remote-offer"
)

var errWrongSignalingState = errors.New("wrong signaling state")

// fakeTransport follows the signaling state rules of a peer connection and
// fires its callbacks synchronously
type fakeTransport struct {
	owner   core.ConnectionID
	peer    core.ConnectionID
	session uint64
	version int

	signaling  string
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	emitted    int
	tracks     []webrtc.TrackLocal
	video      webrtc.TrackLocal
	rollbacks  int
	connected  bool
	closed     bool
	trackFired bool

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(RemoteTrack)
}

func fakeSDP(session uint64, version int) string {
	return fmt.Sprintf("v=0\r\no=- %d %d IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n", session, version)
}

func (t *fakeTransport) describe(sdpType webrtc.SDPType) webrtc.SessionDescription {
	t.version++
	return webrtc.SessionDescription{Type: sdpType, SDP: fakeSDP(t.session, t.version)}
}

func (t *fakeTransport) gather() {
	t.emitted++
	if t.onCandidate != nil {
		t.onCandidate(webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%s-%d-%d", t.owner, t.session, t.emitted)})
	}
}

func (t *fakeTransport) maybeConnect() {
	if t.connected || t.remote == nil {
		return
	}
	t.connected = true
	if t.onState != nil {
		t.onState(webrtc.PeerConnectionStateConnected)
	}
}

func (t *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	if t.signaling != stable {
		return webrtc.SessionDescription{}, errWrongSignalingState
	}
	offer := t.describe(webrtc.SDPTypeOffer)
	t.signaling = haveLocalOffer
	t.gather()
	return offer, nil
}

func (t *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	if t.signaling != haveRemoteOffer {
		return webrtc.SessionDescription{}, errWrongSignalingState
	}
	answer := t.describe(webrtc.SDPTypeAnswer)
	t.signaling = stable
	t.gather()
	t.maybeConnect()
	return answer, nil
}

func (t *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if t.signaling != stable {
			return errWrongSignalingState
		}
		t.signaling = haveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if t.signaling != haveLocalOffer {
			return errWrongSignalingState
		}
		t.signaling = stable
	}

	t.remote = &desc
	if !t.trackFired && t.onTrack != nil {
		t.trackFired = true
		t.onTrack(RemoteTrack{ID: "camera", StreamID: string(t.peer), Kind: webrtc.RTPCodecTypeVideo})
	}
	if desc.Type == webrtc.SDPTypeAnswer {
		t.maybeConnect()
	}
	return nil
}

func (t *fakeTransport) HasRemoteDescription() bool {
	return t.remote != nil
}

func (t *fakeTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if t.remote == nil {
		return errWrongSignalingState
	}
	t.candidates = append(t.candidates, candidate)
	return nil
}

func (t *fakeTransport) Rollback() error {
	if t.signaling != haveLocalOffer {
		return errWrongSignalingState
	}
	t.signaling = stable
	t.rollbacks++
	return nil
}

func (t *fakeTransport) AddTrack(track webrtc.TrackLocal) error {
	t.tracks = append(t.tracks, track)
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		t.video = track
	}
	return nil
}

func (t *fakeTransport) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	if t.video == nil {
		return ErrNoVideoSender
	}
	t.video = track
	return nil
}

func (t *fakeTransport) OnICECandidate(f func(webrtc.ICECandidateInit)) { t.onCandidate = f }

func (t *fakeTransport) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	t.onState = f
}

func (t *fakeTransport) OnTrack(f func(RemoteTrack)) { t.onTrack = f }

func (t *fakeTransport) fail() {
	t.onState(webrtc.PeerConnectionStateFailed)
}

func (t *fakeTransport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.onState != nil {
		t.onState(webrtc.PeerConnectionStateClosed)
	}
	return nil
}

type sentRpc struct {
	from   core.ConnectionID
	method rpc.Method
}

type transition struct {
	peer core.ConnectionID
	from LinkState
	to   LinkState
}

type participantHarness struct {
	o           *Orchestrator
	sync        *MediaSync
	media       *LocalMedia
	transports  map[core.ConnectionID][]*fakeTransport
	transitions []transition
}

// last returns the current transport towards peer
func (p *participantHarness) last(peer core.ConnectionID) *fakeTransport {
	ts := p.transports[peer]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

func (p *participantHarness) statesTowards(peer core.ConnectionID) []LinkState {
	states := []LinkState{}
	for _, tr := range p.transitions {
		if tr.peer == peer {
			states = append(states, tr.to)
		}
	}
	return states
}

// meeting runs orchestrators against the real relay and registry
type meeting struct {
	t       *testing.T
	room    core.RoomID
	relay   *relay.Relay
	session uint64

	mu      sync.Mutex
	order   []core.ConnectionID
	clients map[core.ConnectionID]*participantHarness
	sent    []sentRpc
}

func newMeeting(t *testing.T) *meeting {
	m := &meeting{
		t:       t,
		room:    "abc123",
		clients: make(map[core.ConnectionID]*participantHarness),
	}
	m.relay = relay.New(registry.New(), m)
	return m
}

// PublishClient delivers server messages through the wire format
func (m *meeting) PublishClient(connID core.ConnectionID, r rpc.Rpc) error {
	m.mu.Lock()
	p, ok := m.clients[connID]
	m.mu.Unlock()
	if !ok {
		return eventbus.ErrNoSubscriber
	}

	b, err := r.ToJSON()
	if err != nil {
		return err
	}
	parsed, err := rpc.RpcFromBytes(b)
	if err != nil {
		return err
	}
	p.o.Dispatch(parsed)
	return nil
}

type clientSignaler struct {
	m  *meeting
	id core.ConnectionID
}

func (s clientSignaler) Send(r rpc.Rpc) error {
	b, err := r.ToJSON()
	if err != nil {
		return err
	}

	s.m.mu.Lock()
	s.m.sent = append(s.m.sent, sentRpc{from: s.id, method: r.GetMethod()})
	s.m.mu.Unlock()

	s.m.relay.HandleMessage(s.id, b)
	return nil
}

func (m *meeting) add(id core.ConnectionID) *participantHarness {
	media, err := NewLocalMedia(string(id))
	if err != nil {
		m.t.Fatal(err)
	}

	p := &participantHarness{
		media:      media,
		transports: make(map[core.ConnectionID][]*fakeTransport),
	}

	factory := func(peer core.ConnectionID) (Transport, error) {
		m.session++
		t := &fakeTransport{owner: id, peer: peer, session: m.session, signaling: stable}
		p.transports[peer] = append(p.transports[peer], t)
		return t, nil
	}

	o, err := NewOrchestrator(OrchestratorParams{
		Signaler:    clientSignaler{m: m, id: id},
		Transports:  factory,
		Media:       media,
		DisplayName: "user " + string(id),
	})
	if err != nil {
		m.t.Fatal(err)
	}
	o.OnLinkState(func(peer core.ConnectionID, from, to LinkState) {
		p.transitions = append(p.transitions, transition{peer: peer, from: from, to: to})
	})

	p.o = o
	p.sync = NewMediaSync(o)

	m.mu.Lock()
	m.clients[id] = p
	m.order = append(m.order, id)
	m.mu.Unlock()

	return p
}

// join connects a new client to the room like the websocket handler does
func (m *meeting) join(id core.ConnectionID) *participantHarness {
	p := m.add(id)
	m.relay.Connect(id, m.room, "user "+string(id))
	return p
}

func (m *meeting) leave(id core.ConnectionID) {
	m.mu.Lock()
	delete(m.clients, id)
	m.mu.Unlock()

	m.relay.Disconnect(id)
}

func (o *Orchestrator) idle() bool {
	o.queueLock.Lock()
	defer o.queueLock.Unlock()
	return len(o.queue) == 0
}

// settle drains every client until no events are left
func (m *meeting) settle() {
	m.t.Helper()

	for i := 0; i < 100; i++ {
		busy := false
		for _, id := range m.order {
			m.mu.Lock()
			p, ok := m.clients[id]
			m.mu.Unlock()
			if !ok || p.o.idle() {
				continue
			}
			busy = true
			p.o.drain()
		}
		if !busy {
			return
		}
	}
	m.t.Fatal("meeting did not settle")
}

func (m *meeting) count(method rpc.Method) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.sent {
		if s.method == method {
			n++
		}
	}
	return n
}

func (m *meeting) resetLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
