package rtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus/rpc"
)

const (
	a1 = core.ConnectionID("a1")
	a2 = core.ConnectionID("a2")
	a3 = core.ConnectionID("a3")
)

func assertConnected(t *testing.T, p *participantHarness, peers ...core.ConnectionID) {
	t.Helper()
	for _, peer := range peers {
		state, err := p.o.LinkState(peer)
		assert.Nil(t, err)
		assert.Equal(t, LinkConnected, state, "link to %s", peer)
	}
}

func TestNewOrchestratorRequiresMedia(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorParams{})
	assert.True(t, errors.Is(err, ErrNoLocalMedia))
}

func TestExistingMemberOffersToNewcomer(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	p2 := m.join(a2)
	m.settle()

	assertConnected(t, p1, a2)
	assertConnected(t, p2, a1)
	assert.Equal(t, 1, m.count(rpc.SDPOfferMethod))
	assert.Equal(t, 1, m.count(rpc.SDPAnswerMethod))

	assert.Equal(t, []LinkState{LinkOffering, LinkNegotiating, LinkConnected}, p1.statesTowards(a2))
	assert.Equal(t, []LinkState{LinkAnswering, LinkNegotiating, LinkConnected}, p2.statesTowards(a1))

	// candidates crossed over
	assert.Len(t, p1.last(a2).candidates, 1)
	assert.Len(t, p2.last(a1).candidates, 1)

	// both sides see each other
	assert.Equal(t, []RemoteStream{{PeerID: a2, Tracks: []RemoteTrack{{ID: "camera", StreamID: string(a2), Kind: webrtc.RTPCodecTypeVideo}}}}, p1.o.Streams().Snapshot())
	assert.Len(t, p2.o.Streams().Snapshot(), 1)

	roster := p2.o.Roster().Snapshot()
	assert.Len(t, roster, 2)
	assert.Equal(t, a1, roster[0].ConnectionID)
	assert.False(t, roster[0].IsSelf)
	assert.Equal(t, a2, roster[1].ConnectionID)
	assert.True(t, roster[1].IsSelf)
}

func TestThreePartyMesh(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	p2 := m.join(a2)
	m.settle()
	p3 := m.join(a3)
	m.settle()

	assertConnected(t, p1, a2, a3)
	assertConnected(t, p2, a1, a3)
	assertConnected(t, p3, a1, a2)

	// a3 never initiates
	assert.Equal(t, []LinkState{LinkAnswering, LinkNegotiating, LinkConnected}, p3.statesTowards(a1))
	assert.Equal(t, []LinkState{LinkAnswering, LinkNegotiating, LinkConnected}, p3.statesTowards(a2))
	assert.Equal(t, 3, m.count(rpc.SDPOfferMethod))
	assert.Equal(t, 3, m.count(rpc.SDPAnswerMethod))

	roster := p3.o.Roster().Snapshot()
	assert.Equal(t, []core.ConnectionID{a1, a2, a3}, []core.ConnectionID{roster[0].ConnectionID, roster[1].ConnectionID, roster[2].ConnectionID})
}

func TestCandidatesQueuedUntilOffer(t *testing.T) {
	m := newMeeting(t)
	p := m.add(a2)
	p.o.Dispatch(rpc.NewConnectedRpc(a2))
	p.o.Dispatch(rpc.NewParticipantsListRpc([]core.Participant{{ConnectionID: a1, DisplayName: "A"}}))
	p.o.drain()

	for _, c := range []string{"c1", "c2", "c3"} {
		r, err := rpc.NewICECandidateRpc(a2, webrtc.ICECandidateInit{Candidate: c})
		assert.Nil(t, err)
		p.o.Dispatch(r.From(a1))
	}
	p.o.drain()

	transport := p.last(a1)
	assert.Empty(t, transport.candidates)

	offer, err := rpc.NewSDPOfferRpc(a2, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fakeSDP(100, 1)})
	assert.Nil(t, err)
	p.o.Dispatch(offer.From(a1))
	p.o.drain()

	assert.Equal(t, []webrtc.ICECandidateInit{{Candidate: "c1"}, {Candidate: "c2"}, {Candidate: "c3"}}, transport.candidates)

	// applied straight away once the remote description is known
	r, err := rpc.NewICECandidateRpc(a2, webrtc.ICECandidateInit{Candidate: "c4"})
	assert.Nil(t, err)
	p.o.Dispatch(r.From(a1))
	p.o.drain()
	assert.Len(t, transport.candidates, 4)
}

func TestCandidateForUnknownPeerDropped(t *testing.T) {
	m := newMeeting(t)
	p := m.add(a1)
	p.o.Dispatch(rpc.NewConnectedRpc(a1))

	r, err := rpc.NewICECandidateRpc(a1, webrtc.ICECandidateInit{Candidate: "c1"})
	assert.Nil(t, err)
	p.o.Dispatch(r.From("ghost"))
	p.o.drain()

	_, err = p.o.LinkState("ghost")
	assert.True(t, errors.Is(err, ErrUnknownPeer))
	assert.Empty(t, p.transports["ghost"])
}

func TestGlareOnRenegotiation(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	p2 := m.join(a2)
	m.settle()
	m.resetLog()

	p1.o.RenegotiateAll()
	p2.o.RenegotiateAll()
	m.settle()

	assert.Equal(t, 2, m.count(rpc.SDPOfferMethod))
	assert.Equal(t, 1, m.count(rpc.SDPAnswerMethod))
	// the higher id rolls back, the lower keeps its offer
	assert.Equal(t, 1, p2.last(a1).rollbacks)
	assert.Equal(t, 0, p1.last(a2).rollbacks)
	assert.Len(t, p1.transports[a2], 1)
	assert.Len(t, p2.transports[a1], 1)

	assertConnected(t, p1, a2)
	assertConnected(t, p2, a1)
}

func TestGlareOnFreshLinksReplacesTransport(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	p2 := m.join(a2)
	m.settle()
	m.resetLog()

	p1.o.ReconnectAll()
	p2.o.ReconnectAll()
	m.settle()

	assert.Equal(t, 2, m.count(rpc.SDPOfferMethod))
	assert.Equal(t, 1, m.count(rpc.SDPAnswerMethod))

	// a2 created a link for reconnecting, then replaced its transport on yield
	assert.Len(t, p2.transports[a1], 3)
	assert.Len(t, p1.transports[a2], 2)
	for _, tr := range p2.transports[a1][:2] {
		assert.True(t, tr.closed)
	}

	assertConnected(t, p1, a2)
	assertConnected(t, p2, a1)
}

func TestRemoteRestartReplacesTransport(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	p2 := m.join(a2)
	m.settle()

	old := p1.last(a2)
	p2.o.ReconnectAll()
	m.settle()

	assert.True(t, old.closed)
	assert.Len(t, p1.transports[a2], 2)
	assert.NotEqual(t, old.session, p1.last(a2).session)
	assertConnected(t, p1, a2)
	assertConnected(t, p2, a1)
}

// assertPaired checks that the live transports of both sides carry each other's description
func assertPaired(t *testing.T, p1 *participantHarness, id1 core.ConnectionID, p2 *participantHarness, id2 core.ConnectionID) {
	t.Helper()

	t1, t2 := p1.last(id2), p2.last(id1)
	assert.False(t, t1.closed)
	assert.False(t, t2.closed)

	remote1, err := originSessionID(t1.remote.SDP)
	assert.Nil(t, err)
	remote2, err := originSessionID(t2.remote.SDP)
	assert.Nil(t, err)
	assert.Equal(t, t2.session, remote1, "%s applied a description of a closed transport", id1)
	assert.Equal(t, t1.session, remote2, "%s applied a description of a closed transport", id2)
}

func TestRenegotiationCrossesReconnect(t *testing.T) {
	t.Run("lower id renegotiates", func(t *testing.T) {
		m := newMeeting(t)
		p1 := m.join(a1)
		m.settle()
		p2 := m.join(a2)
		m.settle()
		m.resetLog()

		p1.o.RenegotiateAll()
		p2.o.ReconnectAll()
		m.settle()

		// a1 offers again from a fresh transport, a2 yields to it
		assert.Equal(t, 3, m.count(rpc.SDPOfferMethod))
		assert.Equal(t, 1, m.count(rpc.SDPAnswerMethod))
		assert.Len(t, p1.transports[a2], 2)
		assert.Len(t, p2.transports[a1], 3)

		assertPaired(t, p1, a1, p2, a2)
		assertConnected(t, p1, a2)
		assertConnected(t, p2, a1)
	})

	t.Run("higher id renegotiates", func(t *testing.T) {
		m := newMeeting(t)
		p1 := m.join(a1)
		m.settle()
		p2 := m.join(a2)
		m.settle()
		m.resetLog()

		p2.o.RenegotiateAll()
		p1.o.ReconnectAll()
		m.settle()

		// the stale renegotiation offer is dropped, a2 answers the fresh one
		assert.Equal(t, 2, m.count(rpc.SDPOfferMethod))
		assert.Equal(t, 1, m.count(rpc.SDPAnswerMethod))
		assert.Len(t, p1.transports[a2], 2)
		assert.Len(t, p2.transports[a1], 2)

		assertPaired(t, p1, a1, p2, a2)
		assertConnected(t, p1, a2)
		assertConnected(t, p2, a1)
	})
}

func TestParticipantsListAfterJoinedKeepsRoster(t *testing.T) {
	m := newMeeting(t)
	p2 := m.add(a2)

	p2.o.Dispatch(rpc.NewConnectedRpc(a2))
	p2.o.Dispatch(rpc.NewParticipantJoinedRpc(a3, "user a3"))
	p2.o.Dispatch(rpc.NewParticipantsListRpc([]core.Participant{{ConnectionID: a1, DisplayName: "user a1"}}))
	p2.o.drain()

	_, err := p2.o.LinkState(a3)
	assert.Nil(t, err)

	ids := []core.ConnectionID{}
	for _, e := range p2.o.Roster().Snapshot() {
		ids = append(ids, e.ConnectionID)
	}
	assert.Equal(t, []core.ConnectionID{a1, a3, a2}, ids)

	p2.o.Dispatch(rpc.NewMediaStateUpdatedRpc(a3, true, false))
	p2.o.drain()
	entry, ok := p2.o.Roster().Get(a3)
	assert.True(t, ok)
	assert.True(t, entry.IsMuted)

	p2.o.ReconnectAll()
	p2.o.drain()
	assert.Len(t, p2.transports[a1], 2)
	assert.Len(t, p2.transports[a3], 2)
}

func TestStopScreenShareWithoutCamera(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	p1.media.Camera = nil

	assert.Nil(t, p1.sync.StartScreenShare(nil))
	m.settle()
	assert.True(t, p1.media.Screen.Enabled())

	p1.sync.StopScreenShare()
	m.settle()

	assert.False(t, p1.sync.State().IsScreenSharing)
	assert.False(t, p1.media.Screen.Enabled())
	assert.Equal(t, 1, m.count(rpc.ScreenShareEndMethod))

	// sharing again turns the track back on
	assert.Nil(t, p1.sync.StartScreenShare(nil))
	m.settle()
	assert.True(t, p1.media.Screen.Enabled())
}

func TestMuteDoesNotRenegotiate(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	p2 := m.join(a2)
	m.settle()
	m.resetLog()
	before := len(p1.transitions)

	p1.sync.SetMuted(true)
	p1.sync.SetVideoOff(true)
	m.settle()

	assert.Equal(t, 2, m.count(rpc.MediaStateChangeMethod))
	assert.Equal(t, 0, m.count(rpc.SDPOfferMethod))
	assert.Equal(t, before, len(p1.transitions))
	assert.False(t, p1.media.Audio.Enabled())
	assert.False(t, p1.media.Camera.Enabled())
	assert.Equal(t, core.MediaState{IsMuted: true, IsVideoOff: true}, p1.sync.State())

	entry, ok := p2.o.Roster().Get(a1)
	assert.True(t, ok)
	assert.True(t, entry.IsMuted)
	assert.True(t, entry.IsVideoOff)

	self, _ := p1.o.Roster().Get(a1)
	assert.True(t, self.IsMuted)

	p1.sync.SetMuted(false)
	m.settle()
	assert.True(t, p1.media.Audio.Enabled())
	entry, _ = p2.o.Roster().Get(a1)
	assert.False(t, entry.IsMuted)
}

func TestScreenShareRenegotiates(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	p2 := m.join(a2)
	m.settle()
	m.resetLog()
	before := len(p1.transitions)

	assert.Nil(t, p1.sync.StartScreenShare(nil))
	m.settle()

	assert.Equal(t, 1, m.count(rpc.ScreenShareStartMethod))
	assert.Equal(t, 1, m.count(rpc.SDPOfferMethod))
	assert.Equal(t, webrtc.TrackLocal(p1.media.Screen), p1.last(a2).video)
	assert.Equal(t, []LinkState{LinkOffering, LinkNegotiating, LinkConnected}, statesOf(p1.transitions[before:]))
	assertConnected(t, p1, a2)

	entry, _ := p2.o.Roster().Get(a1)
	assert.True(t, entry.IsScreenSharing)
	assert.True(t, p1.sync.State().IsScreenSharing)

	// starting twice is a no-op
	assert.Nil(t, p1.sync.StartScreenShare(nil))
	m.settle()
	assert.Equal(t, 1, m.count(rpc.ScreenShareStartMethod))

	p1.sync.StopScreenShare()
	m.settle()

	assert.Equal(t, 1, m.count(rpc.ScreenShareEndMethod))
	assert.Equal(t, 2, m.count(rpc.SDPOfferMethod))
	assert.Equal(t, webrtc.TrackLocal(p1.media.Camera), p1.last(a2).video)
	entry, _ = p2.o.Roster().Get(a1)
	assert.False(t, entry.IsScreenSharing)
	assertConnected(t, p2, a1)
}

func TestNewcomerGetsCurrentVideoSource(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	assert.Nil(t, p1.sync.StartScreenShare(nil))
	m.settle()

	m.join(a2)
	m.settle()

	assert.Equal(t, webrtc.TrackLocal(p1.media.Screen), p1.last(a2).video)
}

func statesOf(transitions []transition) []LinkState {
	states := []LinkState{}
	for _, tr := range transitions {
		states = append(states, tr.to)
	}
	return states
}

func TestLeaveWhileNegotiating(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	m.join(a2)

	// a1 offers, a2 never answers
	p1.o.drain()
	state, err := p1.o.LinkState(a2)
	assert.Nil(t, err)
	assert.Equal(t, LinkNegotiating, state)

	m.leave(a2)
	m.settle()

	_, err = p1.o.LinkState(a2)
	assert.True(t, errors.Is(err, ErrUnknownPeer))
	assert.Equal(t, LinkClosed, p1.statesTowards(a2)[len(p1.statesTowards(a2))-1])
	assert.True(t, p1.last(a2).closed)
	assert.Empty(t, p1.o.Streams().Snapshot())

	_, ok := p1.o.Roster().Get(a2)
	assert.False(t, ok)
}

func TestLeaveRemovesStream(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	m.join(a2)
	m.settle()
	p3 := m.join(a3)
	m.settle()

	m.leave(a2)
	m.settle()

	streams := p3.o.Streams().Snapshot()
	assert.Len(t, streams, 1)
	assert.Equal(t, a1, streams[0].PeerID)
	assertConnected(t, p1, a3)
	assert.Len(t, p1.o.Roster().Snapshot(), 2)
}

func TestTransportFailureDestroysOnlyThatLink(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	m.join(a2)
	m.settle()
	m.join(a3)
	m.settle()

	p1.last(a2).fail()
	m.settle()

	_, err := p1.o.LinkState(a2)
	assert.True(t, errors.Is(err, ErrUnknownPeer))
	assert.Contains(t, p1.statesTowards(a2), LinkFailed)
	assertConnected(t, p1, a3)

	select {
	case peerErr := <-p1.o.Errors():
		assert.Equal(t, a2, peerErr.PeerID)
		assert.Equal(t, "transport", peerErr.Op)
		assert.True(t, errors.Is(peerErr, ErrTransportFailed))
	default:
		t.Fatal("expected a peer error")
	}

	streams := p1.o.Streams().Snapshot()
	assert.Len(t, streams, 1)
	assert.Equal(t, a3, streams[0].PeerID)
}

func TestNegotiationFailureReported(t *testing.T) {
	m := newMeeting(t)
	p := m.add(a2)
	p.o.Dispatch(rpc.NewConnectedRpc(a2))

	offer, err := rpc.NewSDPOfferRpc(a2, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "not sdp"})
	assert.Nil(t, err)
	p.o.Dispatch(offer.From(a1))
	p.o.drain()

	_, err = p.o.LinkState(a1)
	assert.True(t, errors.Is(err, ErrUnknownPeer))

	peerErr := <-p.o.Errors()
	assert.Equal(t, "apply-offer", peerErr.Op)
	assert.True(t, p.last(a1).closed)
}

func TestReconnectedSessionResetsLinks(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	m.join(a2)
	m.settle()

	transport := p1.last(a2)
	p1.o.Dispatch(rpc.NewConnectedRpc("a9"))
	p1.o.drain()

	assert.True(t, transport.closed)
	_, err := p1.o.LinkState(a2)
	assert.True(t, errors.Is(err, ErrUnknownPeer))

	roster := p1.o.Roster().Snapshot()
	assert.Len(t, roster, 1)
	assert.Equal(t, core.ConnectionID("a9"), roster[0].ConnectionID)
	assert.True(t, roster[0].IsSelf)
}

func TestCloseReleasesLinks(t *testing.T) {
	m := newMeeting(t)
	p1 := m.join(a1)
	m.settle()
	m.join(a2)
	m.settle()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		p1.o.Run(ctx)
		close(stopped)
	}()

	transport := p1.last(a2)
	p1.o.Close()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	assert.True(t, transport.closed)
	_, err := p1.o.LinkState(a2)
	assert.True(t, errors.Is(err, ErrUnknownPeer))
	assert.Empty(t, p1.o.Streams().Snapshot())

	// ignored after close
	p1.o.Dispatch(rpc.NewParticipantJoinedRpc(a3, "late"))
	assert.True(t, p1.o.idle())

	_, open := <-p1.o.Errors()
	assert.False(t, open)

	// second close is a no-op
	p1.o.Close()
}

func TestRunProcessesEvents(t *testing.T) {
	m := newMeeting(t)
	p := m.add(a1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.o.Run(ctx)

	p.o.Dispatch(rpc.NewConnectedRpc(a1))

	assert.Eventually(t, func() bool {
		_, ok := p.o.Roster().Get(a1)
		return ok
	}, time.Second, 10*time.Millisecond)

	p.o.Close()
}
