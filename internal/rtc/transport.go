package rtc

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-meet/internal/config"
	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/telemetry"
)

const (
	rtcpPLIInterval            = time.Second * 3
	dtlsRetransmissionInterval = 100 * time.Millisecond
	mtu                        = 1400
	iceDisconnectedTimeout     = 10 * time.Second
	iceFailedTimeout           = 25 * time.Second // pion's default
	iceKeepaliveInterval       = 2 * time.Second  // pion's default
)

var (
	ErrNoVideoSender     = errors.New("transport has no video sender")
	ErrNothingToRollback = errors.New("no pending local offer")
)

// RemoteTrack describes one media track received from a peer
type RemoteTrack struct {
	ID       string              `json:"id"`
	StreamID string              `json:"streamId"`
	Kind     webrtc.RTPCodecType `json:"kind"`
}

// PacketSink receives every RTP packet read from remote tracks
type PacketSink func(peer core.ConnectionID, track RemoteTrack, pkt *rtp.Packet)

// Transport is the media connection of a single peer link
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	// Rollback discards a local offer that has not been answered
	Rollback() error
	AddTrack(track webrtc.TrackLocal) error
	ReplaceVideoTrack(track webrtc.TrackLocal) error

	OnICECandidate(f func(webrtc.ICECandidateInit))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(RemoteTrack))

	Close() error
}

// TransportFactory creates a fresh transport for the given peer
type TransportFactory func(peer core.ConnectionID) (Transport, error)

type TransportParams struct {
	EnabledCodecs []config.CodecSpec
	Config        *config.WebRTCConfig
	Sink          PacketSink
}

// NewPCTransportFactory returns a factory of pion backed transports
func NewPCTransportFactory(params TransportParams) TransportFactory {
	return func(peer core.ConnectionID) (Transport, error) {
		return NewPCTransport(peer, params)
	}
}

type PCTransport struct {
	peer core.ConnectionID
	pc   *webrtc.PeerConnection
	sink PacketSink

	lock        sync.Mutex
	videoSender *webrtc.RTPSender
	onTrack     func(RemoteTrack)

	done chan struct{}
	once sync.Once
}

func NewPCTransport(peer core.ConnectionID, params TransportParams) (*PCTransport, error) {
	pc, err := newPeerConnection(params)
	if err != nil {
		return nil, err
	}

	t := &PCTransport{
		peer: peer,
		pc:   pc,
		sink: params.Sink,
		done: make(chan struct{}),
	}

	t.pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		if state == webrtc.ICEGathererStateComplete {
			log.Debug().Str("service", "transport").Str("peerId", string(peer)).Msg("ice gathering complete")
		}
	})
	t.pc.OnTrack(t.handleTrack)

	return t, nil
}

func newPeerConnection(params TransportParams) (*webrtc.PeerConnection, error) {
	me, registry, err := newMediaEngine(params.EnabledCodecs, params.Config.Publisher)
	if err != nil {
		return nil, err
	}

	se := params.Config.SettingEngine
	se.DisableMediaEngineCopy(true)
	se.DisableSRTPReplayProtection(true)
	se.DisableSRTCPReplayProtection(true)
	se.SetDTLSRetransmissionInterval(dtlsRetransmissionInterval)
	se.SetReceiveMTU(mtu)
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	return api.NewPeerConnection(params.Config.Configuration)
}

func (t *PCTransport) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return offer, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return offer, err
	}
	return offer, nil
}

func (t *PCTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return answer, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return answer, err
	}
	return answer, nil
}

func (t *PCTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *PCTransport) HasRemoteDescription() bool {
	return t.pc.RemoteDescription() != nil
}

func (t *PCTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

func (t *PCTransport) Rollback() error {
	pending := t.pc.PendingLocalDescription()
	if pending == nil || pending.Type != webrtc.SDPTypeOffer {
		return ErrNothingToRollback
	}
	// pion treats an empty sdp as "reuse the last one", which is undefined for rollback
	return t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback, SDP: pending.SDP})
}

func (t *PCTransport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return err
	}

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		t.lock.Lock()
		t.videoSender = sender
		t.lock.Unlock()
	}

	// Read incoming RTCP packets
	// Before these packets are returned they are processed by interceptors. For things
	// like NACK this needs to be called.
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}()

	return nil
}

func (t *PCTransport) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	t.lock.Lock()
	sender := t.videoSender
	t.lock.Unlock()

	if sender == nil {
		return ErrNoVideoSender
	}
	return sender.ReplaceTrack(track)
}

func (t *PCTransport) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		f(c.ToJSON())
	})
}

func (t *PCTransport) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	t.pc.OnConnectionStateChange(f)
}

func (t *PCTransport) OnTrack(f func(RemoteTrack)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.onTrack = f
}

func (t *PCTransport) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	remote := RemoteTrack{
		ID:       track.ID(),
		StreamID: track.StreamID(),
		Kind:     track.Kind(),
	}

	log.Debug().
		Str("service", "transport").
		Str("peerId", string(t.peer)).
		Str("trackId", remote.ID).
		Str("codec", track.Codec().MimeType).
		Msg("remote track started")

	t.lock.Lock()
	onTrack := t.onTrack
	t.lock.Unlock()
	if onTrack != nil {
		onTrack(remote)
	}

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go t.sendPLI(track)
	}

	kind := track.Kind().String()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		telemetry.RTPPacketsCounter.WithLabelValues(kind).Inc()
		if t.sink != nil {
			t.sink(t.peer, remote, pkt)
		}
	}
}

// sendPLI asks the sender for a keyframe periodically so late decoders can start
func (t *PCTransport) sendPLI(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(rtcpPLIInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			err := t.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
			if err != nil {
				log.Debug().Err(err).Str("service", "transport").Str("peerId", string(t.peer)).Msg("write PLI")
				return
			}
		}
	}
}

func (t *PCTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
	})
	return t.pc.Close()
}
