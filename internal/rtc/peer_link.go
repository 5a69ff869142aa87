package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"

	"github.com/isqad/livelook-meet/internal/core"
)

var (
	ErrUnknownPeer     = errors.New("unknown peer")
	ErrTransportFailed = errors.New("transport failed")
)

// PeerError reports a failure that destroyed one link, other links are untouched
type PeerError struct {
	PeerID core.ConnectionID
	Op     string
	Err    error
}

func (e PeerError) Error() string {
	return fmt.Sprintf("peer %s: %s: %v", e.PeerID, e.Op, e.Err)
}

func (e PeerError) Unwrap() error {
	return e.Err
}

// PeerLink is the negotiation state towards one remote participant.
// It is owned by the orchestrator loop.
type PeerLink struct {
	peerID     core.ConnectionID
	state      LinkState
	transport  Transport
	candidates *CandidateQueue

	// origin session id of the last remote description
	remoteSession    uint64
	hasRemoteSession bool
	// session of the connection this link was rebuilt from, offers from it are stale
	staleSession    uint64
	hasStaleSession bool

	localOfferPending bool
	remoteApplied     bool
	transportUp       bool
	everConnected     bool
}

func newPeerLink(peer core.ConnectionID) *PeerLink {
	return &PeerLink{
		peerID:     peer,
		state:      LinkIdle,
		candidates: NewCandidateQueue(),
	}
}

func (l *PeerLink) State() LinkState {
	return l.state
}

// negotiationComplete is true when both descriptions of the current round are applied
func (l *PeerLink) negotiationComplete() bool {
	return l.remoteApplied && !l.localOfferPending
}

func originSessionID(raw string) (uint64, error) {
	sd := sdp.SessionDescription{}
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return 0, err
	}
	return sd.Origin.SessionID, nil
}
