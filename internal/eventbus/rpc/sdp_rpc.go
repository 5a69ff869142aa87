package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"

	"github.com/isqad/livelook-meet/internal/core"
)

// SignalTarget addresses a peer-to-peer message.
// Senders fill TargetConnectionID, the relay stamps FromID before forwarding.
type SignalTarget struct {
	TargetConnectionID core.ConnectionID `json:"targetConnectionId,omitempty"`
	FromID             core.ConnectionID `json:"fromId,omitempty"`
}

type SDPParams struct {
	SignalTarget
	SDP json.RawMessage `json:"sdp"`
}

// SessionDescription decodes the opaque payload
func (p SDPParams) SessionDescription() (webrtc.SessionDescription, error) {
	desc := webrtc.SessionDescription{}
	if err := json.Unmarshal(p.SDP, &desc); err != nil {
		return desc, fmt.Errorf("%w: sdp: %v", ErrMalformedRpc, err)
	}
	return desc, nil
}

// SDP RPC
type SDPRpc struct {
	jsonRpcHead
	Params SDPParams `json:"params"`
}

func NewSDPOfferRpc(target core.ConnectionID, sdp webrtc.SessionDescription) (*SDPRpc, error) {
	return newSDPRpc(SDPOfferMethod, target, sdp)
}

func NewSDPAnswerRpc(target core.ConnectionID, sdp webrtc.SessionDescription) (*SDPRpc, error) {
	return newSDPRpc(SDPAnswerMethod, target, sdp)
}

func newSDPRpc(method Method, target core.ConnectionID, sdp webrtc.SessionDescription) (*SDPRpc, error) {
	payload, err := encode(sdp)
	if err != nil {
		return nil, err
	}

	return &SDPRpc{
		jsonRpcHead: head(method),
		Params: SDPParams{
			SignalTarget: SignalTarget{TargetConnectionID: target},
			SDP:          payload,
		},
	}, nil
}

// From returns a copy stamped with the sender, the payload is shared untouched
func (r SDPRpc) From(sender core.ConnectionID) *SDPRpc {
	r.Params.FromID = sender
	return &r
}

func (r SDPRpc) ToJSON() ([]byte, error) {
	return encode(r)
}
