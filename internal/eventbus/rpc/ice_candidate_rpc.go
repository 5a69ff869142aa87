package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"

	"github.com/isqad/livelook-meet/internal/core"
)

type ICECandidateParams struct {
	SignalTarget
	Candidate json.RawMessage `json:"candidate"`
}

func (p ICECandidateParams) ICECandidate() (webrtc.ICECandidateInit, error) {
	c := webrtc.ICECandidateInit{}
	if err := json.Unmarshal(p.Candidate, &c); err != nil {
		return c, fmt.Errorf("%w: candidate: %v", ErrMalformedRpc, err)
	}
	return c, nil
}

// ICE candidate RPC
type ICECandidateRpc struct {
	jsonRpcHead
	Params ICECandidateParams `json:"params"`
}

func NewICECandidateRpc(target core.ConnectionID, candidate webrtc.ICECandidateInit) (*ICECandidateRpc, error) {
	payload, err := encode(candidate)
	if err != nil {
		return nil, err
	}

	return &ICECandidateRpc{
		jsonRpcHead: head(ICECandidateMethod),
		Params: ICECandidateParams{
			SignalTarget: SignalTarget{TargetConnectionID: target},
			Candidate:    payload,
		},
	}, nil
}

func (r ICECandidateRpc) From(sender core.ConnectionID) *ICECandidateRpc {
	r.Params.FromID = sender
	return &r
}

func (r ICECandidateRpc) ToJSON() ([]byte, error) {
	return encode(r)
}
