package rpc

import (
	"github.com/isqad/livelook-meet/internal/core"
)

type MediaStateParams struct {
	ConnectionID core.ConnectionID `json:"connectionId"`
	IsMuted      bool              `json:"isMuted"`
	IsVideoOff   bool              `json:"isVideoOff"`
}

type MediaStateRpc struct {
	jsonRpcHead
	Params MediaStateParams `json:"params"`
}

// NewMediaStateChangeRpc is sent by a client about itself
func NewMediaStateChangeRpc(connID core.ConnectionID, isMuted, isVideoOff bool) *MediaStateRpc {
	return newMediaStateRpc(MediaStateChangeMethod, connID, isMuted, isVideoOff)
}

// NewMediaStateUpdatedRpc is broadcast by the relay to the rest of the room
func NewMediaStateUpdatedRpc(connID core.ConnectionID, isMuted, isVideoOff bool) *MediaStateRpc {
	return newMediaStateRpc(MediaStateUpdatedMethod, connID, isMuted, isVideoOff)
}

func newMediaStateRpc(method Method, connID core.ConnectionID, isMuted, isVideoOff bool) *MediaStateRpc {
	return &MediaStateRpc{
		jsonRpcHead: head(method),
		Params: MediaStateParams{
			ConnectionID: connID,
			IsMuted:      isMuted,
			IsVideoOff:   isVideoOff,
		},
	}
}

func (r MediaStateRpc) ToJSON() ([]byte, error) {
	return encode(r)
}
