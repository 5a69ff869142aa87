package rpc

import (
	"github.com/isqad/livelook-meet/internal/core"
)

type JoinRoomParams struct {
	RoomID       core.RoomID       `json:"roomId"`
	DisplayName  string            `json:"displayName"`
	ConnectionID core.ConnectionID `json:"connectionId,omitempty"`
}

type JoinRoomRpc struct {
	jsonRpcHead
	Params JoinRoomParams `json:"params"`
}

func NewJoinRoomRpc(roomID core.RoomID, displayName string, connID core.ConnectionID) *JoinRoomRpc {
	return &JoinRoomRpc{
		jsonRpcHead: head(JoinRoomMethod),
		Params: JoinRoomParams{
			RoomID:       roomID,
			DisplayName:  displayName,
			ConnectionID: connID,
		},
	}
}

func (r JoinRoomRpc) ToJSON() ([]byte, error) {
	return encode(r)
}

type GetUsersParams struct {
	RoomID core.RoomID `json:"roomId"`
}

type GetUsersRpc struct {
	jsonRpcHead
	Params GetUsersParams `json:"params"`
}

func NewGetUsersRpc(roomID core.RoomID) *GetUsersRpc {
	return &GetUsersRpc{
		jsonRpcHead: head(GetUsersMethod),
		Params:      GetUsersParams{RoomID: roomID},
	}
}

func (r GetUsersRpc) ToJSON() ([]byte, error) {
	return encode(r)
}

// RenegotiateParams asks the local orchestrator to re-offer every connected link
type RenegotiateParams struct {
	RoomID core.RoomID `json:"roomId"`
}

type RenegotiateRpc struct {
	jsonRpcHead
	Params RenegotiateParams `json:"params"`
}

func NewRenegotiateRpc(roomID core.RoomID) *RenegotiateRpc {
	return &RenegotiateRpc{
		jsonRpcHead: head(RenegotiateMethod),
		Params:      RenegotiateParams{RoomID: roomID},
	}
}

func (r RenegotiateRpc) ToJSON() ([]byte, error) {
	return encode(r)
}
