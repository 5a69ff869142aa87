package rpc

import (
	"github.com/isqad/livelook-meet/internal/core"
)

// ParticipantsRpc carries a room snapshot in join order
type ParticipantsRpc struct {
	jsonRpcHead
	Params []core.Participant `json:"params"`
}

// NewParticipantsListRpc is the reply to a joining connection
func NewParticipantsListRpc(participants []core.Participant) *ParticipantsRpc {
	return newParticipantsRpc(ParticipantsListMethod, participants)
}

// NewRoomUsersRpc is the reply to get-users
func NewRoomUsersRpc(participants []core.Participant) *ParticipantsRpc {
	return newParticipantsRpc(RoomUsersMethod, participants)
}

func newParticipantsRpc(method Method, participants []core.Participant) *ParticipantsRpc {
	if participants == nil {
		participants = []core.Participant{}
	}
	return &ParticipantsRpc{
		jsonRpcHead: head(method),
		Params:      participants,
	}
}

func (r ParticipantsRpc) ToJSON() ([]byte, error) {
	return encode(r)
}

type ParticipantJoinedParams struct {
	ConnectionID core.ConnectionID `json:"connectionId"`
	DisplayName  string            `json:"displayName"`
}

type ParticipantJoinedRpc struct {
	jsonRpcHead
	Params ParticipantJoinedParams `json:"params"`
}

func NewParticipantJoinedRpc(connID core.ConnectionID, displayName string) *ParticipantJoinedRpc {
	return newJoinedRpc(ParticipantJoinedMethod, connID, displayName)
}

// NewUserJoinedRpc is the legacy alias of participant-joined
func NewUserJoinedRpc(connID core.ConnectionID, displayName string) *ParticipantJoinedRpc {
	return newJoinedRpc(UserJoinedMethod, connID, displayName)
}

func newJoinedRpc(method Method, connID core.ConnectionID, displayName string) *ParticipantJoinedRpc {
	return &ParticipantJoinedRpc{
		jsonRpcHead: head(method),
		Params: ParticipantJoinedParams{
			ConnectionID: connID,
			DisplayName:  displayName,
		},
	}
}

func (r ParticipantJoinedRpc) ToJSON() ([]byte, error) {
	return encode(r)
}

type ConnectionParams struct {
	ConnectionID core.ConnectionID `json:"connectionId"`
}

// ConnectionRpc is any event that names just one connection
type ConnectionRpc struct {
	jsonRpcHead
	Params ConnectionParams `json:"params"`
}

func NewConnectionRpc(method Method, connID core.ConnectionID) *ConnectionRpc {
	return &ConnectionRpc{
		jsonRpcHead: head(method),
		Params:      ConnectionParams{ConnectionID: connID},
	}
}

func NewConnectedRpc(connID core.ConnectionID) *ConnectionRpc {
	return NewConnectionRpc(ConnectedMethod, connID)
}

func (r ConnectionRpc) ToJSON() ([]byte, error) {
	return encode(r)
}

type ErrorParams struct {
	Error string `json:"error"`
}

type ErrorRpc struct {
	jsonRpcHead
	Params ErrorParams `json:"params"`
}

func NewErrorRpc(err error) *ErrorRpc {
	return &ErrorRpc{
		jsonRpcHead: head(ErrorMethod),
		Params:      ErrorParams{Error: err.Error()},
	}
}

func (r ErrorRpc) ToJSON() ([]byte, error) {
	return encode(r)
}
