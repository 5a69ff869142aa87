package relay

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus"
	"github.com/isqad/livelook-meet/internal/eventbus/rpc"
	"github.com/isqad/livelook-meet/internal/registry"
	"github.com/isqad/livelook-meet/internal/telemetry"
)

var (
	ErrMissingTarget     = errors.New("targetConnectionId is required")
	ErrForeignMediaState = errors.New("media state can only be changed by its owner")
	ErrRoomChange        = errors.New("room can't be changed on an open connection")
	ErrNotInRoom         = errors.New("connection has not joined a room")
)

// Relay routes messages between connections of the same room.
// It keeps no state of its own, membership lives in the registry.
type Relay struct {
	registry  *registry.Registry
	publisher eventbus.Publisher
	router    *eventbus.Router
}

func New(reg *registry.Registry, publisher eventbus.Publisher) *Relay {
	relay := &Relay{
		registry:  reg,
		publisher: publisher,
		router:    eventbus.NewRouter(),
	}

	relay.router.OnJoinRoom(relay.onJoinRoom)
	relay.router.OnGetUsers(relay.onGetUsers)
	relay.router.OnOffer(relay.onSDP)
	relay.router.OnAnswer(relay.onSDP)
	relay.router.OnICECandidate(relay.onICECandidate)
	relay.router.OnMediaStateChange(relay.onMediaStateChange)
	relay.router.OnScreenShare(relay.onScreenShare)
	relay.router.OnSendMessage(relay.onSendMessage)
	relay.router.OnRenegotiate(relay.onRenegotiate)

	return relay
}

// Connect greets a new connection and joins it when the handshake named a room
func (relay *Relay) Connect(connID core.ConnectionID, roomID core.RoomID, displayName string) {
	log.Debug().Str("service", "relay").Str("connectionId", string(connID)).Str("roomId", string(roomID)).Msg("connect")

	relay.send(connID, rpc.NewConnectedRpc(connID))

	if roomID == "" {
		return
	}
	relay.join(connID, roomID, displayName)
}

// HandleMessage processes one message of a connection.
// Errors are reported back to the sender only.
func (relay *Relay) HandleMessage(connID core.ConnectionID, payload []byte) {
	if err := relay.router.Dispatch(connID, payload); err != nil {
		log.Error().Err(err).Str("service", "relay").Str("connectionId", string(connID)).Msg("can't handle message")
		telemetry.ServiceOperationCounter.WithLabelValues("rpc", "failure", errorType(err)).Inc()
		relay.send(connID, rpc.NewErrorRpc(err))
	}
}

// Disconnect removes the connection and tells the rest of its room
func (relay *Relay) Disconnect(connID core.ConnectionID) {
	roomID, ok := relay.registry.Leave(connID)
	if !ok {
		log.Debug().Str("service", "relay").Str("connectionId", string(connID)).Msg("disconnect without room")
		return
	}

	log.Debug().Str("service", "relay").Str("connectionId", string(connID)).Str("roomId", string(roomID)).Msg("disconnect")

	recipients := relay.registry.List(roomID, connID)
	relay.broadcast(recipients, rpc.NewConnectionRpc(rpc.ParticipantLeftMethod, connID))
	relay.broadcast(recipients, rpc.NewConnectionRpc(rpc.UserLeftMethod, connID))
}

func (relay *Relay) join(connID core.ConnectionID, roomID core.RoomID, displayName string) {
	current, rejoin := relay.registry.RoomOf(connID)
	rejoin = rejoin && current == roomID

	snapshot := relay.registry.Join(roomID, connID, displayName)

	// the joiner learns about the room before anybody starts offering to it
	relay.send(connID, rpc.NewParticipantsListRpc(snapshot))

	if rejoin {
		return
	}

	relay.broadcast(snapshot, rpc.NewParticipantJoinedRpc(connID, displayName))
	relay.broadcast(snapshot, rpc.NewUserJoinedRpc(connID, displayName))
}

func (relay *Relay) onJoinRoom(from core.ConnectionID, params rpc.JoinRoomParams) error {
	if params.RoomID == "" {
		return fmt.Errorf("%w: roomId is empty", rpc.ErrMalformedRpc)
	}
	if current, ok := relay.registry.RoomOf(from); ok && current != params.RoomID {
		return ErrRoomChange
	}

	relay.join(from, params.RoomID, params.DisplayName)
	return nil
}

func (relay *Relay) onGetUsers(from core.ConnectionID, params rpc.GetUsersParams) error {
	roomID := params.RoomID
	if roomID == "" {
		current, ok := relay.registry.RoomOf(from)
		if !ok {
			return ErrNotInRoom
		}
		roomID = current
	}

	relay.send(from, rpc.NewRoomUsersRpc(relay.registry.List(roomID, from)))
	return nil
}

func (relay *Relay) onSDP(from core.ConnectionID, msg *rpc.SDPRpc) error {
	target := msg.Params.TargetConnectionID
	if target == "" {
		return ErrMissingTarget
	}

	relay.forward(from, target, msg.GetMethod(), msg.From(from))
	return nil
}

func (relay *Relay) onICECandidate(from core.ConnectionID, msg *rpc.ICECandidateRpc) error {
	target := msg.Params.TargetConnectionID
	if target == "" {
		return ErrMissingTarget
	}

	relay.forward(from, target, msg.GetMethod(), msg.From(from))
	return nil
}

// forward delivers a peer-to-peer message when both ends share a room, anything else is a routing miss
func (relay *Relay) forward(from, target core.ConnectionID, method rpc.Method, msg rpc.Rpc) {
	drop := func(err error, reason string) {
		log.Debug().Err(err).Str("service", "relay").Str("rpcMethod", string(method)).
			Str("connectionId", string(from)).Str("target", string(target)).Msg("drop: " + reason)
		telemetry.MessageDropped(string(method))
	}

	senderRoom, ok := relay.registry.RoomOf(from)
	if !ok {
		drop(nil, "sender is not in a room")
		return
	}
	targetRoom, ok := relay.registry.RoomOf(target)
	if !ok || targetRoom != senderRoom {
		drop(nil, "target is not connected to the room")
		return
	}

	if err := relay.publisher.PublishClient(target, msg); err != nil {
		drop(err, "delivery failed")
		return
	}

	telemetry.MessageRelayed(string(method))
}

func (relay *Relay) onMediaStateChange(from core.ConnectionID, params rpc.MediaStateParams) error {
	if params.ConnectionID != "" && params.ConnectionID != from {
		return ErrForeignMediaState
	}

	participant, err := relay.registry.UpdateMediaState(from, params.IsMuted, params.IsVideoOff)
	if err != nil {
		log.Warn().Err(err).Str("service", "relay").Str("connectionId", string(from)).Msg("media state of unknown participant")
		return nil
	}

	roomID, _ := relay.registry.RoomOf(from)
	relay.broadcast(
		relay.registry.List(roomID, from),
		rpc.NewMediaStateUpdatedRpc(from, participant.IsMuted, participant.IsVideoOff),
	)
	return nil
}

func (relay *Relay) onScreenShare(from core.ConnectionID, started bool) error {
	if _, err := relay.registry.SetScreenSharing(from, started); err != nil {
		log.Warn().Err(err).Str("service", "relay").Str("connectionId", string(from)).Msg("screen share of unknown participant")
		return nil
	}

	method := rpc.ScreenShareEndMethod
	if started {
		method = rpc.ScreenShareStartMethod
	}

	roomID, _ := relay.registry.RoomOf(from)
	relay.broadcast(relay.registry.List(roomID, from), rpc.NewConnectionRpc(method, from))
	return nil
}

func (relay *Relay) onSendMessage(from core.ConnectionID, msg *rpc.ChatRpc) error {
	roomID, ok := relay.registry.RoomOf(from)
	if !ok {
		log.Debug().Str("service", "relay").Str("connectionId", string(from)).Msg("drop chat message: sender is not in a room")
		telemetry.MessageDropped(string(msg.GetMethod()))
		return nil
	}

	relay.broadcast(relay.registry.List(roomID, from), msg.AsNewMessage())
	return nil
}

// renegotiate-connections is handled by the client itself
func (relay *Relay) onRenegotiate(from core.ConnectionID, params rpc.RenegotiateParams) error {
	log.Debug().Str("service", "relay").Str("connectionId", string(from)).Str("roomId", string(params.RoomID)).Msg("ignore renegotiate-connections")
	return nil
}

func (relay *Relay) broadcast(recipients []core.Participant, msg rpc.Rpc) {
	for _, p := range recipients {
		relay.send(p.ConnectionID, msg)
	}
}

func (relay *Relay) send(connID core.ConnectionID, msg rpc.Rpc) {
	if err := relay.publisher.PublishClient(connID, msg); err != nil {
		log.Debug().Err(err).Str("service", "relay").Str("connectionId", string(connID)).Str("rpcMethod", string(msg.GetMethod())).Msg("can't deliver")
		telemetry.MessageDropped(string(msg.GetMethod()))
		return
	}
	telemetry.MessageRelayed(string(msg.GetMethod()))
}

func errorType(err error) string {
	switch {
	case errors.Is(err, rpc.ErrUnknownRpcType):
		return "unknown_rpc"
	case errors.Is(err, rpc.ErrMalformedRpc):
		return "malformed_rpc"
	case errors.Is(err, ErrRoomChange):
		return "room_change"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, ErrMissingTarget):
		return "missing_target"
	case errors.Is(err, ErrForeignMediaState):
		return "foreign_media_state"
	}
	return "other"
}
