package eventbus

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus/rpc"
)

// ErrUndefinedMethod is returned for methods a client must not send
var ErrUndefinedMethod = errors.New("undefined method")

// Router dispatches client rpcs to the server callbacks registered with OnX.
// Methods without a callback are rejected with ErrUndefinedMethod.
type Router struct {
	onJoinRoom         func(core.ConnectionID, rpc.JoinRoomParams) error
	onGetUsers         func(core.ConnectionID, rpc.GetUsersParams) error
	onOffer            func(core.ConnectionID, *rpc.SDPRpc) error
	onAnswer           func(core.ConnectionID, *rpc.SDPRpc) error
	onICECandidate     func(core.ConnectionID, *rpc.ICECandidateRpc) error
	onMediaStateChange func(core.ConnectionID, rpc.MediaStateParams) error
	onScreenShare      func(core.ConnectionID, bool) error
	onSendMessage      func(core.ConnectionID, *rpc.ChatRpc) error
	onRenegotiate      func(core.ConnectionID, rpc.RenegotiateParams) error
}

func NewRouter() *Router {
	return &Router{}
}

// Dispatch parses the payload sent by a connection and fires the matching callback
func (router *Router) Dispatch(from core.ConnectionID, payload []byte) error {
	r, err := rpc.RpcFromBytes(payload)
	if err != nil {
		return err
	}

	log.Debug().Str("service", "router").Str("connectionId", string(from)).Str("rpcMethod", string(r.GetMethod())).Msg("dispatch")

	switch r.GetMethod() {
	case rpc.JoinRoomMethod:
		msg, ok := r.(*rpc.JoinRoomRpc)
		if !ok || router.onJoinRoom == nil {
			break
		}
		return router.onJoinRoom(from, msg.Params)
	case rpc.GetUsersMethod:
		msg, ok := r.(*rpc.GetUsersRpc)
		if !ok || router.onGetUsers == nil {
			break
		}
		return router.onGetUsers(from, msg.Params)
	case rpc.SDPOfferMethod:
		msg, ok := r.(*rpc.SDPRpc)
		if !ok || router.onOffer == nil {
			break
		}
		return router.onOffer(from, msg)
	case rpc.SDPAnswerMethod:
		msg, ok := r.(*rpc.SDPRpc)
		if !ok || router.onAnswer == nil {
			break
		}
		return router.onAnswer(from, msg)
	case rpc.ICECandidateMethod:
		msg, ok := r.(*rpc.ICECandidateRpc)
		if !ok || router.onICECandidate == nil {
			break
		}
		return router.onICECandidate(from, msg)
	case rpc.MediaStateChangeMethod:
		msg, ok := r.(*rpc.MediaStateRpc)
		if !ok || router.onMediaStateChange == nil {
			break
		}
		return router.onMediaStateChange(from, msg.Params)
	case rpc.ScreenShareStartMethod, rpc.ScreenShareEndMethod:
		if router.onScreenShare == nil {
			break
		}
		return router.onScreenShare(from, r.GetMethod() == rpc.ScreenShareStartMethod)
	case rpc.SendMessageMethod:
		msg, ok := r.(*rpc.ChatRpc)
		if !ok || router.onSendMessage == nil {
			break
		}
		return router.onSendMessage(from, msg)
	case rpc.RenegotiateMethod:
		msg, ok := r.(*rpc.RenegotiateRpc)
		if !ok || router.onRenegotiate == nil {
			break
		}
		return router.onRenegotiate(from, msg.Params)
	default:
		return fmt.Errorf("%w: %s", ErrUndefinedMethod, r.GetMethod())
	}

	return fmt.Errorf("%w: %s", ErrUndefinedMethod, r.GetMethod())
}

func (router *Router) OnJoinRoom(callback func(core.ConnectionID, rpc.JoinRoomParams) error) {
	router.onJoinRoom = callback
}

func (router *Router) OnGetUsers(callback func(core.ConnectionID, rpc.GetUsersParams) error) {
	router.onGetUsers = callback
}

func (router *Router) OnOffer(callback func(core.ConnectionID, *rpc.SDPRpc) error) {
	router.onOffer = callback
}

func (router *Router) OnAnswer(callback func(core.ConnectionID, *rpc.SDPRpc) error) {
	router.onAnswer = callback
}

func (router *Router) OnICECandidate(callback func(core.ConnectionID, *rpc.ICECandidateRpc) error) {
	router.onICECandidate = callback
}

func (router *Router) OnMediaStateChange(callback func(core.ConnectionID, rpc.MediaStateParams) error) {
	router.onMediaStateChange = callback
}

func (router *Router) OnScreenShare(callback func(core.ConnectionID, bool) error) {
	router.onScreenShare = callback
}

func (router *Router) OnSendMessage(callback func(core.ConnectionID, *rpc.ChatRpc) error) {
	router.onSendMessage = callback
}

func (router *Router) OnRenegotiate(callback func(core.ConnectionID, rpc.RenegotiateParams) error) {
	router.onRenegotiate = callback
}
