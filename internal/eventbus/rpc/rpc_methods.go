package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const jsonRpcVersion = "2.0"

type Method string

// Method names are the signaling wire events
const (
	ConnectedMethod         Method = "connected"
	ErrorMethod             Method = "error"
	JoinRoomMethod          Method = "join-room"
	GetUsersMethod          Method = "get-users"
	ParticipantsListMethod  Method = "participants-list"
	RoomUsersMethod         Method = "room-users"
	ParticipantJoinedMethod Method = "participant-joined"
	UserJoinedMethod        Method = "user-joined"
	ParticipantLeftMethod   Method = "participant-left"
	UserLeftMethod          Method = "user-left"
	SDPOfferMethod          Method = "offer"
	SDPAnswerMethod         Method = "answer"
	ICECandidateMethod      Method = "ice-candidate"
	MediaStateChangeMethod  Method = "media-state-change"
	MediaStateUpdatedMethod Method = "media-state-updated"
	ScreenShareStartMethod  Method = "screen-share-started"
	ScreenShareEndMethod    Method = "screen-share-ended"
	SendMessageMethod       Method = "send-message"
	NewMessageMethod        Method = "new-message"
	RenegotiateMethod       Method = "renegotiate-connections"
)

var (
	ErrUnknownRpcType = errors.New("unknown RPC type")
	ErrMalformedRpc   = errors.New("malformed RPC")
)

type Rpc interface {
	GetMethod() Method
	ToJSON() ([]byte, error)
}

type jsonRpcHead struct {
	Version string `json:"jsonrpc"`
	Method  Method `json:"method"`
}

func head(method Method) jsonRpcHead {
	return jsonRpcHead{Version: jsonRpcVersion, Method: method}
}

func (h jsonRpcHead) GetMethod() Method {
	return h.Method
}

type jsonRpc struct {
	jsonRpcHead
	Params json.RawMessage `json:"params"`
}

// encode writes v without HTML escaping, chat text and SDP keep their characters on the wire
func encode(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func RpcFromBytes(payload []byte) (Rpc, error) {
	return RpcFromReader(bytes.NewReader(payload))
}

// RpcFromReader decodes one envelope into the typed variant of its method.
// Decoding errors wrap ErrMalformedRpc, unknown methods return ErrUnknownRpcType.
func RpcFromReader(reader io.Reader) (Rpc, error) {
	envelope := &jsonRpc{}

	if err := json.NewDecoder(reader).Decode(envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRpc, err)
	}
	if envelope.Version != jsonRpcVersion {
		return nil, fmt.Errorf("%w: unsupported jsonrpc version %q", ErrMalformedRpc, envelope.Version)
	}

	var r Rpc
	var params interface{}

	switch envelope.Method {
	case ConnectedMethod, ParticipantLeftMethod, UserLeftMethod, ScreenShareStartMethod, ScreenShareEndMethod:
		c := &ConnectionRpc{jsonRpcHead: envelope.jsonRpcHead}
		r, params = c, &c.Params
	case ErrorMethod:
		e := &ErrorRpc{jsonRpcHead: envelope.jsonRpcHead}
		r, params = e, &e.Params
	case JoinRoomMethod:
		j := &JoinRoomRpc{jsonRpcHead: envelope.jsonRpcHead}
		r, params = j, &j.Params
	case GetUsersMethod:
		g := &GetUsersRpc{jsonRpcHead: envelope.jsonRpcHead}
		r, params = g, &g.Params
	case ParticipantsListMethod, RoomUsersMethod:
		p := &ParticipantsRpc{jsonRpcHead: envelope.jsonRpcHead}
		r, params = p, &p.Params
	case ParticipantJoinedMethod, UserJoinedMethod:
		p := &ParticipantJoinedRpc{jsonRpcHead: envelope.jsonRpcHead}
		r, params = p, &p.Params
	case SDPOfferMethod, SDPAnswerMethod:
		s := &SDPRpc{jsonRpcHead: envelope.jsonRpcHead}
		r, params = s, &s.Params
	case ICECandidateMethod:
		c := &ICECandidateRpc{jsonRpcHead: envelope.jsonRpcHead}
		r, params = c, &c.Params
	case MediaStateChangeMethod, MediaStateUpdatedMethod:
		m := &MediaStateRpc{jsonRpcHead: envelope.jsonRpcHead}
		r, params = m, &m.Params
	case SendMessageMethod, NewMessageMethod:
		// chat payloads are relayed verbatim
		raw := envelope.Params
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w: %s without params", ErrMalformedRpc, envelope.Method)
		}
		return &ChatRpc{jsonRpcHead: envelope.jsonRpcHead, Params: raw}, nil
	case RenegotiateMethod:
		n := &RenegotiateRpc{jsonRpcHead: envelope.jsonRpcHead}
		r, params = n, &n.Params
	default:
		return nil, ErrUnknownRpcType
	}

	if len(envelope.Params) == 0 || bytes.Equal(envelope.Params, []byte("null")) {
		return nil, fmt.Errorf("%w: %s without params", ErrMalformedRpc, envelope.Method)
	}
	if err := json.Unmarshal(envelope.Params, params); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRpc, envelope.Method, err)
	}

	return r, nil
}
