package rpc

import (
	"encoding/json"
	"fmt"
)

type ChatMessage struct {
	Sender string `json:"sender"`
	Time   string `json:"time"`
	Text   string `json:"text"`
}

// ChatRpc keeps the payload as received so the relay can forward it verbatim
type ChatRpc struct {
	jsonRpcHead
	Params json.RawMessage `json:"params"`
}

func NewSendMessageRpc(msg ChatMessage) (*ChatRpc, error) {
	payload, err := encode(msg)
	if err != nil {
		return nil, err
	}
	return &ChatRpc{jsonRpcHead: head(SendMessageMethod), Params: payload}, nil
}

// AsNewMessage is the broadcast form of a send-message
func (r ChatRpc) AsNewMessage() *ChatRpc {
	return &ChatRpc{jsonRpcHead: head(NewMessageMethod), Params: r.Params}
}

func (r ChatRpc) Message() (ChatMessage, error) {
	msg := ChatMessage{}
	if err := json.Unmarshal(r.Params, &msg); err != nil {
		return msg, fmt.Errorf("%w: chat: %v", ErrMalformedRpc, err)
	}
	return msg, nil
}

func (r ChatRpc) ToJSON() ([]byte, error) {
	return encode(r)
}
