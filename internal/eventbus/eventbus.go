package eventbus

import (
	"errors"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus/rpc"
)

type Channel string

const (
	ClientMessages Channel = "client_messages"
)

func (c Channel) buildChannel(connID core.ConnectionID) string {
	return string(c) + ":" + string(connID)
}

// ErrNoSubscriber means the addressed connection is not attached to any node
var ErrNoSubscriber = errors.New("no subscriber for connection")

// Publisher delivers rpcs to one client connection
type Publisher interface {
	PublishClient(connID core.ConnectionID, r rpc.Rpc) error
}

type Subscriber interface {
	SubscribeClient(connID core.ConnectionID) (Subscription, error)
}

// Subscription is the outgoing message stream of one connection.
// Channel is closed after Close.
type Subscription interface {
	Channel() <-chan []byte
	Close() error
}

type Bus interface {
	Publisher
	Subscriber
	Close() error
}

const subscriptionBufferSize = 256
