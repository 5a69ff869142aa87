package eventbus

import (
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus/rpc"
)

// NatsBus delivers messages through NATS subjects, one subject per connection.
// NATS has no receiver count, so publishing to a detached connection is not reported.
type NatsBus struct {
	nc *nats.Conn
}

func NatsPubSub(nc *nats.Conn) *NatsBus {
	return &NatsBus{nc: nc}
}

func subject(connID core.ConnectionID) string {
	return string(ClientMessages) + "." + string(connID)
}

type natsSubscription struct {
	sub  *nats.Subscription
	in   chan *nats.Msg
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *natsSubscription) Channel() <-chan []byte {
	return s.out
}

func (s *natsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Unsubscribe()
		close(s.done)
	})
	return err
}

func (s *natsSubscription) forward() {
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.in:
			select {
			case s.out <- msg.Data:
			case <-s.done:
				return
			}
		}
	}
}

func (b *NatsBus) PublishClient(connID core.ConnectionID, r rpc.Rpc) error {
	msg, err := r.ToJSON()
	if err != nil {
		return err
	}
	return b.nc.Publish(subject(connID), msg)
}

func (b *NatsBus) SubscribeClient(connID core.ConnectionID) (Subscription, error) {
	in := make(chan *nats.Msg, subscriptionBufferSize)

	sub, err := b.nc.ChanSubscribe(subject(connID), in)
	if err != nil {
		return nil, err
	}
	// make sure the server knows about the subscription before anybody publishes
	if err := b.nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, err
	}

	s := &natsSubscription{
		sub:  sub,
		in:   in,
		out:  make(chan []byte),
		done: make(chan struct{}),
	}
	go s.forward()

	return s, nil
}

func (b *NatsBus) Close() error {
	return b.nc.Drain()
}
