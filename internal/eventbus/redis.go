package eventbus

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus/rpc"
)

// RedisBus delivers messages through redis pub/sub, one channel per connection
type RedisBus struct {
	rdb *redis.Client
}

// RedisPubSub is factory for building Bus based on redis pubsub
func RedisPubSub(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Channel() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
		close(s.done)
	})
	return err
}

func (s *redisSubscription) forward() {
	defer close(s.out)

	// go-redis closes the channel once the pubsub is closed
	for msg := range s.pubsub.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (e *RedisBus) PublishClient(connID core.ConnectionID, r rpc.Rpc) error {
	msg, err := r.ToJSON()
	if err != nil {
		return err
	}

	receivers, err := e.rdb.Publish(context.Background(), ClientMessages.buildChannel(connID), msg).Result()
	if err != nil {
		return err
	}
	if receivers == 0 {
		return ErrNoSubscriber
	}

	return nil
}

func (e *RedisBus) SubscribeClient(connID core.ConnectionID) (Subscription, error) {
	ctx := context.Background()
	pubsub := e.rdb.Subscribe(ctx, ClientMessages.buildChannel(connID))
	// Wait until subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan []byte),
		done:   make(chan struct{}),
	}
	go sub.forward()

	return sub, nil
}

func (e *RedisBus) Close() error {
	return e.rdb.Close()
}
