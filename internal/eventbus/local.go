package eventbus

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus/rpc"
)

// LocalBus delivers messages inside one process
type LocalBus struct {
	mu   sync.RWMutex
	subs map[core.ConnectionID]*localSubscription
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[core.ConnectionID]*localSubscription)}
}

type localSubscription struct {
	bus    *LocalBus
	connID core.ConnectionID

	in   chan []byte
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *localSubscription) Channel() <-chan []byte {
	return s.out
}

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if current, ok := s.bus.subs[s.connID]; ok && current == s {
			delete(s.bus.subs, s.connID)
		}
		s.bus.mu.Unlock()

		close(s.done)
	})
	return nil
}

// forward owns out so that publishers never race with closing it
func (s *localSubscription) forward() {
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.in:
			select {
			case s.out <- msg:
			case <-s.done:
				return
			}
		}
	}
}

func (b *LocalBus) SubscribeClient(connID core.ConnectionID) (Subscription, error) {
	sub := &localSubscription{
		bus:    b,
		connID: connID,
		in:     make(chan []byte, subscriptionBufferSize),
		out:    make(chan []byte),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	previous := b.subs[connID]
	b.subs[connID] = sub
	b.mu.Unlock()

	if previous != nil {
		log.Warn().Str("service", "eventbus").Str("connectionId", string(connID)).Msg("replace existing subscription")
		previous.Close()
	}

	go sub.forward()

	return sub, nil
}

func (b *LocalBus) PublishClient(connID core.ConnectionID, r rpc.Rpc) error {
	msg, err := r.ToJSON()
	if err != nil {
		return err
	}

	b.mu.RLock()
	sub, ok := b.subs[connID]
	b.mu.RUnlock()

	if !ok {
		return ErrNoSubscriber
	}

	select {
	case sub.in <- msg:
		return nil
	case <-sub.done:
		return ErrNoSubscriber
	}
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	subs := make([]*localSubscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}
