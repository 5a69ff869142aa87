package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus/rpc"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Time to wait for the server to answer the close frame
	closeWait = time.Second

	maxMessageSize     = 200 * 1024
	sendBufferSize     = 256
	incomingBufferSize = 256
)

var (
	ErrClosed         = errors.New("session is closed")
	ErrSendBufferFull = errors.New("session send buffer is full")
)

type Options struct {
	URL              string
	RoomID           core.RoomID
	DisplayName      string
	MaxReconnects    int
	ReconnectBackoff time.Duration
	Dialer           *websocket.Dialer
}

// Channel is the client side of the signaling websocket.
// It redials after an unexpected drop, every new connection starts with a fresh `connected`.
type Channel struct {
	opts Options

	incoming chan rpc.Rpc
	send     chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

// Dial opens the first connection, ctx bounds the handshake only
func Dial(ctx context.Context, opts Options) (*Channel, error) {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 45 * time.Second}
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = time.Second
	}

	endpoint, err := endpointURL(opts)
	if err != nil {
		return nil, err
	}

	conn, err := dial(ctx, opts.Dialer, endpoint)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		opts:     opts,
		incoming: make(chan rpc.Rpc, incomingBufferSize),
		send:     make(chan []byte, sendBufferSize),
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go c.run(endpoint, conn)

	return c, nil
}

func endpointURL(opts Options) (string, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return "", fmt.Errorf("signaling url: %w", err)
	}

	q := u.Query()
	if opts.RoomID != "" {
		q.Set("roomId", string(opts.RoomID))
	}
	if opts.DisplayName != "" {
		q.Set("displayName", opts.DisplayName)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func dial(ctx context.Context, dialer *websocket.Dialer, endpoint string) (*websocket.Conn, error) {
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// Incoming delivers server messages, it is closed when the channel gives up or is closed
func (c *Channel) Incoming() <-chan rpc.Rpc {
	return c.incoming
}

// Send queues r for the current connection
func (c *Channel) Send(r rpc.Rpc) error {
	if c.closed.Load() {
		return ErrClosed
	}

	b, err := r.ToJSON()
	if err != nil {
		return err
	}

	select {
	case c.send <- b:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops reconnecting, says goodbye to the server and waits for the pumps
func (c *Channel) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		c.cancel()
	})
	<-c.done
	return nil
}

func (c *Channel) run(endpoint string, conn *websocket.Conn) {
	defer close(c.done)
	defer close(c.incoming)

	for {
		err := c.serve(conn)
		if c.ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("service", "session").Msg("signaling connection lost")

		conn = c.reconnect(endpoint)
		if conn == nil {
			return
		}
	}
}

// reconnect redials with a linear backoff, nil means give up
func (c *Channel) reconnect(endpoint string) *websocket.Conn {
	// messages for the old connection are meaningless to the new one
	c.discardPending()

	for attempt := 1; attempt <= c.opts.MaxReconnects; attempt++ {
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(c.opts.ReconnectBackoff * time.Duration(attempt)):
		}

		conn, err := dial(c.ctx, c.opts.Dialer, endpoint)
		if err == nil {
			log.Info().Str("service", "session").Int("attempt", attempt).Msg("signaling connection restored")
			return conn
		}
		log.Warn().Err(err).Str("service", "session").Int("attempt", attempt).Msg("reconnect failed")
	}

	log.Error().Str("service", "session").Int("attempts", c.opts.MaxReconnects).Msg("give up reconnecting")
	return nil
}

func (c *Channel) discardPending() {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// serve pumps one connection until it drops or the channel is closed
func (c *Channel) serve(conn *websocket.Conn) error {
	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readPump(conn)
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.Close()
				<-readErr
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				<-readErr
				return err
			}
		case err := <-readErr:
			conn.Close()
			return err
		case <-c.ctx.Done():
			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			err := conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			if err == nil {
				select {
				case <-readErr:
				case <-time.After(closeWait):
				}
			}
			conn.Close()
			return nil
		}
	}
}

func (c *Channel) readPump(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		r, err := rpc.RpcFromBytes(message)
		if err != nil {
			log.Warn().Err(err).Str("service", "session").Msg("skip malformed message")
			continue
		}

		select {
		case c.incoming <- r:
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}
