package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus/rpc"
	"github.com/isqad/livelook-meet/internal/rtc"
)

const chatBufferSize = 64

// Session is the signaling connection of a client
type Session interface {
	rtc.Signaler
	Incoming() <-chan rpc.Rpc
	Close() error
}

type Options struct {
	Session     Session
	Transports  rtc.TransportFactory
	Media       *rtc.LocalMedia
	RoomID      core.RoomID
	DisplayName string
}

// Client is one participant of a mesh meeting
type Client struct {
	session Session
	media   *rtc.LocalMedia
	roomID  core.RoomID
	name    string

	orchestrator *rtc.Orchestrator
	mediaSync    *rtc.MediaSync
	chat         chan rpc.ChatMessage

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	leaveOnce sync.Once
}

func New(opts Options) (*Client, error) {
	o, err := rtc.NewOrchestrator(rtc.OrchestratorParams{
		Signaler:    opts.Session,
		Transports:  opts.Transports,
		Media:       opts.Media,
		DisplayName: opts.DisplayName,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		session:      opts.Session,
		media:        opts.Media,
		roomID:       opts.RoomID,
		name:         opts.DisplayName,
		orchestrator: o,
		mediaSync:    rtc.NewMediaSync(o),
		chat:         make(chan rpc.ChatMessage, chatBufferSize),
	}, nil
}

// Start runs the orchestrator loop and routes incoming signaling to it
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.orchestrator.Run(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.route(ctx)
	}()
}

func (c *Client) route(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-c.session.Incoming():
			if !ok {
				log.Warn().Str("service", "client").Msg("signaling session ended")
				return
			}
			c.dispatch(r)
		}
	}
}

func (c *Client) dispatch(r rpc.Rpc) {
	if r.GetMethod() != rpc.NewMessageMethod {
		c.orchestrator.Dispatch(r)
		return
	}

	chat, ok := r.(*rpc.ChatRpc)
	if !ok {
		return
	}
	msg, err := chat.Message()
	if err != nil {
		log.Warn().Err(err).Str("service", "client").Msg("skip chat message")
		return
	}

	select {
	case c.chat <- msg:
	default:
		log.Warn().Str("service", "client").Msg("chat buffer is full, message dropped")
	}
}

// Chat delivers messages sent by the other participants of the room
func (c *Client) Chat() <-chan rpc.ChatMessage {
	return c.chat
}

func (c *Client) SendChat(text string) error {
	r, err := rpc.NewSendMessageRpc(rpc.ChatMessage{
		Sender: c.name,
		Time:   time.Now().Format("15:04"),
		Text:   text,
	})
	if err != nil {
		return err
	}
	return c.session.Send(r)
}

// RequestParticipants asks the server for the current room list
func (c *Client) RequestParticipants() error {
	return c.session.Send(rpc.NewGetUsersRpc(c.roomID))
}

func (c *Client) Media() *rtc.MediaSync {
	return c.mediaSync
}

func (c *Client) Orchestrator() *rtc.Orchestrator {
	return c.orchestrator
}

func (c *Client) Roster() []rtc.RosterEntry {
	return c.orchestrator.Roster().Snapshot()
}

// Reconnect rebuilds every peer link
func (c *Client) Reconnect() {
	c.orchestrator.ReconnectAll()
}

// Leave closes links, then releases local media, then the session
func (c *Client) Leave() error {
	var err error
	c.leaveOnce.Do(func() {
		c.orchestrator.Close()

		if c.media != nil {
			if mediaErr := c.media.Close(); mediaErr != nil {
				log.Warn().Err(mediaErr).Str("service", "client").Msg("release local media")
			}
		}

		err = c.session.Close()
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()

		log.Info().Str("service", "client").Str("roomId", string(c.roomID)).Msg("left the meeting")
	})
	return err
}
