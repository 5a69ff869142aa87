package bot

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/isqad/livelook-meet/internal/config"
	"github.com/isqad/livelook-meet/internal/eventbus/rpc"
	"github.com/isqad/livelook-meet/internal/rtc"
)

type recordingSignaler struct {
	mu   sync.Mutex
	sent []rpc.Method
}

func (s *recordingSignaler) Send(r rpc.Rpc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, r.GetMethod())
	return nil
}

func (s *recordingSignaler) methods() []rpc.Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rpc.Method(nil), s.sent...)
}

type fakeParticipant struct {
	sync       *rtc.MediaSync
	o          *rtc.Orchestrator
	chats      []string
	requests   int
	reconnects int
}

func (p *fakeParticipant) Media() *rtc.MediaSync      { return p.sync }
func (p *fakeParticipant) RequestParticipants() error { p.requests++; return nil }
func (p *fakeParticipant) Roster() []rtc.RosterEntry  { return p.o.Roster().Snapshot() }
func (p *fakeParticipant) Reconnect()                 { p.reconnects++ }

func (p *fakeParticipant) SendChat(text string) error {
	p.chats = append(p.chats, text)
	return nil
}

func newTestConsole(t *testing.T) (*console, *fakeParticipant, *recordingSignaler, *bytes.Buffer) {
	t.Helper()

	media, err := rtc.NewLocalMedia("me")
	assert.Nil(t, err)

	signaler := &recordingSignaler{}
	o, err := rtc.NewOrchestrator(rtc.OrchestratorParams{Signaler: signaler, Media: media, DisplayName: "Me"})
	assert.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		o.Close()
	})
	go o.Run(ctx)

	p := &fakeParticipant{sync: rtc.NewMediaSync(o), o: o}
	out := &bytes.Buffer{}
	return newConsole(p, out), p, signaler, out
}

func TestConsoleMediaCommands(t *testing.T) {
	c, p, signaler, _ := newTestConsole(t)

	assert.Nil(t, c.execute("mute"))
	assert.Nil(t, c.execute("video off"))
	assert.Eventually(t, func() bool {
		s := p.sync.State()
		return s.IsMuted && s.IsVideoOff
	}, time.Second, 5*time.Millisecond)

	assert.Nil(t, c.execute("  unmute  "))
	assert.Nil(t, c.execute("screen on"))
	assert.Eventually(t, func() bool {
		s := p.sync.State()
		return !s.IsMuted && s.IsScreenSharing
	}, time.Second, 5*time.Millisecond)

	assert.Nil(t, c.execute("screen off"))
	assert.Eventually(t, func() bool { return !p.sync.State().IsScreenSharing }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []rpc.Method{
		rpc.MediaStateChangeMethod,
		rpc.MediaStateChangeMethod,
		rpc.MediaStateChangeMethod,
		rpc.ScreenShareStartMethod,
		rpc.ScreenShareEndMethod,
	}, signaler.methods())
}

func TestConsoleCommands(t *testing.T) {
	c, p, _, out := newTestConsole(t)

	assert.Nil(t, c.execute("chat hello there"))
	assert.Equal(t, []string{"hello there"}, p.chats)
	assert.NotNil(t, c.execute("chat"))

	assert.Nil(t, c.execute("reconnect"))
	assert.Equal(t, 1, p.reconnects)

	assert.Nil(t, c.execute("users"))
	assert.Equal(t, 1, p.requests)

	assert.Nil(t, c.execute(""))
	assert.NotNil(t, c.execute("video maybe"))
	assert.NotNil(t, c.execute("dance"))

	assert.Nil(t, c.execute("help"))
	assert.Contains(t, out.String(), "commands:")

	assert.ErrorIs(t, c.execute("leave"), errLeave)
}

func TestConsoleServe(t *testing.T) {
	c, p, _, out := newTestConsole(t)

	err := c.serve(strings.NewReader("chat one\nnonsense\nleave\nchat two\n"))
	assert.Nil(t, err)
	assert.Equal(t, []string{"one"}, p.chats)
	assert.Contains(t, out.String(), `unknown command "nonsense"`)

	// the end of input leaves as well
	assert.Nil(t, c.serve(strings.NewReader("chat three")))
	assert.Equal(t, []string{"one", "three"}, p.chats)
}

func TestNewRequiresRoom(t *testing.T) {
	_, err := New(Options{Config: config.NewConfig()})
	assert.ErrorIs(t, err, ErrNoRoom)
}
