package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-meet/internal/client"
	"github.com/isqad/livelook-meet/internal/config"
	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/rtc"
	"github.com/isqad/livelook-meet/internal/session"
)

var ErrNoRoom = errors.New("room is required")

type Options struct {
	Config *config.Config

	// IVF files for the camera and the screen, an OGG file for the microphone.
	// Empty means the track stays silent.
	VideoFile  string
	ScreenFile string
	AudioFile  string

	Input  io.Reader
	Output io.Writer
}

// Bot is a headless participant: media comes from files, commands from Input
type Bot struct {
	opts  Options
	media *rtc.LocalMedia

	sources []*rtc.FileSource
	wg      sync.WaitGroup
}

func New(opts Options) (*Bot, error) {
	if opts.Config.Signaling.Room == "" {
		return nil, ErrNoRoom
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	media, err := rtc.NewLocalMedia(opts.Config.Signaling.DisplayName)
	if err != nil {
		return nil, err
	}

	bot := &Bot{opts: opts, media: media}

	if err := bot.openSources(); err != nil {
		media.Close()
		return nil, err
	}

	return bot, nil
}

func (bot *Bot) openSources() error {
	type source struct {
		path  string
		track *rtc.LocalTrack
		open  func(string, *rtc.LocalTrack) (*rtc.FileSource, error)
	}

	for _, s := range []source{
		{bot.opts.VideoFile, bot.media.Camera, rtc.OpenIVF},
		{bot.opts.ScreenFile, bot.media.Screen, rtc.OpenIVF},
		{bot.opts.AudioFile, bot.media.Audio, rtc.OpenOgg},
	} {
		if s.path == "" {
			continue
		}
		fs, err := s.open(s.path, s.track)
		if err != nil {
			return err
		}
		bot.media.Attach(fs)
		bot.sources = append(bot.sources, fs)
	}

	return nil
}

// Start joins the meeting and serves commands until the input ends,
// `leave` is typed, the process is interrupted or ctx is done
func (bot *Bot) Start(ctx context.Context) error {
	conf := bot.opts.Config

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	webrtcConf, err := config.NewWebRTCConfig(conf, rtc.LoggerFactory{})
	if err != nil {
		bot.media.Close()
		return err
	}

	s, err := session.Dial(ctx, session.Options{
		URL:              conf.Signaling.URL,
		RoomID:           core.RoomID(conf.Signaling.Room),
		DisplayName:      conf.Signaling.DisplayName,
		MaxReconnects:    conf.Signaling.MaxReconnects,
		ReconnectBackoff: conf.Signaling.ReconnectBackoff,
	})
	if err != nil {
		bot.media.Close()
		return err
	}

	c, err := client.New(client.Options{
		Session: s,
		Transports: rtc.NewPCTransportFactory(rtc.TransportParams{
			EnabledCodecs: conf.Peer.EnabledCodecs,
			Config:        webrtcConf,
		}),
		Media:       bot.media,
		RoomID:      core.RoomID(conf.Signaling.Room),
		DisplayName: conf.Signaling.DisplayName,
	})
	if err != nil {
		bot.media.Close()
		s.Close()
		return err
	}

	c.Start(ctx)
	bot.play(ctx)
	go bot.report(ctx, c)

	commands := make(chan error, 1)
	go func() {
		commands <- newConsole(c, bot.opts.Output).serve(bot.opts.Input)
	}()

	select {
	case err = <-commands:
	case <-interrupt:
		log.Warn().Str("service", "bot").Msg("interrupt")
	case <-ctx.Done():
	}

	leaveErr := c.Leave()
	bot.wg.Wait()

	if err != nil {
		return err
	}
	return leaveErr
}

// play pumps every file source until the media is released
func (bot *Bot) play(ctx context.Context) {
	for _, source := range bot.sources {
		bot.wg.Add(1)
		go func(source *rtc.FileSource) {
			defer bot.wg.Done()
			if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("service", "bot").Msg("media source stopped")
			}
		}(source)
	}
}

func (bot *Bot) report(ctx context.Context, c *client.Client) {
	out := bot.opts.Output
	streams := c.Orchestrator().Streams()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.Chat():
			fmt.Fprintf(out, "[%s] %s: %s\n", msg.Time, msg.Sender, msg.Text)
		case perr, ok := <-c.Orchestrator().Errors():
			if !ok {
				return
			}
			fmt.Fprintf(out, "link error: %v\n", perr)
		case <-streams.Updates():
			fmt.Fprintf(out, "receiving %d remote streams\n", len(streams.Snapshot()))
		}
	}
}
