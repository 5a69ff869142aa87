package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/isqad/livelook-meet/internal/bot"
	"github.com/isqad/livelook-meet/internal/config"
	"github.com/isqad/livelook-meet/internal/ws"
)

func main() {
	app := &cli.App{
		Name:        "livelook-bot",
		Usage:       "Headless participant of a livelook meeting",
		Description: "Streams media files to every participant of the room and reads commands from stdin",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a config file (yaml, toml or json)",
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "signaling endpoint, example: 'ws://localhost:80/ws'",
			},
			&cli.StringFlag{
				Name:     "room",
				Usage:    "room to join",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "name",
				Value: "livelook-bot",
				Usage: "display name",
			},
			&cli.StringFlag{
				Name:  "video",
				Usage: "IVF file for the camera",
			},
			&cli.StringFlag{
				Name:  "screen",
				Usage: "IVF file shared by the `screen on` command",
			},
			&cli.StringFlag{
				Name:  "audio",
				Usage: "OGG/Opus file for the microphone",
			},
		},
		Action: startBot,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startBot(c *cli.Context) error {
	v := viper.New()
	v.Set("signaling.room", c.String("room"))
	v.Set("signaling.display_name", c.String("name"))
	if c.IsSet("url") {
		v.Set("signaling.url", c.String("url"))
	}

	conf, err := config.Load(v, c.String("config"))
	if err != nil {
		return err
	}

	ws.InitLogger(conf.App.Env)

	b, err := bot.New(bot.Options{
		Config:     conf,
		VideoFile:  c.String("video"),
		ScreenFile: c.String("screen"),
		AudioFile:  c.String("audio"),
	})
	if err != nil {
		return err
	}

	return b.Start(context.Background())
}
