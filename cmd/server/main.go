package main

import (
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/isqad/livelook-meet/internal/config"
	"github.com/isqad/livelook-meet/internal/eventbus"
	"github.com/isqad/livelook-meet/internal/ws"
)

func main() {
	app := &cli.App{
		Name:        "livelook-server",
		Usage:       "Signaling server of livelook meetings",
		Description: "",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a config file (yaml, toml or json)",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':80' for listen on 0.0.0.0:80",
			},
			&cli.StringFlag{
				Name:  "eventbus",
				Usage: "event bus driver: 'local', 'redis' or 'nats'",
			},
		},
		Action: startServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startServer(c *cli.Context) error {
	v := viper.New()
	bindFlag(v, c, "app.env", "env")
	bindFlag(v, c, "server.address", "address")
	bindFlag(v, c, "eventbus.driver", "eventbus")

	conf, err := config.Load(v, c.String("config"))
	if err != nil {
		return err
	}

	ws.InitLogger(conf.App.Env)

	bus, err := newBus(conf.EventBus)
	if err != nil {
		return err
	}

	app := ws.New(ws.WsAppOptions{
		Env:            conf.App.Env,
		Address:        conf.Server.Address,
		MaxMessageSize: conf.Server.MaxMessageSize,
		Bus:            bus,
	})

	return app.Start()
}

// bindFlag overrides a config key with the flag when it was given
func bindFlag(v *viper.Viper, c *cli.Context, key, flag string) {
	if c.IsSet(flag) {
		v.Set(key, c.String(flag))
	}
}

func newBus(conf config.EventBusConfig) (eventbus.Bus, error) {
	switch conf.Driver {
	case config.RedisBus:
		rdb := redis.NewClient(&redis.Options{
			Addr: conf.RedisAddr,
			DB:   conf.RedisDB,
		})
		log.Info().Str("service", "eventbus").Str("addr", conf.RedisAddr).Msg("using redis pub/sub")
		return eventbus.RedisPubSub(rdb), nil
	case config.NatsBus:
		nc, err := nats.Connect(conf.NatsURL, nats.Name("livelook-server"))
		if err != nil {
			return nil, err
		}
		log.Info().Str("service", "eventbus").Str("url", conf.NatsURL).Msg("using nats")
		return eventbus.NatsPubSub(nc), nil
	default:
		log.Info().Str("service", "eventbus").Msg("using in-process bus")
		return eventbus.NewLocalBus(), nil
	}
}
