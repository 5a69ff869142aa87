package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/isqad/livelook-meet/internal/core"
)

const envPrefix = "livelook"

var DefaultStunServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
}

// Event bus drivers
const (
	LocalBus = "local"
	RedisBus = "redis"
	NatsBus  = "nats"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	EventBus  EventBusConfig  `mapstructure:"eventbus"`
	Signaling SignalingConfig `mapstructure:"signaling"`
	Peer      PeerConfig      `mapstructure:"peer"`
	RTC       RTCConfig       `mapstructure:"rtc"`
}

type AppConfig struct {
	Env core.Environment `mapstructure:"env"`
}

type ServerConfig struct {
	Address        string `mapstructure:"address"`
	MaxMessageSize int64  `mapstructure:"max_message_size"`
}

type EventBusConfig struct {
	Driver    string `mapstructure:"driver"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	NatsURL   string `mapstructure:"nats_url"`
}

type SignalingConfig struct {
	URL              string        `mapstructure:"url"`
	Room             string        `mapstructure:"room"`
	DisplayName      string        `mapstructure:"display_name"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
}

type RTCConfig struct {
	ICEPortRangeStart uint32   `mapstructure:"ice_port_range_start"`
	ICEPortRangeEnd   uint32   `mapstructure:"ice_port_range_end"`
	STUNServers       []string `mapstructure:"stun_servers"`
	TURNServers       []string `mapstructure:"turn_servers"`
	TURNUsername      string   `mapstructure:"turn_username"`
	TURNPassword      string   `mapstructure:"turn_password"`
}

type CodecSpec struct {
	Mime     string `mapstructure:"mime"`
	FmtpLine string `mapstructure:"fmtp_line"`
}

type PeerConfig struct {
	EnabledCodecs []CodecSpec `mapstructure:"enabled_codecs"`
}

// NewConfig returns configuration filled with defaults only
func NewConfig() *Config {
	conf, err := Load(viper.New(), "")
	if err != nil {
		// defaults always decode
		panic(err)
	}
	return conf
}

// Load reads configuration from defaults, an optional file and LIVELOOK_* environment variables,
// later sources win. Command line flags are applied on top by the binaries.
func Load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", string(core.DevelopmentEnv))

	v.SetDefault("server.address", ":80")
	v.SetDefault("server.max_message_size", 200*1024)

	v.SetDefault("eventbus.driver", LocalBus)
	v.SetDefault("eventbus.redis_addr", "localhost:6379")
	v.SetDefault("eventbus.redis_db", 0)
	v.SetDefault("eventbus.nats_url", "nats://localhost:4222")

	v.SetDefault("signaling.url", "ws://localhost:80/ws")
	v.SetDefault("signaling.room", "")
	v.SetDefault("signaling.display_name", "")
	v.SetDefault("signaling.max_reconnects", 5)
	v.SetDefault("signaling.reconnect_backoff", time.Second)

	v.SetDefault("rtc.ice_port_range_start", 50000)
	v.SetDefault("rtc.ice_port_range_end", 60000)
	v.SetDefault("rtc.stun_servers", DefaultStunServers)
	v.SetDefault("rtc.turn_servers", []string{})
	v.SetDefault("rtc.turn_username", "")
	v.SetDefault("rtc.turn_password", "")

	v.SetDefault("peer.enabled_codecs", []map[string]string{
		{"mime": "audio/opus"},
		{"mime": "video/VP8"},
	})
}

func (c *Config) Validate() error {
	if err := c.App.Env.Validate(); err != nil {
		return err
	}

	switch c.EventBus.Driver {
	case LocalBus, RedisBus, NatsBus:
	default:
		return fmt.Errorf("unknown eventbus driver %q", c.EventBus.Driver)
	}

	if c.RTC.ICEPortRangeStart > c.RTC.ICEPortRangeEnd {
		return fmt.Errorf("invalid ICE port range %d-%d", c.RTC.ICEPortRangeStart, c.RTC.ICEPortRangeEnd)
	}

	if c.Signaling.MaxReconnects < 0 {
		return fmt.Errorf("signaling.max_reconnects must not be negative")
	}

	return nil
}
