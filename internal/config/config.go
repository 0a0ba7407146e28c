package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

type UserCfg struct {
	ID    string `mapstructure:"id"`
	Token string `mapstructure:"token"`
}

type APICfg struct {
	BaseURL                string  `mapstructure:"base_url"`
	TimeoutSeconds         int     `mapstructure:"timeout_seconds"`
	RetryMaxElapsedSeconds int     `mapstructure:"retry_max_elapsed_seconds"`
	SendPerSecond          float64 `mapstructure:"send_per_second"`
	SendBurst              int     `mapstructure:"send_burst"`
}

type ChannelCfg struct {
	URL                 string `mapstructure:"url"`
	HeartbeatSeconds    int    `mapstructure:"heartbeat_seconds"`
	ReconnectBaseMs     int    `mapstructure:"reconnect_base_ms"`
	ReconnectMaxSeconds int    `mapstructure:"reconnect_max_seconds"`
}

// TypingCfg holds the typing policy windows. These are policy knobs, not
// protocol constants: the server's stop event is expected but not
// guaranteed, so the decay window is the client's own safety net.
type TypingCfg struct {
	QuietWindowSeconds int `mapstructure:"quiet_window_seconds"`
	DecaySeconds       int `mapstructure:"decay_seconds"`
}

type LogCfg struct {
	Development bool `mapstructure:"development"`
}

type MetricsCfg struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	User    UserCfg    `mapstructure:"user"`
	API     APICfg     `mapstructure:"api"`
	Channel ChannelCfg `mapstructure:"channel"`
	Typing  TypingCfg  `mapstructure:"typing"`
	Log     LogCfg     `mapstructure:"log"`
	Metrics MetricsCfg `mapstructure:"metrics"`

	// Derived
	APITimeout      time.Duration
	APIRetryElapsed time.Duration
	Heartbeat       time.Duration
	ReconnectBase   time.Duration
	ReconnectMax    time.Duration
	TypingQuiet     time.Duration
	TypingDecay     time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.API.BaseURL == "" {
		return nil, errors.New("api.base_url missing")
	}
	if cfg.Channel.URL == "" {
		return nil, errors.New("channel.url missing")
	}
	if cfg.User.ID == "" {
		return nil, errors.New("user.id missing")
	}

	if cfg.API.TimeoutSeconds == 0 {
		cfg.API.TimeoutSeconds = 15
	}
	if cfg.API.RetryMaxElapsedSeconds == 0 {
		cfg.API.RetryMaxElapsedSeconds = 20
	}
	if cfg.Channel.HeartbeatSeconds == 0 {
		cfg.Channel.HeartbeatSeconds = 25
	}
	if cfg.Channel.ReconnectBaseMs == 0 {
		cfg.Channel.ReconnectBaseMs = 1000
	}
	if cfg.Channel.ReconnectMaxSeconds == 0 {
		cfg.Channel.ReconnectMaxSeconds = 30
	}
	if cfg.Typing.QuietWindowSeconds == 0 {
		cfg.Typing.QuietWindowSeconds = 3
	}
	if cfg.Typing.DecaySeconds == 0 {
		cfg.Typing.DecaySeconds = 6
	}

	cfg.APITimeout = time.Duration(cfg.API.TimeoutSeconds) * time.Second
	cfg.APIRetryElapsed = time.Duration(cfg.API.RetryMaxElapsedSeconds) * time.Second
	cfg.Heartbeat = time.Duration(cfg.Channel.HeartbeatSeconds) * time.Second
	cfg.ReconnectBase = time.Duration(cfg.Channel.ReconnectBaseMs) * time.Millisecond
	cfg.ReconnectMax = time.Duration(cfg.Channel.ReconnectMaxSeconds) * time.Second
	cfg.TypingQuiet = time.Duration(cfg.Typing.QuietWindowSeconds) * time.Second
	cfg.TypingDecay = time.Duration(cfg.Typing.DecaySeconds) * time.Second
	return &cfg, nil
}
