package config

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type ServerCfg struct {
	Port                string `mapstructure:"port"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
}

type StoreCfg struct {
	Driver string `mapstructure:"driver" validate:"oneof=mongo badger"`
	// Path backs the badger driver; empty means in-memory.
	Path string `mapstructure:"path"`
}

type MongoCfg struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisCfg struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type KafkaCfg struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type JWTCfg struct {
	Secret string `mapstructure:"secret" validate:"required"`
}

type WSCfg struct {
	RateLimitPerSec int `mapstructure:"rate_limit_per_sec"`
	SendBuffer      int `mapstructure:"send_buffer"`
}

type Config struct {
	Development bool      `mapstructure:"development"`
	Server      ServerCfg `mapstructure:"server"`
	Store       StoreCfg  `mapstructure:"store"`
	Mongo       MongoCfg  `mapstructure:"mongo"`
	Redis       RedisCfg  `mapstructure:"redis"`
	Kafka       KafkaCfg  `mapstructure:"kafka"`
	JWT         JWTCfg    `mapstructure:"jwt"`
	WS          WSCfg     `mapstructure:"ws"`

	// Derived
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Load reads the config file at path (optional when everything comes from the
// environment) with APP_-prefixed env overrides, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, err
	}

	cfg.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	cfg.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8086"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 15
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "mongo"
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = "mongodb://localhost:27017"
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "messaging"
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "messaging:events"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "messaging.events"
	}
	if cfg.WS.RateLimitPerSec == 0 {
		cfg.WS.RateLimitPerSec = 10
	}
	if cfg.WS.SendBuffer == 0 {
		cfg.WS.SendBuffer = 256
	}
}
