package app

import (
	"fmt"
	"time"

	"github.com/sharetube/watchparty/pkg/validator"
)

const (
	TransportInMemory = "inmemory"
	TransportRedis    = "redis"
	TransportWS       = "ws"

	CacheMemory = "memory"
	CachePebble = "pebble"
	CacheRedis  = "redis"
)

type JoinConfig struct {
	Token          string        `json:"-"`
	TokenFile      string        `json:"token_file"`
	RoomID         string        `json:"room_id" validate:"required"`
	APIURL         string        `json:"api_url" validate:"required,url"`
	Transport      string        `json:"transport" validate:"oneof=inmemory redis ws"`
	BrokerURL      string        `json:"broker_url" validate:"required_if=Transport ws"`
	RedisHost      string        `json:"redis_host"`
	RedisPort      int           `json:"redis_port" validate:"gte=0"`
	RedisPassword  string        `json:"-"`
	YouTubeAPIKey  string        `json:"-"`
	Cache          string        `json:"cache" validate:"oneof=memory pebble redis"`
	CachePath      string        `json:"cache_path" validate:"required_if=Cache pebble"`
	VideoID        string        `json:"video_id"`
	Autoplay       bool          `json:"autoplay"`
	ShareURLBase   string        `json:"share_url_base"`
	LogLevel       string        `json:"log_level"`
	ReconnectDelay time.Duration `json:"reconnect_delay"`
	Heartbeat      time.Duration `json:"heartbeat"`
}

func (cfg *JoinConfig) Validate() error {
	if err := validator.New().Validate(cfg); err != nil {
		return err
	}
	if cfg.ReconnectDelay < 0 || cfg.Heartbeat < 0 {
		return fmt.Errorf("reconnect delay and heartbeat must not be negative")
	}
	return nil
}

type BrokerConfig struct {
	Host      string        `json:"host"`
	Port      int           `json:"port" validate:"min=1,max=65535"`
	LogLevel  string        `json:"log_level"`
	Heartbeat time.Duration `json:"heartbeat"`
}

func (cfg *BrokerConfig) Validate() error {
	return validator.New().Validate(cfg)
}
