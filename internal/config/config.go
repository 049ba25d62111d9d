package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/shuklatul1021/Waveline/internal/media"
	pkgconfig "github.com/shuklatul1021/Waveline/pkg/config"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Media     media.Config
	Meetings  MeetingsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// MeetingsConfig points at the meetings directory service. When Enabled is
// false the signaling server admits any room ID without a lookup.
type MeetingsConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	HTTPAddress string        `mapstructure:"http_address"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4000)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("media.udp_port_min", 40000)
	v.SetDefault("media.udp_port_max", 49999)
	v.SetDefault("media.announced_ip", "")
	v.SetDefault("meetings.enabled", false)
	v.SetDefault("meetings.http_address", "http://localhost:3000")
	v.SetDefault("meetings.cache_ttl", "5m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("media.udp_port_min", "MEDIA_UDP_PORT_MIN")
	v.BindEnv("media.udp_port_max", "MEDIA_UDP_PORT_MAX")
	v.BindEnv("media.announced_ip", "MEDIA_ANNOUNCED_IP")
	v.BindEnv("meetings.http_address", "MEETINGS_HTTP_ADDRESS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Meetings.CacheTTL = parseDuration(v, "meetings.cache_ttl", 5*time.Minute)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
