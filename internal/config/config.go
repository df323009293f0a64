// Package config loads the Chatline server configuration from TOML.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultJWTExpiresIn     = "24h"
	DefaultWidgetExpiresIn  = "720h"
	DefaultPGHost           = "127.0.0.1"
	DefaultPGPort           = 5432
	DefaultPGUser           = "postgres"
	DefaultPGDatabase       = "chatline"
	DefaultPGSSLMode        = "disable"
	DefaultPresenceTTL      = 45 * time.Second
	DefaultWhatsAppStoreDir = "data/whatsapp"
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Auth       AuthConfig       `toml:"auth"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Realtime   RealtimeConfig   `toml:"realtime"`
	Channels   ChannelsConfig   `toml:"channels"`
	Automation AutomationConfig `toml:"automation"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret       string `toml:"jwt_secret"`
	JWTExpiresIn    string `toml:"jwt_expires_in"`
	WidgetExpiresIn string `toml:"widget_expires_in"`
}

// JWTExpiry returns the agent token lifetime, falling back to the default on
// a missing or malformed value.
func (c AuthConfig) JWTExpiry() time.Duration {
	return parseDuration(c.JWTExpiresIn, DefaultJWTExpiresIn)
}

// WidgetExpiry returns the widget session token lifetime.
func (c AuthConfig) WidgetExpiry() time.Duration {
	return parseDuration(c.WidgetExpiresIn, DefaultWidgetExpiresIn)
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

type RealtimeConfig struct {
	PresenceTTLSeconds int `toml:"presence_ttl_seconds"`
	SendBuffer         int `toml:"send_buffer"`
}

// PresenceTTL returns the presence entry lifetime.
func (c RealtimeConfig) PresenceTTL() time.Duration {
	if c.PresenceTTLSeconds <= 0 {
		return DefaultPresenceTTL
	}
	return time.Duration(c.PresenceTTLSeconds) * time.Second
}

type ChannelsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	WhatsApp WhatsAppConfig `toml:"whatsapp"`
}

type TelegramConfig struct {
	// WebhookSecret is compared against Telegram's
	// X-Telegram-Bot-Api-Secret-Token header when set.
	WebhookSecret string `toml:"webhook_secret"`
}

type WhatsAppConfig struct {
	StoreDir          string `toml:"store_dir"`
	ReconnectRetries  int    `toml:"reconnect_retries"`
	ReconnectDelaySec int    `toml:"reconnect_delay_seconds"`
}

// ReconnectDelay returns the fixed delay between reconnect attempts.
func (c WhatsAppConfig) ReconnectDelay() time.Duration {
	if c.ReconnectDelaySec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ReconnectDelaySec) * time.Second
}

type AutomationConfig struct {
	QueueSize int `toml:"queue_size"`
	Workers   int `toml:"workers"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn:    DefaultJWTExpiresIn,
			WidgetExpiresIn: DefaultWidgetExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Realtime: RealtimeConfig{
			PresenceTTLSeconds: int(DefaultPresenceTTL / time.Second),
			SendBuffer:         64,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				StoreDir:          DefaultWhatsAppStoreDir,
				ReconnectRetries:  5,
				ReconnectDelaySec: 5,
			},
		},
		Automation: AutomationConfig{
			QueueSize: 256,
			Workers:   4,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func parseDuration(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}
