package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

const (
	defaultPort           = 3000
	defaultMaxMessageSize = 4096
	defaultSendQueueSize  = 16
	defaultWriteTimeout   = 5 * time.Second
	defaultIdleTimeout    = 5 * time.Minute
)

// Config holds runtime settings. Zero values are replaced by defaults.
type Config struct {
	Port           int
	AllowedOrigins []string
	MaxMessageSize int64
	SendQueueSize  int
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	LogLevel       string
	LogFormat      string
}

func DefaultConfig() Config {
	return Config{
		Port:           defaultPort,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: defaultMaxMessageSize,
		SendQueueSize:  defaultSendQueueSize,
		WriteTimeout:   defaultWriteTimeout,
		IdleTimeout:    defaultIdleTimeout,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// ConfigFromEnv reads the process environment (and any .env file picked up
// by godotenv). Unparseable values keep their defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = parseIntValue(v, cfg.Port)
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = parseOrigins(v)
	}
	if v := os.Getenv("MAX_MESSAGE_SIZE"); v != "" {
		cfg.MaxMessageSize = int64(parseIntValue(v, int(cfg.MaxMessageSize)))
	}
	if v := os.Getenv("SEND_QUEUE_SIZE"); v != "" {
		cfg.SendQueueSize = parseIntValue(v, cfg.SendQueueSize)
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		cfg.WriteTimeout = parseSeconds(v, cfg.WriteTimeout)
	}
	if v := os.Getenv("IDLE_TIMEOUT"); v != "" {
		cfg.IdleTimeout = parseSeconds(v, cfg.IdleTimeout)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(v))
	}

	return cfg.sanitize()
}

func (c Config) sanitize() Config {
	d := DefaultConfig()
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = d.Port
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = d.AllowedOrigins
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	return c
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
