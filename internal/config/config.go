package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBFile            string
	DashboardAddr     string
	SocketURL         string
	APIURL            string
	UploadsPath       string
	HistoryLimit      int
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	AckTimeout        time.Duration
	MaxAttachmentSize int64
	VAPIDPublicKey    string
	VAPIDPrivateKey   string
	VAPIDSubscriber   string
	LogFormat         string
	LogLevel          slog.Level
}

// Load reads the configuration from the environment. A .env file in the
// working directory, when present, fills variables that are not already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var errs []error
	intEnv := func(key string, fallback int) int {
		v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return v
	}
	durationEnv := func(key, fallback string) time.Duration {
		v, err := time.ParseDuration(getEnv(key, fallback))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return v
	}

	cfg := &Config{
		DBFile:            getEnv("HELPDESK_DB", "helpdesk.db"),
		DashboardAddr:     getEnv("DASHBOARD_ADDR", "localhost:8090"),
		SocketURL:         getEnv("SOCKET_URL", "ws://localhost:3001/ws"),
		APIURL:            getEnv("API_URL", "http://localhost:3001/api"),
		UploadsPath:       getEnv("UPLOADS_PATH", "uploads"),
		HistoryLimit:      intEnv("HISTORY_LIMIT", 100),
		ReconnectAttempts: intEnv("RECONNECT_ATTEMPTS", 5),
		ReconnectDelay:    durationEnv("RECONNECT_DELAY", "1s"),
		AckTimeout:        durationEnv("ACK_TIMEOUT", "10s"),
		MaxAttachmentSize: int64(intEnv("MAX_ATTACHMENT_SIZE", 10<<20)),
		VAPIDPublicKey:    os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:   os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber:   getEnv("VAPID_SUBSCRIBER", "helpdesk@localhost"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	for key, raw := range map[string]string{"SOCKET_URL": c.SocketURL, "API_URL": c.APIURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", key)
		}
	}

	if u, _ := url.Parse(c.SocketURL); u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("SOCKET_URL must use ws or wss")
	}

	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be greater than 0")
	}

	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("RECONNECT_ATTEMPTS must not be negative")
	}

	if c.ReconnectDelay <= 0 || c.AckTimeout <= 0 {
		return fmt.Errorf("RECONNECT_DELAY and ACK_TIMEOUT must be greater than 0")
	}

	if c.MaxAttachmentSize <= 0 {
		return fmt.Errorf("MAX_ATTACHMENT_SIZE must be greater than 0")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	if c.LogFormat != "json" && c.LogFormat != "dev" {
		return fmt.Errorf("LOG_FORMAT must be json or dev")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
