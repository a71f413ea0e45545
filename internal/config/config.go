package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	FeedURL     string
	UserID      string
	Username    string
	UserToken   string
	ServerAddr  string
	LogLevel    slog.Level

	LiveKitAPIKey    string
	LiveKitAPISecret string

	MinIOEndpoint    string
	MinIOAccessKey   string
	MinIOSecretKey   string
	AttachmentBucket string

	// Web Push delivery; all empty disables platform notifications.
	VAPIDPublicKey   string
	VAPIDPrivateKey  string
	VAPIDSubscriber  string
	PushSubscription string
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    envOrDefault("REDIS_URL", "redis://localhost:6379"),
		FeedURL:     envOrDefault("FEED_URL", "ws://localhost:8090/gateway"),
		UserID:      os.Getenv("CHATSYNC_USER_ID"),
		Username:    envOrDefault("CHATSYNC_USERNAME", "anonymous"),
		UserToken:   os.Getenv("CHATSYNC_TOKEN"),
		ServerAddr:  envOrDefault("SERVER_ADDR", "127.0.0.1:7080"),
		LogLevel:    parseLogLevel(os.Getenv("LOG_LEVEL")),

		LiveKitAPIKey:    os.Getenv("LIVEKIT_API_KEY"),
		LiveKitAPISecret: os.Getenv("LIVEKIT_API_SECRET"),

		MinIOEndpoint:    os.Getenv("MINIO_ENDPOINT"),
		MinIOAccessKey:   os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey:   os.Getenv("MINIO_SECRET_KEY"),
		AttachmentBucket: envOrDefault("MINIO_BUCKET", "attachments"),

		VAPIDPublicKey:   os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:  os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber:  os.Getenv("VAPID_SUBSCRIBER"),
		PushSubscription: os.Getenv("PUSH_SUBSCRIPTION"),
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.UserID == "" {
		missing = append(missing, "CHATSYNC_USER_ID")
	}
	if cfg.UserToken == "" {
		missing = append(missing, "CHATSYNC_TOKEN")
	}
	if len(missing) > 0 {
		panic(fmt.Sprintf("required environment variables not set: %s", strings.Join(missing, ", ")))
	}

	return cfg
}

// PushEnabled reports whether the Web Push notifier is fully configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != "" && c.PushSubscription != ""
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
