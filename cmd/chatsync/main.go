package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dkraev/chatsync/internal/api"
	"github.com/dkraev/chatsync/internal/bus"
	"github.com/dkraev/chatsync/internal/config"
	"github.com/dkraev/chatsync/internal/database"
	"github.com/dkraev/chatsync/internal/notify"
	"github.com/dkraev/chatsync/internal/reactions"
	"github.com/dkraev/chatsync/internal/storage"
	"github.com/dkraev/chatsync/internal/store"
	"github.com/dkraev/chatsync/internal/voice"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	// --- Infrastructure ---

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	roster, err := voice.NewRoster(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer roster.Close()

	var uploader *storage.Uploader
	if cfg.MinIOEndpoint != "" {
		uploader, err = storage.NewUploader(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.AttachmentBucket)
		if err != nil {
			log.Fatalf("minio: %v", err)
		}
	}

	// --- Repositories ---

	messages := database.NewMessageRepository(pool)
	memberships := database.NewMembershipRepository(pool)
	reactionWrites := database.NewReactionRepository(pool)

	// --- Event feed ---

	feed := bus.NewClient(cfg.FeedURL, cfg.UserToken)
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	go feed.Run(feedCtx)

	// --- Sync core ---

	msgStore := store.New(cfg.UserID, messages, reactionWrites, feed, reactions.NewAggregator())
	defer msgStore.Close()

	var notifier notify.Notifier
	if cfg.PushEnabled() {
		notifier, err = notify.NewWebPushNotifier([]byte(cfg.PushSubscription), cfg.VAPIDSubscriber, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
		if err != nil {
			log.Fatalf("web push: %v", err)
		}
	}
	router := notify.NewRouter(cfg.UserID, feed, memberships, notifier)
	defer router.Close()
	if err := router.Start(); err != nil {
		log.Fatalf("notification router: %v", err)
	}

	voiceManager := voice.NewManager(cfg.UserID, cfg.Username, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, roster)
	defer voiceManager.Close()

	// --- Handlers ---

	deps := &api.Dependencies{
		Sync:          api.NewSyncHandler(msgStore, router),
		Notifications: api.NewNotificationHandler(router),
		Voice:         api.NewVoiceHandler(voiceManager),
		Uploads:       newUploadHandler(uploader),
	}

	// --- Echo ---

	e := echo.New()
	e.HidePort = true
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	api.SetupRouter(e, deps)

	// --- Start ---

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("chatsync core listening on %s", cfg.ServerAddr)
		if err := e.Start(cfg.ServerAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("shutting down...")
	feed.Close()
	if err := e.Shutdown(context.Background()); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

// newUploadHandler keeps the nil uploader a nil interface so the handler can
// report uploads as unconfigured.
func newUploadHandler(uploader *storage.Uploader) *api.UploadHandler {
	if uploader == nil {
		return api.NewUploadHandler(nil)
	}
	return api.NewUploadHandler(uploader)
}
