package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SherClockHolmes/webpush-go"
)

// Notifier delivers a platform-level notification. Delivery is best effort;
// callers never retry.
type Notifier interface {
	Notify(ctx context.Context, title, body, link string) error
}

// NopNotifier discards notifications. Used for headless runs and tests.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string, string) error { return nil }

// WebPushNotifier delivers notifications over the Web Push protocol with
// VAPID authentication.
type WebPushNotifier struct {
	sub        *webpush.Subscription
	subscriber string
	publicKey  string
	privateKey string
}

// NewWebPushNotifier parses a browser push subscription (the JSON produced
// by PushManager.subscribe) and pairs it with a VAPID key pair.
func NewWebPushNotifier(subscriptionJSON []byte, subscriber, vapidPublic, vapidPrivate string) (*WebPushNotifier, error) {
	sub := &webpush.Subscription{}
	if err := json.Unmarshal(subscriptionJSON, sub); err != nil {
		return nil, fmt.Errorf("parse push subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, fmt.Errorf("push subscription has no endpoint")
	}
	return &WebPushNotifier{
		sub:        sub,
		subscriber: subscriber,
		publicKey:  vapidPublic,
		privateKey: vapidPrivate,
	}, nil
}

func (n *WebPushNotifier) Notify(ctx context.Context, title, body, link string) error {
	payload, err := json.Marshal(map[string]string{
		"title": title,
		"body":  body,
		"url":   link,
	})
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, n.sub, &webpush.Options{
		Subscriber:      n.subscriber,
		VAPIDPublicKey:  n.publicKey,
		VAPIDPrivateKey: n.privateKey,
		TTL:             60,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("push endpoint returned %s", resp.Status)
	}
	return nil
}
