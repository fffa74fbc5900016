// Package push delivers Web Push notifications to recipients who have no
// live connection. Subscriptions live in Redis (or memory in -dev) and are
// sent through VAPID.
package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/localmart/messaging/internal/logger"
)

const (
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

// Subscription is the browser-side push subscription.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// SubscriptionStore keeps per-user subscription lists, newest last, capped
// at maxSubsPerUser.
type SubscriptionStore interface {
	Add(ctx context.Context, userID string, sub Subscription) error
	Remove(ctx context.Context, userID, endpoint string) error
	List(ctx context.Context, userID string) ([]Subscription, error)
}

// Dispatcher sends Web Push notifications. A nil vapid config makes Notify
// a no-op while subscriptions keep being accepted.
type Dispatcher struct {
	store SubscriptionStore
	vapid *webpush.Options
}

func NewDispatcher(store SubscriptionStore, keys *VAPIDKeys, subscriber string) *Dispatcher {
	d := &Dispatcher{store: store}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		d.vapid = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return d
}

// Enabled reports whether notifications will actually be sent.
func (d *Dispatcher) Enabled() bool { return d.vapid != nil }

func (d *Dispatcher) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	return d.store.Add(ctx, userID, sub)
}

func (d *Dispatcher) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return d.store.Remove(ctx, userID, endpoint)
}

// Notify sends the notification to every subscription of the user. Gone
// endpoints (404/410) are pruned as they are discovered.
func (d *Dispatcher) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if d.vapid == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	subs, err := d.store.List(ctx, userID)
	if err != nil {
		logger.Errorf("push list subs user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, _ := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, d.vapid)
		if err != nil {
			logger.Errorf("push send %s: %v", truncate(sub.Endpoint, 50), err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			if err := d.store.Remove(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push prune %s: %v", truncate(sub.Endpoint, 50), err)
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
