// Package notify delivers operator alerts as Web Push notifications and
// remembers which session each delivered notification points at, so a
// click can be resolved back to a selection.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/c-pro/geche"

	"helpdesk/internal/models"
)

const (
	DefaultPendingTTL = 24 * time.Hour
	defaultPushTTL    = 60 * 60
)

var ErrNoPendingSelection = errors.New("no pending selection for notification")

type Permission string

const (
	PermissionUnsupported Permission = "unsupported"
	PermissionDenied      Permission = "denied"
	PermissionGranted     Permission = "granted"
)

// Target is the session a notification click should open.
type Target struct {
	UserID   string `json:"userId"`
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
	Data  Target `json:"data"`
}

type subscriptionStore interface {
	ListSubscriptions() ([]models.PushSubscription, error)
	DeleteSubscription(endpoint string) error
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	PendingTTL      time.Duration
	HTTPClient      webpush.HTTPClient
}

type pendingTarget struct {
	Target
	at time.Time
}

type WebPush struct {
	cfg     Config
	store   subscriptionStore
	pending geche.Geche[string, pendingTarget]
	log     *slog.Logger
	now     func() time.Time
}

func NewWebPush(ctx context.Context, cfg Config, store subscriptionStore, logger *slog.Logger) *WebPush {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebPush{
		cfg:     cfg,
		store:   store,
		pending: geche.NewMapTTLCache[string, pendingTarget](ctx, cfg.PendingTTL, time.Minute),
		log:     logger.With("component", "notify"),
		now:     time.Now,
	}
}

// RequestPermission reports whether notifications can currently be delivered.
func (w *WebPush) RequestPermission(ctx context.Context) Permission {
	if w.cfg.VAPIDPublicKey == "" || w.cfg.VAPIDPrivateKey == "" {
		return PermissionUnsupported
	}
	subs, err := w.store.ListSubscriptions()
	if err != nil {
		w.log.Warn("failed to list push subscriptions", "error", err)
		return PermissionDenied
	}
	if len(subs) == 0 {
		return PermissionDenied
	}
	return PermissionGranted
}

// Notify pushes n to every registered subscription. Without permission it does nothing.
func (w *WebPush) Notify(ctx context.Context, n Notification) error {
	w.pending.Set(n.Tag, pendingTarget{Target: n.Data, at: w.now()})

	if w.RequestPermission(ctx) != PermissionGranted {
		w.log.Debug("notification skipped, no permission", "tag", n.Tag)
		return nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	subs, err := w.store.ListSubscriptions()
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}

	var errs []error
	for _, sub := range subs {
		if err := w.send(ctx, payload, sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *WebPush) send(ctx context.Context, payload []byte, sub models.PushSubscription) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &webpush.Options{
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: w.cfg.VAPIDPrivateKey,
		TTL:             defaultPushTTL,
		Urgency:         webpush.UrgencyHigh,
		HTTPClient:      w.cfg.HTTPClient,
	})
	if err != nil {
		return fmt.Errorf("push to %s: %w", sub.Endpoint, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		w.log.Info("pruning expired push subscription", "endpoint", sub.Endpoint)
		if err := w.store.DeleteSubscription(sub.Endpoint); err != nil {
			return fmt.Errorf("failed to prune subscription: %w", err)
		}
	case resp.StatusCode >= 400:
		return fmt.Errorf("push to %s: status %d", sub.Endpoint, resp.StatusCode)
	}
	return nil
}

// Resolve consumes the pending selection recorded for a delivered notification.
func (w *WebPush) Resolve(tag string) (Target, error) {
	p, err := w.pending.Get(tag)
	if err != nil {
		return Target{}, ErrNoPendingSelection
	}
	_ = w.pending.Del(tag)
	// The cache sweeps once a minute; entries between sweeps may be stale.
	if w.now().Sub(p.at) >= w.cfg.PendingTTL {
		return Target{}, ErrNoPendingSelection
	}
	return p.Target, nil
}

func (w *WebPush) PublicKey() string {
	return w.cfg.VAPIDPublicKey
}
