package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tariel-x/tutorlive/internal/config"
	"github.com/tariel-x/tutorlive/internal/models"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"
)

var ErrDisabled = errors.New("web push is not configured")

// maxFailures consecutive rejected deliveries drop a subscription.
const maxFailures = 5

// Notification is the JSON document handed to the service worker.
type Notification struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

type sendFunc func(ctx context.Context, message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

// Notifier stores browser subscriptions and delivers Web Push notifications to them.
type Notifier struct {
	db    *gorm.DB
	keys  *config.VAPIDKeys
	ttl   int
	send  sendFunc
	nowFn func() time.Time
}

func NewNotifier(db *gorm.DB, keys *config.VAPIDKeys) *Notifier {
	return &Notifier{
		db:   db,
		keys: keys,
		ttl:   60,
		send:  webpush.SendNotificationWithContext,
		nowFn: time.Now,
	}
}

// Subscribe replaces every subscription of userID with the given one. An endpoint
// previously registered by another identity moves to userID.
func (n *Notifier) Subscribe(ctx context.Context, userID, endpoint, p256dh, auth string) (*models.PushSubscription, error) {
	sub := &models.PushSubscription{
		UserID:   userID,
		Endpoint: endpoint,
		P256DH:   p256dh,
		Auth:     auth,
	}
	err := n.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? OR endpoint = ?", userID, endpoint).Delete(&models.PushSubscription{}).Error; err != nil {
			return err
		}
		return tx.Create(sub).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save push subscription: %w", err)
	}
	return sub, nil
}

func (n *Notifier) Unsubscribe(ctx context.Context, userID string) (int64, error) {
	res := n.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.PushSubscription{})
	return res.RowsAffected, res.Error
}

// Notify pushes note to every subscription of userID. Subscriptions the push service
// reports as gone, or that keep failing, are deleted. Users without subscriptions are
// not an error.
func (n *Notifier) Notify(ctx context.Context, userID string, note Notification) error {
	if n.keys == nil {
		return ErrDisabled
	}

	var subs []models.PushSubscription
	if err := n.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return fmt.Errorf("failed to load push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(note)
	if err != nil {
		return err
	}

	var errs []error
	for _, sub := range subs {
		resp, err := n.send(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256DH,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      n.keys.Subject,
			VAPIDPublicKey:  n.keys.PublicKey,
			VAPIDPrivateKey: n.keys.PrivateKey,
			TTL:             n.ttl,
			Urgency:         webpush.UrgencyNormal,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			slog.Default().Debug("push subscription expired", "user_id", userID, "subscription_id", sub.ID)
			if err := n.remove(ctx, sub.ID); err != nil {
				errs = append(errs, err)
			}
		case resp.StatusCode >= 300:
			errs = append(errs, fmt.Errorf("push service returned %d", resp.StatusCode))
			if err := n.recordFailure(ctx, sub); err != nil {
				errs = append(errs, err)
			}
		default:
			now := n.nowFn()
			err := n.db.WithContext(ctx).Model(&models.PushSubscription{}).Where("id = ?", sub.ID).
				Updates(map[string]any{"failures": 0, "last_delivered_at": now}).Error
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) recordFailure(ctx context.Context, sub models.PushSubscription) error {
	sub.Failures++
	if sub.Exhausted(maxFailures) {
		slog.Default().Debug("push subscription dropped after repeated failures", "user_id", sub.UserID, "subscription_id", sub.ID)
		return n.remove(ctx, sub.ID)
	}
	return n.db.WithContext(ctx).Model(&models.PushSubscription{}).Where("id = ?", sub.ID).
		Update("failures", sub.Failures).Error
}

func (n *Notifier) remove(ctx context.Context, id string) error {
	return n.db.WithContext(ctx).Delete(&models.PushSubscription{}, "id = ?", id).Error
}

// NotifyAsync delivers note in the background with a bounded timeout.
func (n *Notifier) NotifyAsync(userID string, note Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.Notify(ctx, userID, note); err != nil && !errors.Is(err, ErrDisabled) {
			slog.Default().Warn("push notification failed", "user_id", userID, "error", err)
		}
	}()
}
