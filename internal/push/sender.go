package push

import (
	"context"
	"encoding/json"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/clientportal/internal/logger"
	"github.com/clientportal/internal/model"
)

// SubscriptionStore отдаёт сохранённые подписки пользователя и удаляет протухшие.
type SubscriptionStore interface {
	GetByUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
	Delete(ctx context.Context, userID, endpoint string) error
}

// Sender отправляет Web Push напрямую из процесса API. Если keys == nil — методы no-op.
type Sender struct {
	keys       *VAPIDKeys
	subs       SubscriptionStore
	subscriber string
}

// NewSender создаёт отправителя. subscriber — mailto: или URL владельца (требование VAPID).
func NewSender(keys *VAPIDKeys, subs SubscriptionStore, subscriber string) *Sender {
	if subscriber == "" {
		subscriber = "mailto:admin@localhost"
	}
	return &Sender{keys: keys, subs: subs, subscriber: subscriber}
}

type notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify отправляет пуш на все подписки пользователя. Ошибки логируются,
// подписки с кодом 404/410 удаляются (браузер отозвал endpoint).
func (s *Sender) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if s == nil || s.keys == nil {
		return
	}
	subs, err := s.subs.GetByUser(ctx, userID)
	if err != nil {
		logger.Errorf("push: get subscriptions user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(notification{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push: marshal notification: %v", err)
		return
	}
	for _, sub := range subs {
		target := &webpush.Subscription{Endpoint: sub.Endpoint}
		target.Keys.P256dh = sub.P256dh
		target.Keys.Auth = sub.Auth
		resp, err := webpush.SendNotificationWithContext(ctx, payload, target, &webpush.Options{
			Subscriber:      s.subscriber,
			VAPIDPublicKey:  s.keys.PublicKey,
			VAPIDPrivateKey: s.keys.PrivateKey,
			TTL:             60,
		})
		if err != nil {
			logger.Errorf("push: send user=%s: %v", userID, err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			if err := s.subs.Delete(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push: delete stale subscription user=%s: %v", userID, err)
			}
		}
		resp.Body.Close()
	}
}
