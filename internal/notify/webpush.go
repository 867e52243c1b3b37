package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/config"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/repository"
)

const defaultIcon = "/img/icon-192.png"

// pushSender posts one encrypted payload and reports the push service's
// HTTP status.
type pushSender func(ctx context.Context, payload []byte, sub domain.PushSubscription) (int, error)

// WebPushChannel delivers browser push notifications to every device a
// user registered.
type WebPushChannel struct {
	subs   repository.PushSubscriptionRepository
	logs   repository.NotificationLogRepository
	send   pushSender
	logger *zap.Logger
	now    func() time.Time
}

// NewWebPushChannel builds the channel from VAPID settings.
func NewWebPushChannel(cfg config.PushConfig, subs repository.PushSubscriptionRepository, logs repository.NotificationLogRepository, logger *zap.Logger) *WebPushChannel {
	return newWebPushChannel(vapidSender(cfg), subs, logs, logger)
}

func newWebPushChannel(send pushSender, subs repository.PushSubscriptionRepository, logs repository.NotificationLogRepository, logger *zap.Logger) *WebPushChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebPushChannel{subs: subs, logs: logs, send: send, logger: logger, now: time.Now}
}

func vapidSender(cfg config.PushConfig) pushSender {
	opts := &webpush.Options{
		Subscriber:      cfg.Subscriber,
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		TTL:             cfg.TTLSeconds,
	}
	return func(ctx context.Context, payload []byte, sub domain.PushSubscription) (int, error) {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{Auth: sub.Auth, P256dh: sub.P256dh},
		}, opts)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= http.StatusBadRequest {
			return resp.StatusCode, fmt.Errorf("push service responded %d", resp.StatusCode)
		}
		return resp.StatusCode, nil
	}
}

func (c *WebPushChannel) Name() string { return "webpush" }

// Send pushes msg to each subscription of recipientID. Gone endpoints are
// removed, other failures bump the subscription's failure counter. One
// log row is written per call.
func (c *WebPushChannel) Send(ctx context.Context, recipientID int64, msg Message) error {
	subs, err := c.subs.ListByUser(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	entry := &domain.NotificationLog{
		UserID:        recipientID,
		Title:         msg.Title,
		Body:          msg.Body,
		TargetDevices: len(subs),
	}
	if len(subs) == 0 {
		return c.writeLog(ctx, entry)
	}

	if msg.Icon == "" {
		msg.Icon = defaultIcon
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, sub := range subs {
		wg.Add(1)
		go func(sub domain.PushSubscription) {
			defer wg.Done()
			ok := c.deliver(ctx, payload, sub)
			mu.Lock()
			if ok {
				entry.Delivered++
			} else {
				entry.Failed++
			}
			mu.Unlock()
		}(sub)
	}
	wg.Wait()

	if err := c.writeLog(ctx, entry); err != nil {
		return err
	}
	if entry.Delivered == 0 {
		return fmt.Errorf("push to user %d failed on %d devices", recipientID, entry.Failed)
	}
	return nil
}

func (c *WebPushChannel) deliver(ctx context.Context, payload []byte, sub domain.PushSubscription) bool {
	status, err := c.send(ctx, payload, sub)
	if err == nil {
		if rerr := c.subs.RecordSuccess(ctx, sub.ID, c.now()); rerr != nil {
			c.logger.Warn("record push success failed", zap.Int64("subscription_id", sub.ID), zap.Error(rerr))
		}
		return true
	}

	if status == http.StatusGone || status == http.StatusNotFound {
		c.logger.Info("removing dead push subscription", zap.Int64("subscription_id", sub.ID), zap.Int("status", status))
		if derr := c.subs.Delete(ctx, sub.ID); derr != nil {
			c.logger.Warn("delete push subscription failed", zap.Int64("subscription_id", sub.ID), zap.Error(derr))
		}
		return false
	}

	c.logger.Warn("push delivery failed", zap.Int64("subscription_id", sub.ID), zap.Int("status", status), zap.Error(err))
	if ferr := c.subs.RecordFailure(ctx, sub.ID); ferr != nil {
		c.logger.Warn("record push failure failed", zap.Int64("subscription_id", sub.ID), zap.Error(ferr))
	}
	return false
}

func (c *WebPushChannel) writeLog(ctx context.Context, entry *domain.NotificationLog) error {
	if c.logs == nil {
		return nil
	}
	if err := c.logs.Create(ctx, entry); err != nil {
		return fmt.Errorf("write notification log: %w", err)
	}
	return nil
}
