package notification

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"

	"table-status-backend/internal/model"
	"table-status-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// pushPayload is the JSON body the service worker receives.
type pushPayload struct {
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	TableID string            `json:"tableId"`
	Status  model.TableStatus `json:"status"`
	Sound   bool              `json:"sound"`
}

// WorkerPool delivers table alerts to every registered staff push subscription.
type WorkerPool struct {
	size    int
	jobs    chan Event
	subs    store.SubscriptionStore
	webpush *webpush.Options
	sender  NotificationSender
	log     logrus.FieldLogger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, subs store.SubscriptionStore, webpushOptions *webpush.Options, log logrus.FieldLogger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Event, size), // Buffered channel
		subs:    subs,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	logger := wp.log.WithField("worker", id)
	logger.Debug("push worker started")
	for {
		select {
		case e := <-wp.jobs:
			logger.WithField("table_id", e.TableID).Debug("delivering table alert")
			wp.sendAlert(ctx, e)
		case <-ctx.Done():
			logger.Debug("push worker shutting down")
			return
		}
	}
}

// Dispatch queues an alert for delivery. Events that are not alerts are ignored.
func (wp *WorkerPool) Dispatch(e Event) {
	if !e.Alert {
		return
	}
	wp.jobs <- e
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Event {
	return wp.jobs
}

func (wp *WorkerPool) sendAlert(ctx context.Context, e Event) {
	subscriptions, err := wp.subs.ListSubscriptions(ctx)
	if err != nil {
		wp.log.WithError(err).Error("failed to list push subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(pushPayload{
		Title:   e.TableName,
		Body:    e.Message(),
		TableID: e.TableID,
		Status:  e.To,
		Sound:   e.Alert,
	})
	if err != nil {
		wp.log.WithError(err).Error("failed to encode push payload")
		return
	}

	wp.log.WithFields(logrus.Fields{"table_id": e.TableID, "count": len(subscriptions)}).Info("sending table alert")
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.WithError(err).WithField("endpoint", sub.Endpoint).Warn("failed to send push notification")
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.log.WithField("endpoint", sub.Endpoint).Info("push subscription expired; deleting")
		if err := wp.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.WithError(err).WithField("endpoint", sub.Endpoint).Error("failed to delete expired subscription")
		}
	}
}
