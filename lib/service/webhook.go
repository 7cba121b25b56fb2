package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/payhub/payhub.go/db/models"
)

var webhookClient = &http.Client{Timeout: 10 * time.Second}

func (svc *PayhubService) StartWebhookSubscription(ctx context.Context) {
	svc.Logger.Infof("Starting webhook subscription with webhook url %s", svc.Config.WebhookUrl)
	events := make(chan models.Notification, 100)
	subId, err := svc.EventPubSub.Subscribe(EventTopicAll, events)
	if err != nil {
		svc.Logger.Error(err)
		return
	}
	defer svc.EventPubSub.Unsubscribe(subId, EventTopicAll)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			svc.postToWebhook(ctx, event)
		}
	}
}

// DeliverNotifications sends notifications collected by a process that runs
// no publisher routines, to the webhook and the event exchange when those are
// configured. It reports false when neither is.
func (svc *PayhubService) DeliverNotifications(ctx context.Context, notifications []models.Notification) (bool, error) {
	delivered := false
	if svc.Config.WebhookUrl != "" {
		for _, n := range notifications {
			svc.postToWebhook(ctx, n)
		}
		delivered = true
	}
	if svc.RabbitMQClient != nil {
		if err := svc.PublishEvents(ctx, notifications); err != nil {
			return delivered, err
		}
		delivered = true
	}
	return delivered, nil
}

func (svc *PayhubService) postToWebhook(ctx context.Context, event models.Notification) {
	payload := new(bytes.Buffer)
	err := json.NewEncoder(payload).Encode(event)
	if err != nil {
		svc.Logger.Error(err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.Config.WebhookUrl, payload)
	if err != nil {
		svc.Logger.Error(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Payhub-Event", event.Type)

	resp, err := webhookClient.Do(req)
	if err != nil {
		svc.Logger.Error(err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			svc.Logger.Error(err)
		}
		svc.Logger.Errorf("Webhook status code was %d, body: %s", resp.StatusCode, msg)
	}
}
