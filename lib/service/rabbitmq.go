package service

import (
	"context"
	"encoding/json"
	"io"

	"github.com/payhub/payhub.go/db/models"
	"github.com/payhub/payhub.go/rabbitmq"
)

// StartChainTransactionConsumer feeds transactions reported by an external
// chain watcher into the push path.
func (svc *PayhubService) StartChainTransactionConsumer(ctx context.Context) error {
	return svc.RabbitMQClient.SubscribeToChainTransactions(ctx, func(ctx context.Context, tx *rabbitmq.ChainTransaction) error {
		_, err := svc.HandleChainTransaction(ctx, tx.Chain, tx.Address, tx.TxHash)
		return err
	})
}

func (svc *PayhubService) StartEventPublisher(ctx context.Context) error {
	return svc.RabbitMQClient.StartPublishEvents(ctx, svc.SubscribeToEvents, svc.EncodeEvent)
}

func (svc *PayhubService) EncodeEvent(ctx context.Context, w io.Writer, event models.Notification) error {
	return json.NewEncoder(w).Encode(event)
}

// PublishEvents hands a fixed list of notifications to the event exchange and
// returns once all of them were published.
func (svc *PayhubService) PublishEvents(ctx context.Context, notifications []models.Notification) error {
	events := make(chan models.Notification, len(notifications))
	for _, n := range notifications {
		events <- n
	}
	close(events)
	return svc.RabbitMQClient.StartPublishEvents(ctx,
		func() (chan models.Notification, func(), error) { return events, func() {}, nil },
		svc.EncodeEvent,
	)
}
