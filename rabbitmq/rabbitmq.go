package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/gommon/log"
	"github.com/payhub/payhub.go/db/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"
)

// bufPool is a classic buffer pool pattern that allows more clever reuse of heap memory.
// Instead of allocating new memory everytime we need to encode an event we
// reuse buffers from this buffer pool.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

const (
	contentTypeJSON = "application/json"

	chainTxRoutingKey = "tx.#"
)

// ChainTransaction is the message an external chain watcher publishes when it
// sees a transaction paying to one of our addresses.
type ChainTransaction struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	TxHash  string `json:"tx_hash"`
}

func (tx *ChainTransaction) Validate() error {
	if tx.Chain == "" || tx.Address == "" || tx.TxHash == "" {
		return fmt.Errorf("chain transaction needs chain, address and tx_hash: %+v", *tx)
	}
	return nil
}

type (
	ChainTransactionHandler = func(ctx context.Context, tx *ChainTransaction) error
	SubscribeToEventsFunc   = func() (events chan models.Notification, unsubscribe func(), err error)
	EncodeEventFunc         = func(ctx context.Context, w io.Writer, event models.Notification) error
)

type Client interface {
	SubscribeToChainTransactions(context.Context, ChainTransactionHandler) error
	StartPublishEvents(context.Context, SubscribeToEventsFunc, EncodeEventFunc) error
	// Close will close all connections to rabbitmq
	Close() error
}

type DefaultClient struct {
	amqpClient AMQPClient

	logger *lecho.Logger

	chainTxExchange  string
	chainTxQueueName string
	eventExchange    string
}

type ClientOption = func(client *DefaultClient)

func WithChainTxExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.chainTxExchange = exchange
	}
}

func WithChainTxQueueName(name string) ClientOption {
	return func(client *DefaultClient) {
		client.chainTxQueueName = name
	}
}

func WithEventExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.eventExchange = exchange
	}
}

func WithLogger(logger *lecho.Logger) ClientOption {
	return func(client *DefaultClient) {
		client.logger = logger
	}
}

func NewClient(amqpClient AMQPClient, options ...ClientOption) (Client, error) {
	client := &DefaultClient{
		amqpClient: amqpClient,

		logger: lecho.New(
			os.Stdout,
			lecho.WithLevel(log.DEBUG),
			lecho.WithTimestamp(),
		),

		chainTxExchange:  "chain_tx",
		chainTxQueueName: "payhub_chain_tx_consumer",
		eventExchange:    "payhub_events",
	}

	for _, opt := range options {
		opt(client)
	}

	return client, nil
}

func (client *DefaultClient) Close() error { return client.amqpClient.Close() }

// SubscribeToChainTransactions consumes chain transaction messages until ctx
// is done. Messages that cannot be decoded or handled are dropped, not
// requeued: the poller and manual submission still cover those payments.
func (client *DefaultClient) SubscribeToChainTransactions(ctx context.Context, handler ChainTransactionHandler) error {
	deliveries, err := client.amqpClient.Listen(ctx, Binding{
		Exchange:   client.chainTxExchange,
		RoutingKey: chainTxRoutingKey,
		Queue:      client.chainTxQueueName,
	})
	if err != nil {
		return err
	}

	client.logger.Info("Starting chain transaction consumer loop")
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("disconnected from RabbitMQ")
			}
			client.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (client *DefaultClient) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler ChainTransactionHandler) {
	tx := ChainTransaction{}
	err := json.Unmarshal(delivery.Body, &tx)
	if err == nil {
		err = tx.Validate()
	}
	if err == nil {
		err = handler(ctx, &tx)
	}
	if err != nil {
		captureErr(client.logger, fmt.Errorf("dropping chain transaction message %d: %w", delivery.DeliveryTag, err))
		if err := delivery.Nack(false, false); err != nil {
			captureErr(client.logger, err)
		}
		return
	}
	if err := delivery.Ack(false); err != nil {
		captureErr(client.logger, err)
	}
}

// StartPublishEvents publishes every event handed out by subscribe until ctx
// is done or the event channel is closed. Failed publishes are reported and
// skipped.
func (client *DefaultClient) StartPublishEvents(ctx context.Context, subscribe SubscribeToEventsFunc, payloadFunc EncodeEventFunc) error {
	if err := client.amqpClient.DeclareTopicExchange(client.eventExchange); err != nil {
		return err
	}

	events, unsubscribe, err := subscribe()
	if err != nil {
		return err
	}
	defer unsubscribe()

	client.logger.Info("Starting rabbitmq event publisher")
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := client.publishEvent(ctx, event, payloadFunc); err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func EventRoutingKey(event models.Notification) string {
	return fmt.Sprintf("event.%s", event.Type)
}

func (client *DefaultClient) publishEvent(ctx context.Context, event models.Notification, payloadFunc EncodeEventFunc) error {
	payload := bufPool.Get().(*bytes.Buffer)
	payload.Reset()
	defer bufPool.Put(payload)

	err := payloadFunc(ctx, payload, event)
	if err != nil {
		return err
	}

	err = client.amqpClient.Publish(ctx, client.eventExchange, EventRoutingKey(event), amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.CreatedAt,
		Body:         payload.Bytes(),
	})
	if err != nil {
		return err
	}

	client.logger.Debugf("Successfully published %s event for invoice %d to rabbitmq", event.Type, event.InvoiceID)
	return nil
}

func captureErr(logger *lecho.Logger, err error) {
	logger.Error(err)
	sentry.CaptureException(err)
}
