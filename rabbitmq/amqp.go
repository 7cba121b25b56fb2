package rabbitmq

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"
)

const (
	defaultHeartbeat        = 10 * time.Second
	defaultLocale           = "en_US"
	defaultReconnectTimeout = time.Minute

	topicExchange = "topic"
)

var ErrReconnecting = errors.New("amqp: connection is being re-established")

type listenerMsg int

const (
	msgReconnected listenerMsg = iota
	msgGaveUp
)

// Binding names the queue a consumer reads from and the exchange and routing
// key it is bound to.
type Binding struct {
	Exchange   string
	RoutingKey string
	Queue      string
}

type AMQPClient interface {
	Listen(ctx context.Context, binding Binding) (<-chan amqp.Delivery, error)
	DeclareTopicExchange(name string) error
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error
	Close() error
}

type defaultAMQPClient struct {
	uri    string
	logger *lecho.Logger

	prefetch         int
	deliveryLimit    int
	reconnectTimeout time.Duration

	// mu guards the connection, both channels and the listener list, all of
	// which are replaced on reconnect.
	mu   sync.Mutex
	conn *amqp.Connection
	// consumers and publishers get their own channel so broker flow control
	// on publishing never stalls deliveries
	consumeChannel *amqp.Channel
	publishChannel *amqp.Channel
	notifyClose    chan *amqp.Error
	listeners      []chan listenerMsg

	reconnecting atomic.Bool
}

type AMQPOption = func(client *defaultAMQPClient)

func WithAmqpLogger(logger *lecho.Logger) AMQPOption {
	return func(client *defaultAMQPClient) {
		client.logger = logger
	}
}

// WithPrefetch limits the number of unacknowledged chain transactions a
// single instance holds.
func WithPrefetch(count int) AMQPOption {
	return func(client *defaultAMQPClient) {
		client.prefetch = count
	}
}

// WithDeliveryLimit declares consumer queues as quorum queues that drop a
// message after limit redeliveries.
func WithDeliveryLimit(limit int) AMQPOption {
	return func(client *defaultAMQPClient) {
		client.deliveryLimit = limit
	}
}

func WithReconnectTimeout(timeout time.Duration) AMQPOption {
	return func(client *defaultAMQPClient) {
		if timeout > 0 {
			client.reconnectTimeout = timeout
		}
	}
}

// DialAMQP connects to rabbitmq. The connection is re-established in the
// background whenever the broker drops it; listeners are moved to the new
// connection transparently.
func DialAMQP(uri string, options ...AMQPOption) (AMQPClient, error) {
	client := &defaultAMQPClient{
		uri: uri,
		logger: lecho.New(
			os.Stdout,
			lecho.WithLevel(log.DEBUG),
			lecho.WithTimestamp(),
		),
		reconnectTimeout: defaultReconnectTimeout,
	}
	for _, opt := range options {
		opt(client)
	}

	if err := client.connect(); err != nil {
		return nil, err
	}
	go client.reconnectionLoop()

	return client, nil
}

func (c *defaultAMQPClient) connect() error {
	conn, err := amqp.DialConfig(c.uri, amqp.Config{
		Heartbeat: defaultHeartbeat,
		Locale:    defaultLocale,
		Dial:      amqp.DefaultDial(3 * time.Second),
	})
	if err != nil {
		return err
	}

	consumeChannel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if c.prefetch > 0 {
		if err := consumeChannel.Qos(c.prefetch, 0, false); err != nil {
			conn.Close()
			return err
		}
	}
	publishChannel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.consumeChannel = consumeChannel
	c.publishChannel = publishChannel
	c.notifyClose = notifyClose
	return nil
}

func (c *defaultAMQPClient) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = c.reconnectTimeout
	return b
}

func (c *defaultAMQPClient) notifyListeners(msg listenerMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, listener := range c.listeners {
		listener <- msg
	}
}

func (c *defaultAMQPClient) reconnectionLoop() {
	for {
		c.mu.Lock()
		notifyClose := c.notifyClose
		c.mu.Unlock()

		amqpErr, ok := <-notifyClose
		if !ok || amqpErr == nil {
			// closed by us
			return
		}
		c.logger.Errorf("amqp: connection lost: %v", amqpErr)

		c.reconnecting.Store(true)
		c.logger.Info("amqp: trying to reconnect...")
		if err := backoff.Retry(c.connect, c.newBackoff()); err != nil {
			c.logger.Errorf("amqp: giving up reconnecting after %s: %v", c.reconnectTimeout, err)
			c.notifyListeners(msgGaveUp)
			return
		}
		c.reconnecting.Store(false)
		c.logger.Info("amqp: successfully reconnected")
		c.notifyListeners(msgReconnected)
	}
}

func (c *defaultAMQPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// DeclareTopicExchange declares a durable topic exchange on a short lived channel.
func (c *defaultAMQPClient) DeclareTopicExchange(name string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return declareTopicExchange(ch, name)
}

func declareTopicExchange(ch *amqp.Channel, name string) error {
	// durable, not auto-deleted, not internal, wait for the broker's answer
	return ch.ExchangeDeclare(name, topicExchange, true, false, false, false, nil)
}

// Listen consumes binding until ctx is done. The returned channel is closed
// only when reconnecting has been given up.
func (c *defaultAMQPClient) Listen(ctx context.Context, binding Binding) (<-chan amqp.Delivery, error) {
	deliveries, err := c.consume(ctx, binding)
	if err != nil {
		return nil, err
	}

	out := make(chan amqp.Delivery)
	notify := make(chan listenerMsg, 2)
	c.mu.Lock()
	c.listeners = append(c.listeners, notify)
	c.mu.Unlock()

	go func() {
		defer c.removeListener(notify)
		for {
			select {
			case <-ctx.Done():
				return

			case msg := <-notify:
				switch msg {
				case msgReconnected:
					d, err := c.consume(ctx, binding)
					if err != nil {
						c.logger.Errorf("amqp: could not resume consuming %s: %v", binding.Queue, err)
						close(out)
						return
					}
					c.logger.Infof("amqp: consuming %s again after reconnect", binding.Queue)
					deliveries = d
				case msgGaveUp:
					close(out)
					return
				}

			case delivery, ok := <-deliveries:
				if !ok {
					// the old channel died; wait for the reconnect notification
					deliveries = nil
					continue
				}
				select {
				case out <- delivery:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (c *defaultAMQPClient) removeListener(notify chan listenerMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l == notify {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *defaultAMQPClient) queueArgs() amqp.Table {
	if c.deliveryLimit <= 0 {
		return nil
	}
	return amqp.Table{
		"x-queue-type":     "quorum",
		"x-delivery-limit": c.deliveryLimit,
	}
}

func (c *defaultAMQPClient) consume(ctx context.Context, binding Binding) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	ch := c.consumeChannel
	c.mu.Unlock()

	if err := declareTopicExchange(ch, binding.Exchange); err != nil {
		return nil, err
	}

	// Durable and shared: several payhub instances consuming the same queue
	// split the chain transactions between them.
	queue, err := ch.QueueDeclare(binding.Queue, true, false, false, false, c.queueArgs())
	if err != nil {
		return nil, err
	}
	if err = ch.QueueBind(queue.Name, binding.RoutingKey, binding.Exchange, false, nil); err != nil {
		return nil, err
	}

	// manual acks, non-exclusive
	return ch.Consume(queue.Name, "", false, false, false, false, nil)
}

// Publish waits for a running reconnect to finish before publishing.
func (c *defaultAMQPClient) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	if c.reconnecting.Load() {
		err := backoff.Retry(func() error {
			if c.reconnecting.Load() {
				return ErrReconnecting
			}
			return nil
		}, backoff.WithContext(c.newBackoff(), ctx))
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	ch := c.publishChannel
	c.mu.Unlock()
	return ch.PublishWithContext(ctx, exchange, key, false, false, msg)
}
