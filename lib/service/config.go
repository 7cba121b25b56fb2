package service

import "time"

type Config struct {
	DatabaseUri             string        `envconfig:"DATABASE_URI" required:"true"`
	DatabaseMaxConns        int           `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMaxIdleConns    int           `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	DatabaseConnMaxLifetime int           `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"1800"` // 30 minutes
	DatabaseTimeout         int           `envconfig:"DATABASE_TIMEOUT" default:"60"`             // 60 seconds
	SentryDSN               string        `envconfig:"SENTRY_DSN"`
	DatadogAgentUrl         string        `envconfig:"DATADOG_AGENT_URL"`
	SentryTracesSampleRate  float64       `envconfig:"SENTRY_TRACES_SAMPLE_RATE"`
	LogFilePath             string        `envconfig:"LOG_FILE_PATH"`
	LogLevel                string        `envconfig:"LOG_LEVEL" default:"debug"`
	AdminToken              string        `envconfig:"ADMIN_TOKEN"`
	Port                    int           `envconfig:"PORT" default:"3000"`
	DefaultRateLimit        int           `envconfig:"DEFAULT_RATE_LIMIT" default:"10"`
	StrictRateLimit         int           `envconfig:"STRICT_RATE_LIMIT" default:"5"`
	BurstRateLimit          int           `envconfig:"BURST_RATE_LIMIT" default:"1"`
	EnablePrometheus        bool          `envconfig:"ENABLE_PROMETHEUS" default:"false"`
	PrometheusPort          int           `envconfig:"PROMETHEUS_PORT" default:"9092"`
	WebhookUrl              string        `envconfig:"WEBHOOK_URL"`
	WebhookSecret           string        `envconfig:"WEBHOOK_SECRET"`
	RabbitMQUri             string        `envconfig:"RABBITMQ_URI"`
	RabbitMQChainTxExchange string        `envconfig:"RABBITMQ_CHAIN_TX_EXCHANGE" default:"chain_tx"`
	RabbitMQChainTxQueue    string        `envconfig:"RABBITMQ_CHAIN_TX_QUEUE_NAME" default:"payhub_chain_tx_consumer"`
	RabbitMQEventExchange   string        `envconfig:"RABBITMQ_EVENT_EXCHANGE" default:"payhub_events"`
	RabbitMQPrefetch        int           `envconfig:"RABBITMQ_PREFETCH" default:"10"`
	RabbitMQDeliveryLimit   int           `envconfig:"RABBITMQ_DELIVERY_LIMIT" default:"0"`
	EnablePoller            bool          `envconfig:"ENABLE_POLLER" default:"true"`
	PollInterval            time.Duration `envconfig:"POLL_INTERVAL" default:"60s"`
	PollBatchSize           int           `envconfig:"POLL_BATCH_SIZE" default:"10"`
	SubscriptionPeriod      time.Duration `envconfig:"SUBSCRIPTION_PERIOD" default:"720h"` // 30 days
	DefaultInvoiceTTL       time.Duration `envconfig:"DEFAULT_INVOICE_TTL" default:"1h"`
	LatePaymentWindow       time.Duration `envconfig:"LATE_PAYMENT_WINDOW" default:"24h"`
}
