package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	ddEcho "gopkg.in/DataDog/dd-trace-go.v1/contrib/labstack/echo.v4"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo/v4"
	"github.com/payhub/payhub.go/chains"
	"github.com/payhub/payhub.go/db"
	"github.com/payhub/payhub.go/db/migrations"
	"github.com/payhub/payhub.go/lib/logging"
	"github.com/payhub/payhub.go/lib/poller"
	"github.com/payhub/payhub.go/lib/service"
	"github.com/payhub/payhub.go/lib/tokens"
	"github.com/payhub/payhub.go/lib/transport"
	"github.com/payhub/payhub.go/rabbitmq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/ziflex/lecho/v3"
)

const (
	startupTimeout  = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func loadConfig() *service.Config {
	c := &service.Config{}
	if err := godotenv.Load(".env"); err != nil {
		fmt.Println("Failed to load .env file")
	}
	if err := envconfig.Process("", c); err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}
	return c
}

func migrateDB(ctx context.Context, dbConn *bun.DB) error {
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if !group.IsZero() {
		fmt.Printf("migrated to %s\n", group)
	}
	return nil
}

// initSentry has to run before the echo middlewares are added.
func initSentry(c *service.Config, logger *lecho.Logger) {
	if c.SentryDSN == "" {
		return
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              c.SentryDSN,
		IgnoreErrors:     []string{"401"},
		EnableTracing:    c.SentryTracesSampleRate > 0,
		TracesSampleRate: c.SentryTracesSampleRate,
	})
	if err != nil {
		logger.Errorf("sentry init error: %v", err)
	}
}

// initRabbitMQ returns a nil client when no RABBITMQ_URI is configured; the
// queue consumer and the event publisher are disabled in that case.
func initRabbitMQ(c *service.Config, logger *lecho.Logger) (rabbitmq.Client, error) {
	if c.RabbitMQUri == "" {
		return nil, nil
	}
	amqpClient, err := rabbitmq.DialAMQP(c.RabbitMQUri,
		rabbitmq.WithAmqpLogger(logger),
		rabbitmq.WithPrefetch(c.RabbitMQPrefetch),
		rabbitmq.WithDeliveryLimit(c.RabbitMQDeliveryLimit),
	)
	if err != nil {
		return nil, err
	}
	return rabbitmq.NewClient(amqpClient,
		rabbitmq.WithLogger(logger),
		rabbitmq.WithChainTxExchange(c.RabbitMQChainTxExchange),
		rabbitmq.WithChainTxQueueName(c.RabbitMQChainTxQueue),
		rabbitmq.WithEventExchange(c.RabbitMQEventExchange),
	)
}

// startBackground starts the long running consumers. Each one decrements wg
// when it returns.
func startBackground(ctx context.Context, svc *service.PayhubService, wg *sync.WaitGroup) {
	run := func(name string, fatal bool, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				sentry.CaptureException(err)
				if fatal {
					// let the orchestrator restart us
					svc.Logger.Fatalf("%s stopped: %v", name, err)
				}
				svc.Logger.Errorf("%s stopped: %v", name, err)
			}
			svc.Logger.Infof("%s done", name)
		}()
	}

	if svc.Config.WebhookUrl != "" {
		run("Webhook routine", false, func(ctx context.Context) error {
			svc.StartWebhookSubscription(ctx)
			return nil
		})
	}
	if svc.RabbitMQClient != nil {
		run("Rabbit event publisher", false, svc.StartEventPublisher)
		run("Chain transaction consumer", true, svc.StartChainTransactionConsumer)
	}
}

func main() {
	c := loadConfig()
	logger := logging.Logger(c.LogFilePath, c.LogLevel)

	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStartup()
	if err = db.WaitForDB(startupCtx, dbConn); err != nil {
		logger.Fatalf("Database not reachable: %v", err)
	}
	if err = migrateDB(startupCtx, dbConn); err != nil {
		logger.Fatalf("Error migrating database: %v", err)
	}

	initSentry(c, logger)

	chainCfg, err := chains.LoadConfig()
	if err != nil {
		logger.Fatalf("Error loading chain config: %v", err)
	}
	chainClients, err := chains.InitChains(startupCtx, chainCfg, c.WebhookSecret, logger)
	if err != nil {
		logger.Fatalf("Error initializing chain clients: %v", err)
	}
	defer chainClients.Close()

	rabbitmqClient, err := initRabbitMQ(c, logger)
	if err != nil {
		logger.Fatalf("Error initializing rabbitmq: %v", err)
	}
	if rabbitmqClient != nil {
		defer rabbitmqClient.Close()
	}

	svc := &service.PayhubService{
		Config:         c,
		DB:             dbConn,
		Logger:         logger,
		Verifiers:      chainClients.Registry,
		Deriver:        chainClients.Deriver,
		Watcher:        chainClients.Watcher,
		EventPubSub:    service.NewPubsub(),
		RabbitMQClient: rabbitmqClient,
	}
	// keep the interface nil when no block scanner is configured
	if chainClients.BlockScanner != nil {
		svc.NativeScanner = chainClients.BlockScanner
	}

	paymentPoller := poller.New(svc, logger,
		poller.WithInterval(c.PollInterval),
		poller.WithBatchSize(c.PollBatchSize),
	)

	e := transport.InitEcho(c, logger)
	if c.DatadogAgentUrl != "" {
		tracer.Start(tracer.WithAgentAddr(c.DatadogAgentUrl))
		defer tracer.Stop()
		e.Use(ddEcho.Middleware(ddEcho.WithServiceName("payhub.go")))
	}

	logMw := transport.CreateLoggingMiddleware(logger)
	// requests that hit the chain providers
	strictRateLimitMiddleware := transport.CreateRateLimitMiddleware(c.StrictRateLimit, c.BurstRateLimit)
	secured := e.Group("", tokens.AdminTokenMiddleware(c.AdminToken), logMw)
	securedWithStrictRateLimit := e.Group("", tokens.AdminTokenMiddleware(c.AdminToken), strictRateLimitMiddleware, logMw)
	transport.RegisterV2Endpoints(svc, paymentPoller, e, secured, securedWithStrictRateLimit, logMw)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.EnablePoller {
		paymentPoller.Start(ctx)
	}
	var backgroundWg sync.WaitGroup
	startBackground(ctx, svc, &backgroundWg)

	var echoPrometheus *echo.Echo
	if c.EnablePrometheus {
		echoPrometheus = echo.New()
		go transport.StartPrometheusEcho(logger, c, e, echoPrometheus, paymentPoller)
	}

	go func() {
		if err := e.Start(fmt.Sprintf(":%v", c.Port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}
	if echoPrometheus != nil {
		if err := echoPrometheus.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("prometheus shutdown: %v", err)
		}
	}
	// no new sweeps; the one in flight runs to completion
	if paymentPoller.IsRunning() {
		paymentPoller.Stop()
	}
	paymentPoller.Wait()
	backgroundWg.Wait()
	logger.Info("Payhub exiting gracefully. Goodbye.")
}
