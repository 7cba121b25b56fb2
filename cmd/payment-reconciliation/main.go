package main

import (
	"context"
	"fmt"
	"log"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/payhub/payhub.go/chains"
	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db"
	"github.com/payhub/payhub.go/db/models"
	"github.com/payhub/payhub.go/lib/logging"
	"github.com/payhub/payhub.go/lib/poller"
	"github.com/payhub/payhub.go/lib/service"
	"github.com/payhub/payhub.go/rabbitmq"
)

// script to run one sweep over the pending invoices of every chain, push
// chains included. Recovers payments whose webhook or queue message was lost.
func main() {

	c := &service.Config{}

	// Load configruation from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	// Setup logging to STDOUT or a configrued log file
	logger := logging.Logger(c.LogFilePath, c.LogLevel)

	// Open a DB connection based on the configured DATABASE_URI
	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}

	startupCtx := context.Background()

	chainCfg, err := chains.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load chain config %v", err)
	}
	chainClients, err := chains.InitChains(startupCtx, chainCfg, c.WebhookSecret, logger)
	if err != nil {
		logger.Fatalf("Error initializing chain clients: %v", err)
	}
	defer chainClients.Close()

	svc := &service.PayhubService{
		Config:      c,
		DB:          dbConn,
		Logger:      logger,
		Verifiers:   chainClients.Registry,
		Deriver:     chainClients.Deriver,
		Watcher:     chainClients.Watcher,
		EventPubSub: service.NewPubsub(),
	}
	if chainClients.BlockScanner != nil {
		svc.NativeScanner = chainClients.BlockScanner
	}
	if c.RabbitMQUri != "" {
		amqpClient, err := rabbitmq.DialAMQP(c.RabbitMQUri, rabbitmq.WithAmqpLogger(logger))
		if err != nil {
			logger.Fatalf("Error initializing rabbitmq: %v", err)
		}
		defer amqpClient.Close()
		svc.RabbitMQClient, err = rabbitmq.NewClient(amqpClient,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithEventExchange(c.RabbitMQEventExchange),
		)
		if err != nil {
			logger.Fatal(err)
		}
	}

	// collect the settlement events of this run, nothing else listens to them
	collected := []models.Notification{}
	events := make(chan models.Notification, 100)
	subId, err := svc.EventPubSub.Subscribe(service.EventTopicAll, events)
	if err != nil {
		logger.Fatal(err)
	}
	collecting := make(chan struct{})
	go func() {
		defer close(collecting)
		for n := range events {
			collected = append(collected, n)
		}
	}()

	allChains := append(append([]string{}, common.PollChains...), common.PushChains...)
	p := poller.New(svc, logger, poller.WithChains(allChains), poller.WithBatchSize(c.PollBatchSize))
	result, err := p.ManualPoll(startupCtx)
	svc.EventPubSub.Unsubscribe(subId, service.EventTopicAll)
	<-collecting
	if err != nil {
		sentry.CaptureException(err)
		logger.Fatal(err)
	}
	logger.Infof("Reconciliation done invoices:%d found:%d confirmed:%d errors:%d events:%d",
		result.Processed, result.Found, result.Confirmed, result.After.Errors, len(collected))

	if len(collected) == 0 {
		return
	}
	delivered, err := svc.DeliverNotifications(startupCtx, collected)
	if err != nil {
		sentry.CaptureException(err)
		logger.Errorf("Could not deliver settlement events: %v", err)
	}
	if !delivered {
		invoiceIDs := []int64{}
		for _, n := range collected {
			invoiceIDs = append(invoiceIDs, n.InvoiceID)
		}
		logger.Warnf("%d settlement events not delivered, neither WEBHOOK_URL nor RABBITMQ_URI is set; run event-republishing for invoices %v",
			len(collected), invoiceIDs)
	}
}
