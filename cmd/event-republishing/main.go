package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/payhub/payhub.go/db"
	"github.com/payhub/payhub.go/db/models"
	"github.com/payhub/payhub.go/lib/logging"
	"github.com/payhub/payhub.go/lib/service"
	"github.com/payhub/payhub.go/rabbitmq"
)

// republishes the settlement events of invoices paid between START_DATE and
// END_DATE (RFC3339) to the rabbitmq event exchange. DRY_RUN=true only logs.
func main() {

	c := &service.Config{}
	// Load configruation from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		fmt.Printf("Error loading environment variables: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Logger(c.LogFilePath, c.LogLevel)
	startDate, endDate, err := loadStartAndEndDateFromEnv()
	if err != nil {
		logger.Fatalf("Could not load start and end date from env %v", err)
	}
	// Open a DB connection based on the configured DATABASE_URI
	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}
	amqpClient, err := rabbitmq.DialAMQP(c.RabbitMQUri, rabbitmq.WithAmqpLogger(logger))
	if err != nil {
		logger.Fatal(err)
	}

	defer amqpClient.Close()

	rabbitmqClient, err := rabbitmq.NewClient(amqpClient,
		rabbitmq.WithLogger(logger),
		rabbitmq.WithEventExchange(c.RabbitMQEventExchange),
	)
	if err != nil {
		logger.Fatal(err)
	}

	// close the connection gently at the end of the runtime
	defer rabbitmqClient.Close()

	svc := &service.PayhubService{
		Config: c,
		DB:     dbConn,
		Logger: logger,
	}
	ctx := context.Background()
	invoices, err := svc.FindInvoicesPaidBetween(ctx, startDate, endDate)
	if err != nil {
		logger.Fatal(err)
	}
	logger.Infof("Found %d paid invoices", len(invoices))

	// the publisher reads from our own channel, so nothing is dropped
	events := make(chan models.Notification)
	published := make(chan error, 1)
	go func() {
		published <- rabbitmqClient.StartPublishEvents(ctx,
			func() (chan models.Notification, func(), error) { return events, func() {}, nil },
			svc.EncodeEvent,
		)
	}()

	dryRun := os.Getenv("DRY_RUN") == "true"
	errCount, eventCount := 0, 0
	for i := range invoices {
		inv := &invoices[i]
		notifications, err := svc.PaidInvoiceNotifications(ctx, inv)
		if err != nil {
			errCount += 1
			logger.Errorf("Could not rebuild events invoice_id:%v %v", inv.ID, err)
			continue
		}
		for _, n := range notifications {
			logger.Infof("Publishing %s event invoice_id:%v recipient:%s", n.Type, inv.ID, n.Recipient)
			if dryRun {
				continue
			}
			events <- n
			eventCount += 1
		}
	}
	close(events)
	if err := <-published; err != nil {
		sentry.CaptureException(err)
		logger.Error(err)
	}
	logger.Infof("Published %d events for %d invoices, # errors %d", eventCount, len(invoices), errCount)
}

func loadStartAndEndDateFromEnv() (start, end time.Time, err error) {
	start, err = time.Parse(time.RFC3339, os.Getenv("START_DATE"))
	if err != nil {
		return
	}
	end, err = time.Parse(time.RFC3339, os.Getenv("END_DATE"))
	return
}
