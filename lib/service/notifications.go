package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db/models"
)

func newNotification(kind, recipient string, recipientID int64, invoice *models.Invoice) models.Notification {
	return models.Notification{
		ID:             uuid.NewString(),
		Type:           kind,
		Recipient:      recipient,
		RecipientID:    recipientID,
		InvoiceID:      invoice.ID,
		OrderID:        invoice.OrderID,
		SubscriptionID: invoice.SubscriptionID,
		Chain:          invoice.Chain,
		Currency:       invoice.Currency,
		CreatedAt:      time.Now(),
	}
}

func orderPaidNotifications(invoice *models.Invoice, order *models.Order, payment *models.Payment) []models.Notification {
	buyer := newNotification(common.NotificationPaymentConfirmed, common.RecipientBuyer, order.BuyerID, invoice)
	seller := newNotification(common.NotificationPaymentConfirmed, common.RecipientSeller, order.SellerID, invoice)
	confirmed := newNotification(common.NotificationOrderConfirmed, common.RecipientSeller, order.SellerID, invoice)
	notifications := []models.Notification{buyer, seller, confirmed}
	for i := range notifications {
		withPayment(&notifications[i], payment)
	}
	return notifications
}

func subscriptionPaidNotifications(invoice *models.Invoice, subscription *models.Subscription, payment *models.Payment) []models.Notification {
	paid := newNotification(common.NotificationSubscriptionPaid, common.RecipientUser, subscription.UserID, invoice)
	paid.ShopID = subscription.ShopID
	withPayment(&paid, payment)
	return []models.Notification{paid}
}

func withPayment(n *models.Notification, payment *models.Payment) {
	amount := payment.Amount
	n.TxHash = payment.TxHash
	n.Amount = &amount
}

// publishNotifications fans the events out after the settlement committed.
// Delivery is best effort and never retried.
func (svc *PayhubService) publishNotifications(notifications []models.Notification) {
	if svc.EventPubSub == nil {
		return
	}
	for _, n := range notifications {
		dropped := svc.EventPubSub.Publish(EventTopicAll, n)
		dropped += svc.EventPubSub.Publish(n.Type, n)
		if dropped > 0 {
			svc.Logger.Warnf("Dropped notification type:%s invoice_id:%v for %d slow subscribers", n.Type, n.InvoiceID, dropped)
		}
	}
}

// SubscribeToEvents is used by the rabbitmq publisher.
func (svc *PayhubService) SubscribeToEvents() (chan models.Notification, func(), error) {
	events := make(chan models.Notification, 100)
	subId, err := svc.EventPubSub.Subscribe(EventTopicAll, events)
	if err != nil {
		return nil, nil, err
	}
	return events, func() { svc.EventPubSub.Unsubscribe(subId, EventTopicAll) }, nil
}

// PaidInvoiceNotifications rebuilds the settlement notifications of a paid
// invoice from the ledger. Used to republish events consumers have missed.
func (svc *PayhubService) PaidInvoiceNotifications(ctx context.Context, invoice *models.Invoice) ([]models.Notification, error) {
	if invoice.Status != common.InvoiceStatusPaid {
		return nil, fmt.Errorf("invoice %d is %s, not paid", invoice.ID, invoice.Status)
	}
	payment := &models.Payment{}
	err := svc.DB.NewSelect().Model(payment).
		Where("invoice_id = ?", invoice.ID).
		Where("status = ?", common.PaymentStatusConfirmed).
		Order("verified_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("no confirmed payment for invoice %d: %w", invoice.ID, err)
	}

	switch {
	case invoice.OrderID != nil:
		order := &models.Order{}
		err = svc.DB.NewSelect().Model(order).Where("id = ?", *invoice.OrderID).Limit(1).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		if err != nil {
			return nil, err
		}
		return orderPaidNotifications(invoice, order, payment), nil
	case invoice.SubscriptionID != nil:
		subscription := &models.Subscription{}
		err = svc.DB.NewSelect().Model(subscription).Where("id = ?", *invoice.SubscriptionID).Limit(1).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		if err != nil {
			return nil, err
		}
		return subscriptionPaidNotifications(invoice, subscription, payment), nil
	}
	return nil, ErrInvalidTarget
}

func (svc *PayhubService) RepublishNotifications(notifications []models.Notification) {
	svc.publishNotifications(notifications)
}
