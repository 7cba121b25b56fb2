package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db/models"
	"github.com/uptrace/bun"
)

// ReapExpiredInvoices expires every pending invoice past its expiry and
// releases what it was holding: a pending order is cancelled and its
// reservation returned, a pending subscription fails. Each invoice is handled
// in its own transaction; a failure is logged and the rest continue.
func (svc *PayhubService) ReapExpiredInvoices(ctx context.Context) (int, error) {
	invoices, err := svc.FindExpiredInvoices(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range invoices {
		invoice := &invoices[i]
		notification, changed, err := svc.expireInvoice(ctx, invoice)
		if err != nil {
			svc.Logger.Errorf("Could not expire invoice invoice_id:%v %v", invoice.ID, err)
			continue
		}
		if !changed {
			continue
		}
		expired++
		invoice.Status = common.InvoiceStatusExpired
		svc.Logger.Infof("Invoice expired invoice_id:%v chain:%s address:%s", invoice.ID, invoice.Chain, invoice.Address)
		svc.publishNotifications([]models.Notification{notification})
	}
	return expired, nil
}

// RefreshLatePayments keeps re-verifying payments that were still pending
// when their invoice expired, for LatePaymentWindow after the expiry. They
// only move the ledger; the invoice stays expired. Address watches of closed
// invoices are removed once no payment of theirs is left to follow.
func (svc *PayhubService) RefreshLatePayments(ctx context.Context) (ProcessResult, error) {
	result := ProcessResult{}
	cutoff := time.Now().Add(-svc.Config.LatePaymentWindow)
	invoices, err := svc.FindExpiredInvoicesWithPendingPayments(ctx, cutoff)
	if err != nil {
		return result, err
	}
	for i := range invoices {
		invoice := &invoices[i]
		res, err := svc.ProcessInvoice(ctx, invoice)
		result.Found += res.Found
		result.Confirmed += res.Confirmed
		if err != nil {
			svc.Logger.Errorf("Could not refresh late payments invoice_id:%v chain:%s %v", invoice.ID, invoice.Chain, err)
		}
	}
	return result, svc.releaseAddressWatches(ctx, cutoff)
}

func (svc *PayhubService) releaseAddressWatches(ctx context.Context, cutoff time.Time) error {
	if svc.Watcher == nil {
		return nil
	}
	invoices, err := svc.FindReleasableWatches(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, invoice := range invoices {
		if err := svc.Watcher.Unwatch(ctx, invoice.Chain, invoice.ExternalWatchID); err != nil {
			svc.Logger.Errorf("Could not remove address watch invoice_id:%v watch_id:%s %v", invoice.ID, invoice.ExternalWatchID, err)
			continue
		}
		if err := svc.ClearExternalWatch(ctx, invoice.ID); err != nil {
			svc.Logger.Errorf("Could not clear address watch invoice_id:%v %v", invoice.ID, err)
			continue
		}
		svc.Logger.Infof("Address watch removed invoice_id:%v status:%s watch_id:%s", invoice.ID, invoice.Status, invoice.ExternalWatchID)
	}
	return nil
}

func (svc *PayhubService) expireInvoice(ctx context.Context, invoice *models.Invoice) (models.Notification, bool, error) {
	notification := newNotification(common.NotificationInvoiceExpired, "", 0, invoice)

	tx, err := svc.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return notification, false, err
	}
	changed, err := svc.MarkInvoiceExpired(ctx, tx, invoice.ID)
	if err != nil || !changed {
		tx.Rollback()
		return notification, false, err
	}

	switch {
	case invoice.OrderID != nil:
		order, err := svc.cancelOrder(ctx, tx, *invoice.OrderID)
		if err != nil {
			tx.Rollback()
			return notification, false, err
		}
		if order != nil {
			notification.Recipient = common.RecipientBuyer
			notification.RecipientID = order.BuyerID
		}
	case invoice.SubscriptionID != nil:
		subscription, err := svc.failSubscription(ctx, tx, *invoice.SubscriptionID)
		if err != nil {
			tx.Rollback()
			return notification, false, err
		}
		if subscription != nil {
			notification.Recipient = common.RecipientUser
			notification.RecipientID = subscription.UserID
			notification.ShopID = subscription.ShopID
		}
	}

	if err = tx.Commit(); err != nil {
		return notification, false, err
	}
	return notification, true, nil
}

// cancelOrder cancels a still pending order and releases its reservation.
func (svc *PayhubService) cancelOrder(ctx context.Context, tx bun.Tx, orderID int64) (*models.Order, error) {
	order := &models.Order{}
	err := tx.NewSelect().Model(order).Where("id = ?", orderID).For("UPDATE").Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		svc.Logger.Warnf("Order missing for expired invoice order_id:%v", orderID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if order.Status != common.OrderStatusPending {
		return order, nil
	}

	order.Status = common.OrderStatusCancelled
	_, err = tx.NewUpdate().Model(order).Column("status", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return nil, err
	}
	_, err = tx.NewUpdate().
		Model((*models.Product)(nil)).
		Set("reserved = GREATEST(reserved - ?, 0)", order.Quantity).
		Where("id = ?", order.ProductID).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	svc.Logger.Infof("Order cancelled order_id:%v released:%d", order.ID, order.Quantity)
	return order, nil
}

func (svc *PayhubService) failSubscription(ctx context.Context, tx bun.Tx, subscriptionID int64) (*models.Subscription, error) {
	subscription := &models.Subscription{}
	err := tx.NewSelect().Model(subscription).Where("id = ?", subscriptionID).For("UPDATE").Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		svc.Logger.Warnf("Subscription missing for expired invoice subscription_id:%v", subscriptionID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if subscription.Status != common.SubscriptionStatusPending {
		return subscription, nil
	}
	subscription.Status = common.SubscriptionStatusFailed
	_, err = tx.NewUpdate().Model(subscription).Column("status", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return nil, err
	}
	return subscription, nil
}
