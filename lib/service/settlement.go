package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/payhub/payhub.go/chains"
	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db/models"
	"github.com/uptrace/bun"
)

type RecordResult struct {
	Payment         *models.Payment
	Inserted        bool
	BecameConfirmed bool
	Settled         bool
}

// RecordVerifiedPayment writes a verified transaction to the ledger. When the
// payment is confirmed for the first time the invoice is marked paid and its
// order or subscription settled, all in the same DB transaction. Notifications
// go out only after the commit.
func (svc *PayhubService) RecordVerifiedPayment(ctx context.Context, invoice *models.Invoice, txHash string, result chains.VerificationResult) (*RecordResult, error) {
	if !result.Verified {
		return nil, fmt.Errorf("refusing to record unverified transaction %s: %s", txHash, result.Error)
	}

	tx, err := svc.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		svc.Logger.Errorf("Failed to start payment transaction invoice_id:%v tx_hash:%s %v", invoice.ID, txHash, err)
		return nil, err
	}

	upsert, err := svc.UpsertPaymentByTxHash(ctx, tx, PaymentUpdate{
		InvoiceID:     &invoice.ID,
		TxHash:        txHash,
		Chain:         invoice.Chain,
		Currency:      invoice.Currency,
		Amount:        result.Amount,
		Status:        result.Status,
		Confirmations: result.Confirmations,
	})
	if err != nil {
		tx.Rollback()
		svc.Logger.Errorf("Could not upsert payment invoice_id:%v tx_hash:%s %v", invoice.ID, txHash, err)
		return nil, err
	}
	if upsert.OtherInvoice {
		tx.Rollback()
		svc.Logger.Warnf("Transaction already recorded for another invoice invoice_id:%v other_invoice_id:%v tx_hash:%s", invoice.ID, *upsert.Payment.InvoiceID, txHash)
		return &RecordResult{}, nil
	}
	record := &RecordResult{
		Payment:         upsert.Payment,
		Inserted:        upsert.Inserted,
		BecameConfirmed: upsert.BecameConfirmed,
	}

	notifications := []models.Notification{}
	if upsert.BecameConfirmed {
		notifications, record.Settled, err = svc.settleInvoice(ctx, tx, invoice, upsert.Payment)
		if err != nil {
			tx.Rollback()
			svc.Logger.Errorf("Settlement failed invoice_id:%v tx_hash:%s %v", invoice.ID, txHash, err)
			sentry.CaptureException(err)
			return nil, err
		}
	}

	err = tx.Commit()
	if err != nil {
		svc.Logger.Errorf("Failed to commit payment transaction invoice_id:%v tx_hash:%s %v", invoice.ID, txHash, err)
		return nil, err
	}
	svc.Logger.Infof("Recorded payment invoice_id:%v tx_hash:%s status:%s confirmations:%d amount:%s settled:%v",
		invoice.ID, txHash, upsert.Payment.Status, upsert.Payment.Confirmations, upsert.Payment.Amount, record.Settled)

	if record.Settled {
		invoice.Status = common.InvoiceStatusPaid
	}
	svc.publishNotifications(notifications)
	return record, nil
}

func (svc *PayhubService) settleInvoice(ctx context.Context, tx bun.Tx, invoice *models.Invoice, payment *models.Payment) ([]models.Notification, bool, error) {
	if payment.InvoiceID == nil || *payment.InvoiceID != invoice.ID {
		svc.Logger.Warnf("Payment does not belong to invoice invoice_id:%v payment_id:%v tx_hash:%s", invoice.ID, payment.ID, payment.TxHash)
		return nil, false, nil
	}
	now := time.Now()
	paid, err := svc.MarkInvoicePaid(ctx, tx, invoice.ID, now)
	if err != nil {
		return nil, false, err
	}
	if !paid {
		// late payment on an expired or already paid invoice: kept in the ledger only
		svc.Logger.Warnf("Confirmed payment for invoice that is no longer pending invoice_id:%v tx_hash:%s", invoice.ID, payment.TxHash)
		return nil, false, nil
	}
	invoice.PaidAt = bun.NullTime{Time: now}

	switch {
	case invoice.OrderID != nil:
		notifications, err := svc.SettleOrder(ctx, tx, invoice, payment)
		return notifications, err == nil, err
	case invoice.SubscriptionID != nil:
		notifications, err := svc.SettleSubscription(ctx, tx, invoice, payment)
		return notifications, err == nil, err
	}
	return nil, false, ErrInvalidTarget
}

// SettleOrder confirms the order and converts its reservation into a sale.
// Both the order and the product row are locked for the rest of the transaction.
func (svc *PayhubService) SettleOrder(ctx context.Context, tx bun.Tx, invoice *models.Invoice, payment *models.Payment) ([]models.Notification, error) {
	order := &models.Order{}
	err := tx.NewSelect().Model(order).Where("id = ?", *invoice.OrderID).For("UPDATE").Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order_id:%d invoice_id:%d", ErrOrderNotFound, *invoice.OrderID, invoice.ID)
	}
	if err != nil {
		return nil, err
	}
	if order.Status == common.OrderStatusConfirmed {
		svc.Logger.Infof("Order already confirmed order_id:%v invoice_id:%v", order.ID, invoice.ID)
		return nil, nil
	}

	product := &models.Product{}
	err = tx.NewSelect().Model(product).Where("id = ?", order.ProductID).For("UPDATE").Limit(1).Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err == nil {
		if product.Stock < order.Quantity {
			svc.Logger.Warnf("Stock below ordered quantity product_id:%v stock:%d quantity:%d order_id:%v", product.ID, product.Stock, order.Quantity, order.ID)
		}
		_, err = tx.NewUpdate().
			Model(product).
			Set("stock = GREATEST(stock - ?, 0)", order.Quantity).
			Set("reserved = GREATEST(reserved - ?, 0)", order.Quantity).
			WherePK().
			Exec(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		svc.Logger.Warnf("Product missing for order order_id:%v product_id:%v", order.ID, order.ProductID)
	}

	order.Status = common.OrderStatusConfirmed
	_, err = tx.NewUpdate().Model(order).Column("status", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return nil, err
	}
	svc.Logger.Infof("Order confirmed order_id:%v invoice_id:%v quantity:%d", order.ID, invoice.ID, order.Quantity)
	return orderPaidNotifications(invoice, order, payment), nil
}

// SettleSubscription marks the subscription paid and applies the tier to the
// shop. Without a shop the activation waits for ActivatePendingSubscription.
func (svc *PayhubService) SettleSubscription(ctx context.Context, tx bun.Tx, invoice *models.Invoice, payment *models.Payment) ([]models.Notification, error) {
	subscription := &models.Subscription{}
	err := tx.NewSelect().Model(subscription).Where("id = ?", *invoice.SubscriptionID).For("UPDATE").Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: subscription_id:%d invoice_id:%d", ErrSubscriptionNotFound, *invoice.SubscriptionID, invoice.ID)
	}
	if err != nil {
		return nil, err
	}
	if subscription.Status == common.SubscriptionStatusPaid {
		return nil, nil
	}

	now := time.Now()
	subscription.Status = common.SubscriptionStatusPaid
	subscription.PaidAt = bun.NullTime{Time: now}
	columns := []string{"status", "paid_at", "updated_at"}
	if subscription.ShopID != nil {
		activated, err := svc.applyTier(ctx, tx, *subscription.ShopID, subscription.Tier, now)
		if err != nil {
			return nil, err
		}
		if activated {
			subscription.ActivatedAt = bun.NullTime{Time: now}
			columns = append(columns, "activated_at")
		}
	}
	_, err = tx.NewUpdate().Model(subscription).Column(columns...).WherePK().Exec(ctx)
	if err != nil {
		return nil, err
	}
	svc.Logger.Infof("Subscription paid subscription_id:%v invoice_id:%v tier:%s activated:%v", subscription.ID, invoice.ID, subscription.Tier, !subscription.ActivatedAt.IsZero())
	return subscriptionPaidNotifications(invoice, subscription, payment), nil
}

// applyTier extends the shop by one subscription period. It reports false when
// the shop does not exist yet.
func (svc *PayhubService) applyTier(ctx context.Context, tx bun.Tx, shopID int64, tier string, now time.Time) (bool, error) {
	shop := &models.Shop{}
	err := tx.NewSelect().Model(shop).Where("id = ?", shopID).For("UPDATE").Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	shop.Tier = tier
	shop.NextPaymentDue = bun.NullTime{Time: shop.ExtendUntil(now, svc.Config.SubscriptionPeriod)}
	shop.GracePeriodEndsAt = bun.NullTime{}
	shop.IsActive = true
	_, err = tx.NewUpdate().
		Model(shop).
		Column("tier", "next_payment_due", "grace_period_ends_at", "is_active").
		WherePK().
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ActivatePendingSubscription applies a subscription that was paid before its
// shop existed. Calling it again after activation is a no-op.
func (svc *PayhubService) ActivatePendingSubscription(ctx context.Context, subscriptionID, shopID int64) (*models.Subscription, error) {
	tx, err := svc.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}

	subscription := &models.Subscription{}
	err = tx.NewSelect().Model(subscription).Where("id = ?", subscriptionID).For("UPDATE").Limit(1).Scan(ctx)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	if subscription.Status != common.SubscriptionStatusPaid || !subscription.ActivatedAt.IsZero() {
		tx.Rollback()
		return subscription, nil
	}

	now := time.Now()
	activated, err := svc.applyTier(ctx, tx, shopID, subscription.Tier, now)
	if err != nil {
		tx.Rollback()
		svc.Logger.Errorf("Could not activate subscription subscription_id:%v shop_id:%v %v", subscriptionID, shopID, err)
		return nil, err
	}
	if !activated {
		tx.Rollback()
		return nil, ErrShopNotFound
	}
	subscription.ShopID = &shopID
	subscription.ActivatedAt = bun.NullTime{Time: now}
	_, err = tx.NewUpdate().Model(subscription).Column("shop_id", "activated_at", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		svc.Logger.Errorf("Failed to commit subscription activation subscription_id:%v %v", subscriptionID, err)
		return nil, err
	}
	svc.Logger.Infof("Activated subscription subscription_id:%v shop_id:%v tier:%s", subscriptionID, shopID, subscription.Tier)
	return subscription, nil
}
