package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db/models"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

var ErrPaymentNotFound = errors.New("payment not found")

// PaymentUpdate is one observation of a transaction by a verifier.
type PaymentUpdate struct {
	InvoiceID     *int64
	TxHash        string
	Chain         string
	Currency      string
	Amount        decimal.Decimal
	Status        string
	Confirmations int64
}

type UpsertResult struct {
	Payment         *models.Payment
	Inserted        bool
	BecameConfirmed bool
	// OtherInvoice is set when the hash is already recorded against another
	// invoice. That row is left as it is.
	OtherInvoice bool
}

var paymentStatusRank = map[string]int{
	common.PaymentStatusFailed:    0,
	common.PaymentStatusPending:   1,
	common.PaymentStatusConfirmed: 2,
}

// NextPaymentStatus applies the ledger's monotonic rule: a status only ever
// moves failed → pending → confirmed, and confirmed is terminal.
func NextPaymentStatus(current, incoming string) string {
	if paymentStatusRank[incoming] > paymentStatusRank[current] {
		return incoming
	}
	return current
}

// UpsertPaymentByTxHash records an observation inside the caller's transaction.
// The row is locked while the monotonic rule is applied; a concurrent insert
// of the same hash is absorbed by the unique key and re-read.
func (svc *PayhubService) UpsertPaymentByTxHash(ctx context.Context, db bun.IDB, update PaymentUpdate) (*UpsertResult, error) {
	payment, err := lockPaymentByTxHash(ctx, db, update.TxHash)
	if errors.Is(err, ErrPaymentNotFound) {
		payment = &models.Payment{
			InvoiceID:     update.InvoiceID,
			TxHash:        update.TxHash,
			Chain:         update.Chain,
			Amount:        update.Amount,
			Currency:      update.Currency,
			Status:        update.Status,
			Confirmations: update.Confirmations,
		}
		if update.Status != common.PaymentStatusFailed {
			payment.VerifiedAt = bun.NullTime{Time: time.Now()}
		}
		inserted, insertErr := insertPaymentIfAbsent(ctx, db, payment)
		if insertErr != nil {
			return nil, insertErr
		}
		if inserted {
			return &UpsertResult{
				Payment:         payment,
				Inserted:        true,
				BecameConfirmed: payment.Status == common.PaymentStatusConfirmed,
			}, nil
		}
		payment, err = lockPaymentByTxHash(ctx, db, update.TxHash)
	}
	if err != nil {
		return nil, err
	}

	if payment.InvoiceID != nil && update.InvoiceID != nil && *payment.InvoiceID != *update.InvoiceID {
		return &UpsertResult{Payment: payment, OtherInvoice: true}, nil
	}

	current := payment.Status
	next := NextPaymentStatus(current, update.Status)
	if current == common.PaymentStatusConfirmed && update.Status != common.PaymentStatusConfirmed {
		return &UpsertResult{Payment: payment}, nil
	}

	payment.Status = next
	if payment.InvoiceID == nil {
		payment.InvoiceID = update.InvoiceID
	}
	if update.Status != common.PaymentStatusFailed {
		payment.Amount = update.Amount
		payment.Confirmations = update.Confirmations
		payment.VerifiedAt = bun.NullTime{Time: time.Now()}
	}
	_, err = db.NewUpdate().
		Model(payment).
		Column("status", "invoice_id", "amount", "confirmations", "verified_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return &UpsertResult{
		Payment:         payment,
		BecameConfirmed: current != common.PaymentStatusConfirmed && next == common.PaymentStatusConfirmed,
	}, nil
}

// insertPaymentIfAbsent reports false when another transaction inserted the
// same tx hash first.
func insertPaymentIfAbsent(ctx context.Context, db bun.IDB, payment *models.Payment) (bool, error) {
	res, err := db.NewInsert().
		Model(payment).
		On("CONFLICT (tx_hash) DO NOTHING").
		Exec(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return changedOne(res, err)
}

func lockPaymentByTxHash(ctx context.Context, db bun.IDB, txHash string) (*models.Payment, error) {
	payment := &models.Payment{}
	err := db.NewSelect().
		Model(payment).
		Where("tx_hash = ?", txHash).
		For("UPDATE").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (svc *PayhubService) FindPaymentByTxHash(ctx context.Context, txHash string) (*models.Payment, error) {
	payment := &models.Payment{}
	err := svc.DB.NewSelect().Model(payment).Where("tx_hash = ?", txHash).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (svc *PayhubService) FindPaymentsByInvoice(ctx context.Context, invoiceID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := svc.DB.NewSelect().
		Model(&payments).
		Where("invoice_id = ?", invoiceID).
		Order("id ASC").
		Scan(ctx)
	return payments, err
}

// confirmedTxHashes returns the subset of hashes already confirmed in the ledger.
func (svc *PayhubService) confirmedTxHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	confirmed := map[string]bool{}
	if len(hashes) == 0 {
		return confirmed, nil
	}
	found := []string{}
	err := svc.DB.NewSelect().
		Model((*models.Payment)(nil)).
		Column("tx_hash").
		Where("tx_hash IN (?)", bun.In(hashes)).
		Where("status = ?", common.PaymentStatusConfirmed).
		Scan(ctx, &found)
	if err != nil {
		return nil, err
	}
	for _, h := range found {
		confirmed[h] = true
	}
	return confirmed, nil
}
