package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/payhub/payhub.go/chains"
	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db/models"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const maxAddressAllocationAttempts = 3

type CreateInvoiceParams struct {
	OrderID        *int64
	SubscriptionID *int64
	Chain          string
	Currency       string
	Amount         decimal.Decimal
	TTL            time.Duration
}

func (p *CreateInvoiceParams) validate() error {
	if (p.OrderID == nil) == (p.SubscriptionID == nil) {
		return ErrInvalidTarget
	}
	if !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// CreateInvoice allocates the next address index of the chain, derives a fresh
// address and stores a pending invoice. Push chains additionally get an address
// watch registered; a failed registration leaves a valid invoice that the
// poller and manual submission can still settle.
func (svc *PayhubService) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*models.Invoice, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	asset, err := chains.AssetFor(params.Chain, params.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedChain, err)
	}
	if _, err := svc.Verifiers.Verifier(asset); err != nil {
		return nil, fmt.Errorf("%w: %s is not configured", ErrUnsupportedChain, asset)
	}
	if !svc.Deriver.Supports(params.Chain) {
		return nil, fmt.Errorf("%w: no extended key for %s", ErrUnsupportedChain, params.Chain)
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = svc.Config.DefaultInvoiceTTL
	}

	var invoice *models.Invoice
	for attempt := 1; attempt <= maxAddressAllocationAttempts; attempt++ {
		invoice, err = svc.insertInvoice(ctx, params, ttl)
		if err == nil {
			break
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		svc.Logger.Infof("Address index collision chain:%s attempt:%d, retrying", params.Chain, attempt)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAddressExhausted, err)
	}
	svc.Logger.Infof("Created invoice invoice_id:%v chain:%s currency:%s amount:%s address:%s index:%d",
		invoice.ID, invoice.Chain, invoice.Currency, invoice.ExpectedAmount, invoice.Address, invoice.AddressIndex)

	if common.IsPushChain(invoice.Chain) && svc.Watcher != nil {
		svc.registerAddressWatch(ctx, invoice)
	}
	return invoice, nil
}

func (svc *PayhubService) insertInvoice(ctx context.Context, params CreateInvoiceParams, ttl time.Duration) (*models.Invoice, error) {
	tx, err := svc.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}

	var index int64
	err = tx.NewSelect().
		Model((*models.Invoice)(nil)).
		ColumnExpr("COALESCE(MAX(address_index), -1) + 1").
		Where("chain = ?", params.Chain).
		Scan(ctx, &index)
	if err != nil {
		tx.Rollback()
		svc.Logger.Errorf("Could not allocate address index chain:%s %v", params.Chain, err)
		return nil, err
	}

	address, err := svc.Deriver.Derive(params.Chain, index)
	if err != nil {
		tx.Rollback()
		svc.Logger.Errorf("Could not derive address chain:%s index:%d %v", params.Chain, index, err)
		return nil, err
	}

	invoice := &models.Invoice{
		OrderID:        params.OrderID,
		SubscriptionID: params.SubscriptionID,
		Chain:          params.Chain,
		Currency:       params.Currency,
		Address:        address,
		AddressIndex:   index,
		ExpectedAmount: params.Amount,
		Status:         common.InvoiceStatusPending,
		ExpiresAt:      time.Now().Add(ttl),
	}
	if _, err = tx.NewInsert().Model(invoice).Exec(ctx); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		svc.Logger.Errorf("Failed to commit invoice chain:%s index:%d %v", params.Chain, index, err)
		return nil, err
	}
	return invoice, nil
}

func (svc *PayhubService) registerAddressWatch(ctx context.Context, invoice *models.Invoice) {
	watchID, err := svc.Watcher.Watch(ctx, invoice.Chain, invoice.Address)
	if err != nil {
		svc.Logger.Errorf("Could not register address watch invoice_id:%v chain:%s address:%s %v", invoice.ID, invoice.Chain, invoice.Address, err)
		return
	}
	if watchID == "" {
		return
	}
	invoice.ExternalWatchID = watchID
	_, err = svc.DB.NewUpdate().
		Model(invoice).
		Column("external_watch_id", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		svc.Logger.Errorf("Could not store address watch invoice_id:%v watch_id:%s %v", invoice.ID, watchID, err)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

func (svc *PayhubService) FindInvoice(ctx context.Context, id int64) (*models.Invoice, error) {
	invoice := &models.Invoice{}
	err := svc.DB.NewSelect().Model(invoice).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// FindInvoiceByAddress prefers the pending invoice of an address and falls
// back to the most recent one, so late payments still reach the ledger.
func (svc *PayhubService) FindInvoiceByAddress(ctx context.Context, chain, address string) (*models.Invoice, error) {
	invoice := &models.Invoice{}
	query := svc.DB.NewSelect().Model(invoice).Where("chain = ?", chain)
	if chain == common.ChainETH {
		query = query.Where("lower(address) = lower(?)", address)
	} else {
		query = query.Where("address = ?", address)
	}
	err := query.
		OrderExpr("(status = ?) DESC, id DESC", common.InvoiceStatusPending).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// FindPendingInvoicesByChains returns the open, not yet expired invoices of
// the given chains, oldest first.
func (svc *PayhubService) FindPendingInvoicesByChains(ctx context.Context, chainList []string) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	if len(chainList) == 0 {
		return invoices, nil
	}
	err := svc.DB.NewSelect().
		Model(&invoices).
		Where("status = ?", common.InvoiceStatusPending).
		Where("chain IN (?)", bun.In(chainList)).
		Where("expires_at > ?", time.Now()).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	return invoices, err
}

func (svc *PayhubService) FindExpiredInvoices(ctx context.Context) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	err := svc.DB.NewSelect().
		Model(&invoices).
		Where("status = ?", common.InvoiceStatusPending).
		Where("expires_at < ?", time.Now()).
		Order("expires_at ASC").
		Scan(ctx)
	return invoices, err
}

func pendingPaymentsOf(db bun.IDB) *bun.SelectQuery {
	return db.NewSelect().
		Model((*models.Payment)(nil)).
		ColumnExpr("1").
		Where("payment.invoice_id = invoice.id").
		Where("payment.status = ?", common.PaymentStatusPending)
}

// FindExpiredInvoicesWithPendingPayments returns the invoices that expired
// after cutoff while one of their payments is still pending.
func (svc *PayhubService) FindExpiredInvoicesWithPendingPayments(ctx context.Context, cutoff time.Time) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	err := svc.DB.NewSelect().
		Model(&invoices).
		Where("invoice.status = ?", common.InvoiceStatusExpired).
		Where("invoice.expires_at > ?", cutoff).
		Where("EXISTS (?)", pendingPaymentsOf(svc.DB)).
		Order("invoice.expires_at ASC").
		Scan(ctx)
	return invoices, err
}

// FindReleasableWatches returns the paid or expired invoices that still hold
// an address watch and have no pending payment left to follow. Invoices that
// expired before cutoff are released regardless.
func (svc *PayhubService) FindReleasableWatches(ctx context.Context, cutoff time.Time) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	err := svc.DB.NewSelect().
		Model(&invoices).
		Where("invoice.status IN (?)", bun.In([]string{common.InvoiceStatusPaid, common.InvoiceStatusExpired})).
		Where("invoice.external_watch_id IS NOT NULL").
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("NOT EXISTS (?)", pendingPaymentsOf(svc.DB)).
				WhereOr("invoice.expires_at <= ?", cutoff)
		}).
		Order("invoice.id ASC").
		Scan(ctx)
	return invoices, err
}

func (svc *PayhubService) ClearExternalWatch(ctx context.Context, invoiceID int64) error {
	_, err := svc.DB.NewUpdate().
		Model((*models.Invoice)(nil)).
		Set("external_watch_id = NULL").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", invoiceID).
		Exec(ctx)
	return err
}

func (svc *PayhubService) FindInvoicesPaidBetween(ctx context.Context, start, end time.Time) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	err := svc.DB.NewSelect().
		Model(&invoices).
		Where("status = ?", common.InvoiceStatusPaid).
		Where("paid_at > ?", start).
		Where("paid_at < ?", end).
		Order("paid_at ASC").
		Scan(ctx)
	return invoices, err
}

// MarkInvoicePaid moves a pending invoice to paid. It reports false when the
// invoice was no longer pending.
func (svc *PayhubService) MarkInvoicePaid(ctx context.Context, db bun.IDB, invoiceID int64, paidAt time.Time) (bool, error) {
	res, err := db.NewUpdate().
		Model((*models.Invoice)(nil)).
		Set("status = ?", common.InvoiceStatusPaid).
		Set("paid_at = ?", paidAt).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", invoiceID).
		Where("status = ?", common.InvoiceStatusPending).
		Exec(ctx)
	return changedOne(res, err)
}

// MarkInvoiceExpired moves a pending invoice past its expiry to expired.
func (svc *PayhubService) MarkInvoiceExpired(ctx context.Context, db bun.IDB, invoiceID int64) (bool, error) {
	res, err := db.NewUpdate().
		Model((*models.Invoice)(nil)).
		Set("status = ?", common.InvoiceStatusExpired).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", invoiceID).
		Where("status = ?", common.InvoiceStatusPending).
		Where("expires_at < ?", time.Now()).
		Exec(ctx)
	return changedOne(res, err)
}

func changedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
