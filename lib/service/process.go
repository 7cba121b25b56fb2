package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/payhub/payhub.go/chains"
	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db/models"
	"github.com/shopspring/decimal"
)

type ProcessResult struct {
	Found     int
	Confirmed int
}

func (r *ProcessResult) add(record *RecordResult) {
	if record == nil {
		return
	}
	if record.Inserted {
		r.Found++
	}
	if record.BecameConfirmed {
		r.Confirmed++
	}
}

// TransactionOutcome is what the push and manual paths report back.
type TransactionOutcome struct {
	Invoice      *models.Invoice           `json:"invoice"`
	Verification chains.VerificationResult `json:"verification"`
	Payment      *models.Payment           `json:"payment,omitempty"`
	Settled      bool                      `json:"settled"`
}

// PrepareSweep runs the native ETH block scan once per sweep for all pending
// ETH invoices. The transfers found are consumed by ProcessInvoice.
func (svc *PayhubService) PrepareSweep(ctx context.Context, invoices []models.Invoice) error {
	if svc.NativeScanner == nil {
		return nil
	}
	watched := []string{}
	for _, invoice := range invoices {
		if invoice.Chain == common.ChainETH && invoice.Currency == common.CurrencyETH {
			watched = append(watched, invoice.Address)
		}
	}
	found, err := svc.NativeScanner.Scan(ctx, watched)

	svc.candidatesMu.Lock()
	defer svc.candidatesMu.Unlock()
	if svc.nativeCandidates == nil {
		svc.nativeCandidates = map[string][]chains.Transfer{}
	}
	open := map[string]bool{}
	for _, a := range watched {
		open[strings.ToLower(a)] = true
	}
	for addr := range svc.nativeCandidates {
		if !open[addr] {
			delete(svc.nativeCandidates, addr)
		}
	}
	for addr, transfers := range found {
		svc.nativeCandidates[addr] = append(svc.nativeCandidates[addr], transfers...)
	}
	return err
}

func (svc *PayhubService) takeNativeCandidates(address string) []chains.Transfer {
	svc.candidatesMu.Lock()
	defer svc.candidatesMu.Unlock()
	key := strings.ToLower(address)
	transfers := svc.nativeCandidates[key]
	delete(svc.nativeCandidates, key)
	return transfers
}

func (svc *PayhubService) returnNativeCandidates(address string, transfers []chains.Transfer) {
	if len(transfers) == 0 {
		return
	}
	svc.candidatesMu.Lock()
	defer svc.candidatesMu.Unlock()
	if svc.nativeCandidates == nil {
		svc.nativeCandidates = map[string][]chains.Transfer{}
	}
	key := strings.ToLower(address)
	svc.nativeCandidates[key] = append(svc.nativeCandidates[key], transfers...)
}

// ProcessInvoice re-verifies the invoice's unconfirmed payments, then looks
// for a new transfer to its address and records the first one that verifies.
func (svc *PayhubService) ProcessInvoice(ctx context.Context, invoice *models.Invoice) (ProcessResult, error) {
	result := ProcessResult{}
	verifier, err := svc.Verifiers.VerifierFor(invoice.Chain, invoice.Currency)
	if err != nil {
		return result, err
	}

	payments, err := svc.FindPaymentsByInvoice(ctx, invoice.ID)
	if err != nil {
		return result, err
	}
	known := map[string]bool{}
	for _, p := range payments {
		known[p.TxHash] = true
		if p.Status != common.PaymentStatusPending {
			continue
		}
		record, _, err := svc.verifyAndRecord(ctx, verifier, invoice, p.TxHash)
		if err != nil {
			return result, err
		}
		result.add(record)
		if record != nil && record.Settled {
			return result, nil
		}
	}
	if !invoice.IsPending() {
		return result, nil
	}

	candidates, err := svc.discoverCandidates(ctx, verifier, invoice)
	if err != nil {
		return result, err
	}
	hashes := []string{}
	for _, c := range candidates {
		hashes = append(hashes, c.TxHash)
	}
	confirmed, err := svc.confirmedTxHashes(ctx, hashes)
	if err != nil {
		return result, err
	}

	for i, candidate := range candidates {
		if known[candidate.TxHash] || confirmed[candidate.TxHash] {
			continue
		}
		known[candidate.TxHash] = true
		record, verification, err := svc.verifyAndRecord(ctx, verifier, invoice, candidate.TxHash)
		if err != nil {
			return result, err
		}
		if !verification.Verified {
			if verification.Category == chains.CategoryProviderError && verifier.Params().Asset == chains.AssetETH {
				svc.returnNativeCandidates(invoice.Address, candidates[i:])
				return result, fmt.Errorf("verify %s: %s", candidate.TxHash, verification.Error)
			}
			svc.Logger.Debugf("Candidate rejected invoice_id:%v tx_hash:%s category:%s %s", invoice.ID, candidate.TxHash, verification.Category, verification.Error)
			continue
		}
		if record.Payment == nil {
			// recorded for another invoice
			continue
		}
		result.add(record)
		break
	}
	return result, nil
}

// discoverCandidates lists transfers to the invoice address whose amount is
// within tolerance of the expected amount.
func (svc *PayhubService) discoverCandidates(ctx context.Context, verifier chains.Verifier, invoice *models.Invoice) ([]chains.Transfer, error) {
	params := verifier.Params()
	var transfers []chains.Transfer
	if params.Asset == chains.AssetETH {
		transfers = svc.takeNativeCandidates(invoice.Address)
	} else {
		scanner, ok := svc.Verifiers.Scanner(params.Asset)
		if !ok {
			return nil, nil
		}
		var err error
		transfers, err = scanner.ScanTransfers(ctx, invoice.Address)
		if err != nil {
			return nil, err
		}
	}
	for i := range transfers {
		transfers[i].TxHash = chains.NormalizeTxHash(invoice.Chain, transfers[i].TxHash)
	}
	return filterCandidates(params, transfers, invoice.ExpectedAmount), nil
}

func filterCandidates(params chains.Params, transfers []chains.Transfer, expected decimal.Decimal) []chains.Transfer {
	candidates := []chains.Transfer{}
	for _, t := range transfers {
		if params.WithinTolerance(t.Amount, expected) {
			candidates = append(candidates, t)
		}
	}
	return candidates
}

func (svc *PayhubService) verifyAndRecord(ctx context.Context, verifier chains.Verifier, invoice *models.Invoice, txHash string) (*RecordResult, chains.VerificationResult, error) {
	verification := verifier.Verify(ctx, txHash, invoice.Address, invoice.ExpectedAmount)
	if !verification.Verified {
		return nil, verification, nil
	}
	record, err := svc.RecordVerifiedPayment(ctx, invoice, txHash, verification)
	return record, verification, err
}

// HandleChainTransaction is the push path: a webhook or queue message names
// a transaction paying to one of our addresses.
func (svc *PayhubService) HandleChainTransaction(ctx context.Context, chain, address, txHash string) (*TransactionOutcome, error) {
	invoice, err := svc.FindInvoiceByAddress(ctx, strings.ToUpper(chain), address)
	if err != nil {
		return nil, err
	}
	return svc.checkTransaction(ctx, invoice, txHash)
}

// SubmitTransaction verifies a tx hash supplied by hand for an invoice.
func (svc *PayhubService) SubmitTransaction(ctx context.Context, invoiceID int64, txHash string) (*TransactionOutcome, error) {
	invoice, err := svc.FindInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return svc.checkTransaction(ctx, invoice, txHash)
}

func (svc *PayhubService) checkTransaction(ctx context.Context, invoice *models.Invoice, txHash string) (*TransactionOutcome, error) {
	verifier, err := svc.Verifiers.VerifierFor(invoice.Chain, invoice.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedChain, err)
	}
	txHash = chains.NormalizeTxHash(invoice.Chain, txHash)
	record, verification, err := svc.verifyAndRecord(ctx, verifier, invoice, txHash)
	if err != nil {
		return nil, err
	}
	outcome := &TransactionOutcome{Invoice: invoice, Verification: verification}
	if record != nil {
		outcome.Payment = record.Payment
		outcome.Settled = record.Settled
		return outcome, nil
	}

	svc.Logger.Infof("Transaction rejected invoice_id:%v tx_hash:%s category:%s %s", invoice.ID, txHash, verification.Category, verification.Error)
	if verification.Category == chains.CategoryReverted {
		payment, err := svc.recordFailedPayment(ctx, invoice, txHash)
		if err != nil {
			return nil, err
		}
		outcome.Payment = payment
	}
	return outcome, nil
}

// recordFailedPayment keeps reverted transactions in the ledger so they show
// up on the invoice. A confirmed row is never downgraded.
func (svc *PayhubService) recordFailedPayment(ctx context.Context, invoice *models.Invoice, txHash string) (*models.Payment, error) {
	tx, err := svc.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	upsert, err := svc.UpsertPaymentByTxHash(ctx, tx, PaymentUpdate{
		InvoiceID: &invoice.ID,
		TxHash:    txHash,
		Chain:     invoice.Chain,
		Currency:  invoice.Currency,
		Amount:    decimal.Zero,
		Status:    common.PaymentStatusFailed,
	})
	if err != nil {
		tx.Rollback()
		svc.Logger.Errorf("Could not record failed payment invoice_id:%v tx_hash:%s %v", invoice.ID, txHash, err)
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	if upsert.OtherInvoice {
		return nil, nil
	}
	return upsert.Payment, nil
}
