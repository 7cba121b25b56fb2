package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/payhub/payhub.go/chains"
	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/ziflex/lecho/v3"
)

type fakeNativeScanner struct {
	watched [][]string
	found   map[string][]chains.Transfer
	err     error
}

func (f *fakeNativeScanner) Scan(ctx context.Context, watched []string) (map[string][]chains.Transfer, error) {
	f.watched = append(f.watched, watched)
	return f.found, f.err
}

func testService() *PayhubService {
	return &PayhubService{
		Config: &Config{},
		Logger: lecho.New(io.Discard),
	}
}

func TestPrepareSweepCollectsNativeCandidates(t *testing.T) {
	addr := "0xAbC0000000000000000000000000000000000001"
	scanner := &fakeNativeScanner{
		found: map[string][]chains.Transfer{
			strings.ToLower(addr): {{TxHash: "0x01", To: addr, Amount: decimal.RequireFromString("1")}},
		},
	}
	svc := testService()
	svc.NativeScanner = scanner

	invoices := []models.Invoice{
		{ID: 1, Chain: common.ChainETH, Currency: common.CurrencyETH, Address: addr},
		{ID: 2, Chain: common.ChainETH, Currency: common.CurrencyUSDT, Address: "0xdef"},
		{ID: 3, Chain: common.ChainTRON, Currency: common.CurrencyUSDT, Address: "Tabc"},
	}
	assert.NoError(t, svc.PrepareSweep(context.Background(), invoices))
	assert.Equal(t, [][]string{{addr}}, scanner.watched)

	candidates := svc.takeNativeCandidates(addr)
	assert.Len(t, candidates, 1)
	assert.Equal(t, "0x01", candidates[0].TxHash)
	assert.Empty(t, svc.takeNativeCandidates(addr))
}

func TestPrepareSweepDropsCandidatesOfClosedInvoices(t *testing.T) {
	scanner := &fakeNativeScanner{found: map[string][]chains.Transfer{}}
	svc := testService()
	svc.NativeScanner = scanner
	svc.returnNativeCandidates("0xold", []chains.Transfer{{TxHash: "0x02"}})

	assert.NoError(t, svc.PrepareSweep(context.Background(), nil))
	assert.Empty(t, svc.takeNativeCandidates("0xold"))
}

func TestPrepareSweepKeepsPartialResultsOnError(t *testing.T) {
	addr := "0x0000000000000000000000000000000000000aaa"
	scanner := &fakeNativeScanner{
		found: map[string][]chains.Transfer{addr: {{TxHash: "0x03"}}},
		err:   errors.New("node unavailable"),
	}
	svc := testService()
	svc.NativeScanner = scanner

	err := svc.PrepareSweep(context.Background(), []models.Invoice{{Chain: common.ChainETH, Currency: common.CurrencyETH, Address: addr}})
	assert.Error(t, err)
	assert.Len(t, svc.takeNativeCandidates(addr), 1)
}

func TestFilterCandidatesByTolerance(t *testing.T) {
	params := chains.Params{Tolerance: decimal.RequireFromString("0.01")}
	transfers := []chains.Transfer{
		{TxHash: "exact", Amount: decimal.RequireFromString("100")},
		{TxHash: "dust", Amount: decimal.RequireFromString("1")},
		{TxHash: "close", Amount: decimal.RequireFromString("99.2")},
		{TxHash: "over", Amount: decimal.RequireFromString("150")},
	}
	candidates := filterCandidates(params, transfers, decimal.RequireFromString("100"))
	hashes := []string{}
	for _, c := range candidates {
		hashes = append(hashes, c.TxHash)
	}
	assert.Equal(t, []string{"exact", "close", "over"}, hashes)
}

type fakeTokenScanner struct {
	params    chains.Params
	transfers []chains.Transfer
}

func (f *fakeTokenScanner) Params() chains.Params { return f.params }

func (f *fakeTokenScanner) Verify(ctx context.Context, txRef, expectedAddress string, expectedAmount decimal.Decimal) chains.VerificationResult {
	return chains.VerificationResult{}
}

func (f *fakeTokenScanner) ScanTransfers(ctx context.Context, address string) ([]chains.Transfer, error) {
	return f.transfers, nil
}

func TestDiscoveredCandidatesUseLedgerHashes(t *testing.T) {
	scanner := &fakeTokenScanner{
		params: chains.Params{Asset: chains.AssetUSDTTRC20, Chain: common.ChainTRON, Currency: common.CurrencyUSDT, Tolerance: decimal.RequireFromString("0.01")},
		transfers: []chains.Transfer{
			{TxHash: "0xAB12CD34", To: "Tabc", Amount: decimal.RequireFromString("10")},
		},
	}
	registry := chains.NewRegistry()
	registry.Register(scanner)
	svc := testService()
	svc.Verifiers = registry

	invoice := &models.Invoice{ID: 1, Chain: common.ChainTRON, Currency: common.CurrencyUSDT, Address: "Tabc", ExpectedAmount: decimal.RequireFromString("10")}
	candidates, err := svc.discoverCandidates(context.Background(), scanner, invoice)
	assert.NoError(t, err)
	assert.Len(t, candidates, 1)
	assert.Equal(t, "ab12cd34", candidates[0].TxHash)
}

func TestProcessResultCountsOnlyNewRows(t *testing.T) {
	r := ProcessResult{}
	r.add(nil)
	r.add(&RecordResult{Inserted: true})
	r.add(&RecordResult{Inserted: false, BecameConfirmed: true})
	r.add(&RecordResult{Inserted: true, BecameConfirmed: true})
	assert.Equal(t, 2, r.Found)
	assert.Equal(t, 2, r.Confirmed)
}

func TestCreateInvoiceParamsValidation(t *testing.T) {
	orderID := int64(1)
	subscriptionID := int64(2)
	amount := decimal.RequireFromString("0.01")

	p := CreateInvoiceParams{Amount: amount}
	assert.ErrorIs(t, p.validate(), ErrInvalidTarget)

	p = CreateInvoiceParams{OrderID: &orderID, SubscriptionID: &subscriptionID, Amount: amount}
	assert.ErrorIs(t, p.validate(), ErrInvalidTarget)

	p = CreateInvoiceParams{OrderID: &orderID, Amount: decimal.Zero}
	assert.ErrorIs(t, p.validate(), ErrInvalidAmount)

	p = CreateInvoiceParams{SubscriptionID: &subscriptionID, Amount: amount}
	assert.NoError(t, p.validate())
}
