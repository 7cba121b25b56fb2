package chains

import (
	"context"

	"github.com/payhub/payhub.go/common"
	"github.com/shopspring/decimal"
)

// UTXOVerifier verifies BTC and LTC payments through an Esplora API.
type UTXOVerifier struct {
	params   Params
	client   *EsploraClient
	attempts int
}

func NewBTCVerifier(client *EsploraClient, confirmations int64, tolerance decimal.Decimal, attempts int) *UTXOVerifier {
	return &UTXOVerifier{
		params: Params{
			Asset:         AssetBTC,
			Chain:         common.ChainBTC,
			Currency:      common.CurrencyBTC,
			Provider:      "esplora",
			Confirmations: confirmations,
			Tolerance:     tolerance,
			Decimals:      8,
		},
		client:   client,
		attempts: attempts,
	}
}

func NewLTCVerifier(client *EsploraClient, confirmations int64, tolerance decimal.Decimal, attempts int) *UTXOVerifier {
	return &UTXOVerifier{
		params: Params{
			Asset:         AssetLTC,
			Chain:         common.ChainLTC,
			Currency:      common.CurrencyLTC,
			Provider:      "esplora",
			Confirmations: confirmations,
			Tolerance:     tolerance,
			Decimals:      8,
		},
		client:   client,
		attempts: attempts,
	}
}

func (v *UTXOVerifier) Params() Params {
	return v.params
}

func (v *UTXOVerifier) Verify(ctx context.Context, txRef, expectedAddress string, expectedAmount decimal.Decimal) VerificationResult {
	tx, err := retry(ctx, v.attempts, func() (*esploraTx, error) {
		return v.client.Transaction(ctx, txRef)
	})
	if err != nil {
		return v.params.failure(err)
	}

	sats, found := tx.receivedBy(expectedAddress, v.params.MatchAddress)
	if !found {
		return rejected(CategoryAddressMismatch, "address mismatch: address not found in transaction outputs")
	}
	amount := decimal.NewFromInt(sats).Shift(-v.params.Decimals)
	if res, ok := v.params.checkAmount(amount, expectedAmount); !ok {
		return res
	}

	var confirmations int64
	if tx.Status.Confirmed {
		tip, err := retry(ctx, v.attempts, func() (int64, error) {
			return v.client.TipHeight(ctx)
		})
		if err != nil {
			return v.params.failure(err)
		}
		confirmations = tip - tx.Status.BlockHeight + 1
	}
	return v.params.verified(amount, confirmations)
}

// ScanTransfers lists recent transactions paying to address.
func (v *UTXOVerifier) ScanTransfers(ctx context.Context, address string) ([]Transfer, error) {
	txs, err := retry(ctx, v.attempts, func() ([]esploraTx, error) {
		return v.client.AddressTransactions(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	transfers := []Transfer{}
	for i := range txs {
		sats, found := txs[i].receivedBy(address, v.params.MatchAddress)
		if !found {
			continue
		}
		transfers = append(transfers, Transfer{
			TxHash: txs[i].Txid,
			To:     address,
			Amount: decimal.NewFromInt(sats).Shift(-v.params.Decimals),
		})
	}
	return transfers, nil
}
