package chains

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/payhub/payhub.go/common"
	"github.com/shopspring/decimal"
)

var transferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ERC20Verifier verifies USDT transfers on Ethereum. The amount is read from
// the Transfer logs the token contract emitted in the receipt.
type ERC20Verifier struct {
	ethNode
	params   Params
	contract ethcommon.Address
	lookback uint64
}

func NewERC20Verifier(backend EthBackend, contract string, confirmations int64, tolerance decimal.Decimal, lookback uint64, attempts int) (*ERC20Verifier, error) {
	if !ethcommon.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid ERC20 contract address %q", contract)
	}
	return &ERC20Verifier{
		ethNode: ethNode{backend: backend, attempts: attempts},
		params: Params{
			Asset:                    AssetUSDTERC20,
			Chain:                    common.ChainETH,
			Currency:                 common.CurrencyUSDT,
			Provider:                 "ethereum rpc",
			Confirmations:            confirmations,
			Tolerance:                tolerance,
			Decimals:                 6,
			CaseInsensitiveAddresses: true,
		},
		contract: ethcommon.HexToAddress(contract),
		lookback: lookback,
	}, nil
}

func (v *ERC20Verifier) Params() Params {
	return v.params
}

func (v *ERC20Verifier) Contract() ethcommon.Address {
	return v.contract
}

func (v *ERC20Verifier) Verify(ctx context.Context, txRef, expectedAddress string, expectedAmount decimal.Decimal) VerificationResult {
	hash, ok := parseTxHash(txRef)
	if !ok {
		return rejected(CategoryNotFound, "transaction not found: invalid hash %q", txRef)
	}
	tx, err := v.transaction(ctx, hash)
	if err != nil {
		return v.params.failure(err)
	}
	if tx.pending {
		return rejected(CategoryNotFound, "transaction not found in a block yet")
	}
	receipt, err := v.receipt(ctx, hash)
	if err != nil {
		return v.params.failure(err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return rejected(CategoryReverted, "transaction failed/reverted on-chain")
	}
	if to := tx.tx.To(); to == nil || *to != v.contract {
		return rejected(CategoryWrongContract, "not a USDT transfer")
	}

	units, found := v.received(receipt.Logs, expectedAddress)
	if !found {
		return rejected(CategoryAddressMismatch, "address mismatch: no USDT transfer to %s", expectedAddress)
	}
	amount := v.params.FromBaseUnits(units)
	if res, ok := v.params.checkAmount(amount, expectedAmount); !ok {
		return res
	}
	confirmations, err := v.confirmations(ctx, receipt)
	if err != nil {
		return v.params.failure(err)
	}
	return v.params.verified(amount, confirmations)
}

// received sums the token units moved to address by Transfer logs of the contract.
func (v *ERC20Verifier) received(logs []*types.Log, address string) (*big.Int, bool) {
	total := new(big.Int)
	found := false
	for _, l := range logs {
		if l == nil || l.Address != v.contract || len(l.Topics) != 3 || l.Topics[0] != transferEventTopic {
			continue
		}
		to := ethcommon.BytesToAddress(l.Topics[2].Bytes())
		if !v.params.MatchAddress(to.Hex(), address) {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(l.Data))
		found = true
	}
	return total, found
}

// ScanTransfers looks for Transfer logs to address over the last lookback blocks.
func (v *ERC20Verifier) ScanTransfers(ctx context.Context, address string) ([]Transfer, error) {
	if !ethcommon.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid ethereum address %q", address)
	}
	head, err := v.head(ctx)
	if err != nil {
		return nil, err
	}
	from := uint64(0)
	if head > v.lookback {
		from = head - v.lookback
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []ethcommon.Address{v.contract},
		Topics: [][]ethcommon.Hash{
			{transferEventTopic},
			nil,
			{ethcommon.BytesToHash(ethcommon.HexToAddress(address).Bytes())},
		},
	}
	logs, err := retry(ctx, v.attempts, func() ([]types.Log, error) {
		return v.backend.FilterLogs(ctx, query)
	})
	if err != nil {
		return nil, err
	}

	// one candidate per transaction, summed the same way Verify does
	transfers := []Transfer{}
	totals := map[ethcommon.Hash]*big.Int{}
	for _, l := range logs {
		if l.Removed {
			continue
		}
		total, ok := totals[l.TxHash]
		if !ok {
			total = new(big.Int)
			totals[l.TxHash] = total
			transfers = append(transfers, Transfer{TxHash: l.TxHash.Hex(), To: address})
		}
		total.Add(total, new(big.Int).SetBytes(l.Data))
	}
	for i := range transfers {
		transfers[i].Amount = v.params.FromBaseUnits(totals[ethcommon.HexToHash(transfers[i].TxHash)])
	}
	return transfers, nil
}
