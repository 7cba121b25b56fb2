package chains

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/payhub/payhub.go/common"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// EthBackend is the subset of ethclient.Client used by the ETH and ERC20 verifiers.
type EthBackend interface {
	TransactionByHash(ctx context.Context, hash ethcommon.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash ethcommon.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

var _ EthBackend = (*ethclient.Client)(nil)

// rateLimitedBackend throttles every call to the node.
type rateLimitedBackend struct {
	backend EthBackend
	limiter *rate.Limiter
}

func NewRateLimitedBackend(backend EthBackend, rps float64) EthBackend {
	if rps <= 0 {
		return backend
	}
	return &rateLimitedBackend{backend: backend, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (b *rateLimitedBackend) TransactionByHash(ctx context.Context, hash ethcommon.Hash) (*types.Transaction, bool, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}
	return b.backend.TransactionByHash(ctx, hash)
}

func (b *rateLimitedBackend) TransactionReceipt(ctx context.Context, hash ethcommon.Hash) (*types.Receipt, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.backend.TransactionReceipt(ctx, hash)
}

func (b *rateLimitedBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return b.backend.BlockNumber(ctx)
}

func (b *rateLimitedBackend) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.backend.BlockByNumber(ctx, number)
}

func (b *rateLimitedBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.backend.FilterLogs(ctx, q)
}

type ethTx struct {
	tx      *types.Transaction
	pending bool
}

// ethNode wraps the backend calls shared by the ETH and ERC20 verifiers with
// bounded retries and not-found detection.
type ethNode struct {
	backend  EthBackend
	attempts int
}

func notFound(err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return backoff.Permanent(ErrTxNotFound)
	}
	return err
}

func (n *ethNode) transaction(ctx context.Context, hash ethcommon.Hash) (ethTx, error) {
	return retry(ctx, n.attempts, func() (ethTx, error) {
		tx, pending, err := n.backend.TransactionByHash(ctx, hash)
		if err != nil {
			return ethTx{}, notFound(err)
		}
		return ethTx{tx: tx, pending: pending}, nil
	})
}

func (n *ethNode) receipt(ctx context.Context, hash ethcommon.Hash) (*types.Receipt, error) {
	return retry(ctx, n.attempts, func() (*types.Receipt, error) {
		receipt, err := n.backend.TransactionReceipt(ctx, hash)
		if err != nil {
			return nil, notFound(err)
		}
		return receipt, nil
	})
}

func (n *ethNode) head(ctx context.Context) (uint64, error) {
	return retry(ctx, n.attempts, func() (uint64, error) {
		return n.backend.BlockNumber(ctx)
	})
}

// confirmations counts the inclusion block as the first confirmation.
func (n *ethNode) confirmations(ctx context.Context, receipt *types.Receipt) (int64, error) {
	if receipt.BlockNumber == nil {
		return 0, nil
	}
	head, err := n.head(ctx)
	if err != nil {
		return 0, err
	}
	return int64(head) - receipt.BlockNumber.Int64() + 1, nil
}

func parseTxHash(txRef string) (ethcommon.Hash, bool) {
	b, err := decodeHex(txRef)
	if err != nil || len(b) != ethcommon.HashLength {
		return ethcommon.Hash{}, false
	}
	return ethcommon.BytesToHash(b), true
}

func decodeHex(s string) ([]byte, error) {
	if has0xPrefix(s) {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// EthereumVerifier verifies native ETH transfers.
type EthereumVerifier struct {
	ethNode
	params Params
}

func NewEthereumVerifier(backend EthBackend, confirmations int64, tolerance decimal.Decimal, attempts int) *EthereumVerifier {
	return &EthereumVerifier{
		ethNode: ethNode{backend: backend, attempts: attempts},
		params: Params{
			Asset:                    AssetETH,
			Chain:                    common.ChainETH,
			Currency:                 common.CurrencyETH,
			Provider:                 "ethereum rpc",
			Confirmations:            confirmations,
			Tolerance:                tolerance,
			Decimals:                 18,
			CaseInsensitiveAddresses: true,
		},
	}
}

func (v *EthereumVerifier) Params() Params {
	return v.params
}

func (v *EthereumVerifier) Verify(ctx context.Context, txRef, expectedAddress string, expectedAmount decimal.Decimal) VerificationResult {
	hash, ok := parseTxHash(txRef)
	if !ok {
		return rejected(CategoryNotFound, "transaction not found: invalid hash %q", txRef)
	}
	tx, err := v.transaction(ctx, hash)
	if err != nil {
		return v.params.failure(err)
	}

	var receipt *types.Receipt
	if !tx.pending {
		receipt, err = v.receipt(ctx, hash)
		if err != nil {
			return v.params.failure(err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return rejected(CategoryReverted, "transaction failed/reverted on-chain")
		}
	}

	to := tx.tx.To()
	if to == nil || !v.params.MatchAddress(to.Hex(), expectedAddress) {
		return rejected(CategoryAddressMismatch, "address mismatch: transaction is not sent to %s", expectedAddress)
	}
	amount := v.params.FromBaseUnits(tx.tx.Value())
	if res, ok := v.params.checkAmount(amount, expectedAmount); !ok {
		return res
	}

	if receipt == nil {
		return v.params.verified(amount, 0)
	}
	confirmations, err := v.confirmations(ctx, receipt)
	if err != nil {
		return v.params.failure(err)
	}
	return v.params.verified(amount, confirmations)
}
