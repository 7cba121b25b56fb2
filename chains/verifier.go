package chains

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/payhub/payhub.go/common"
	"github.com/shopspring/decimal"
)

const (
	AssetBTC       = "BTC"
	AssetLTC       = "LTC"
	AssetETH       = "ETH"
	AssetUSDTERC20 = "USDT-ERC20"
	AssetUSDTTRC20 = "USDT-TRC20"
)

var (
	ErrTxNotFound       = errors.New("transaction not found")
	ErrUnsupportedAsset = errors.New("unsupported chain/currency combination")
)

// Category classifies a rejected verification.
type Category string

const (
	CategoryNotFound        Category = "not_found"
	CategoryAddressMismatch Category = "address_mismatch"
	CategoryAmountMismatch  Category = "amount_mismatch"
	CategoryReverted        Category = "reverted"
	CategoryWrongContract   Category = "wrong_contract"
	CategoryProviderError   Category = "provider_error"
)

// VerificationResult is returned by every Verifier. Expected failures are
// reported with Verified=false and never as a Go error.
type VerificationResult struct {
	Verified      bool            `json:"verified"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int64           `json:"confirmations"`
	Status        string          `json:"status,omitempty"`
	Error         string          `json:"error,omitempty"`
	Category      Category        `json:"category,omitempty"`
}

func (r VerificationResult) IsConfirmed() bool {
	return r.Verified && r.Status == common.PaymentStatusConfirmed
}

// Verifier checks a single transaction against an expected payment.
type Verifier interface {
	Params() Params
	Verify(ctx context.Context, txRef, expectedAddress string, expectedAmount decimal.Decimal) VerificationResult
}

// Transfer is a candidate payment found by scanning an address.
type Transfer struct {
	TxHash string
	To     string
	Amount decimal.Decimal
}

// TransferScanner lists transfers received by an address.
type TransferScanner interface {
	ScanTransfers(ctx context.Context, address string) ([]Transfer, error)
}

// Params holds everything that differs between chains for the verification
// rules: threshold, tolerance and address format.
type Params struct {
	Asset                    string
	Chain                    string
	Currency                 string
	Provider                 string
	Confirmations            int64
	Tolerance                decimal.Decimal
	Decimals                 int32
	CaseInsensitiveAddresses bool
}

func (p Params) MatchAddress(observed, expected string) bool {
	if p.CaseInsensitiveAddresses {
		return strings.EqualFold(observed, expected)
	}
	return observed == expected
}

// WithinTolerance accepts any overpayment and an underpayment of at most
// Tolerance × expected.
func (p Params) WithinTolerance(observed, expected decimal.Decimal) bool {
	diff := observed.Sub(expected)
	if diff.Sign() >= 0 {
		return true
	}
	return diff.Abs().LessThanOrEqual(expected.Mul(p.Tolerance))
}

func (p Params) StatusFor(confirmations int64) string {
	if confirmations >= p.Confirmations {
		return common.PaymentStatusConfirmed
	}
	return common.PaymentStatusPending
}

func (p Params) FromBaseUnits(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -p.Decimals)
}

func (p Params) verified(amount decimal.Decimal, confirmations int64) VerificationResult {
	if confirmations < 0 {
		confirmations = 0
	}
	return VerificationResult{
		Verified:      true,
		Amount:        amount,
		Confirmations: confirmations,
		Status:        p.StatusFor(confirmations),
	}
}

func (p Params) checkAmount(observed, expected decimal.Decimal) (VerificationResult, bool) {
	if p.WithinTolerance(observed, expected) {
		return VerificationResult{}, true
	}
	return rejected(CategoryAmountMismatch, "amount mismatch: expected %s %s, got %s", expected, p.Currency, observed), false
}

// failure turns the error of an exhausted provider call into a rejection.
func (p Params) failure(err error) VerificationResult {
	if errors.Is(err, ErrTxNotFound) {
		return rejected(CategoryNotFound, "transaction not found")
	}
	return rejected(CategoryProviderError, "%s error", p.Provider)
}

func rejected(category Category, format string, args ...interface{}) VerificationResult {
	return VerificationResult{
		Verified: false,
		Status:   common.PaymentStatusFailed,
		Category: category,
		Error:    fmt.Sprintf(format, args...),
	}
}

// NormalizeTxHash returns the ledger key of a transaction reference: the
// 0x-prefixed lowercase form on ETH, bare lowercase hex on the other chains.
// References that are not hex are only trimmed.
func NormalizeTxHash(chain, txRef string) string {
	ref := strings.TrimSpace(txRef)
	if chain == common.ChainETH {
		if hash, ok := parseTxHash(ref); ok {
			return hash.Hex()
		}
		return ref
	}
	bare := ref
	if has0xPrefix(bare) {
		bare = bare[2:]
	}
	if bare == "" {
		return ref
	}
	if _, err := hex.DecodeString(bare); err != nil {
		return ref
	}
	return strings.ToLower(bare)
}

func AssetFor(chain, currency string) (string, error) {
	switch {
	case chain == common.ChainBTC && currency == common.CurrencyBTC:
		return AssetBTC, nil
	case chain == common.ChainLTC && currency == common.CurrencyLTC:
		return AssetLTC, nil
	case chain == common.ChainETH && currency == common.CurrencyETH:
		return AssetETH, nil
	case chain == common.ChainETH && currency == common.CurrencyUSDT:
		return AssetUSDTERC20, nil
	case chain == common.ChainTRON && currency == common.CurrencyUSDT:
		return AssetUSDTTRC20, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedAsset, chain, currency)
}
