package chains

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/payhub/payhub.go/common"
	"github.com/shopspring/decimal"
)

const (
	tronContractSuccess   = "SUCCESS"
	triggerSmartContract  = "TriggerSmartContract"
	trc20TransferSelector = "a9059cbb"
	trc20ScanLimit        = 50
	tronAddressPrefix     = byte(0x41)
)

// TRC20Verifier verifies USDT transfers on TRON. TronGrid does not expose a
// confirmation count, so a successful transaction reports the nominal
// threshold value.
type TRC20Verifier struct {
	params   Params
	client   *TronGridClient
	contract string
	attempts int
}

func NewTRC20Verifier(client *TronGridClient, contract string, nominalConfirmations int64, tolerance decimal.Decimal, attempts int) (*TRC20Verifier, error) {
	if _, err := address.Base58ToAddress(contract); err != nil {
		return nil, fmt.Errorf("invalid TRC20 contract address %q: %w", contract, err)
	}
	return &TRC20Verifier{
		params: Params{
			Asset:         AssetUSDTTRC20,
			Chain:         common.ChainTRON,
			Currency:      common.CurrencyUSDT,
			Provider:      "trongrid",
			Confirmations: nominalConfirmations,
			Tolerance:     tolerance,
			Decimals:      6,
		},
		client:   client,
		contract: contract,
		attempts: attempts,
	}, nil
}

func (v *TRC20Verifier) Params() Params {
	return v.params
}

func (v *TRC20Verifier) Verify(ctx context.Context, txRef, expectedAddress string, expectedAmount decimal.Decimal) VerificationResult {
	tx, err := retry(ctx, v.attempts, func() (*tronTransaction, error) {
		return v.client.Transaction(ctx, txRef)
	})
	if err != nil {
		return v.params.failure(err)
	}

	if len(tx.Ret) == 0 || tx.Ret[0].ContractRet != tronContractSuccess {
		ret := ""
		if len(tx.Ret) > 0 {
			ret = tx.Ret[0].ContractRet
		}
		return rejected(CategoryReverted, "transaction failed/reverted on-chain (contractRet=%s)", ret)
	}
	if len(tx.RawData.Contract) == 0 || tx.RawData.Contract[0].Type != triggerSmartContract {
		return rejected(CategoryWrongContract, "not a USDT transfer")
	}
	call := tx.RawData.Contract[0].Parameter.Value
	if tronBase58(call.ContractAddress) != v.contract {
		return rejected(CategoryWrongContract, "not a USDT transfer")
	}
	to, units, err := decodeTRC20Transfer(call.Data)
	if err != nil {
		return rejected(CategoryWrongContract, "not a USDT transfer: %v", err)
	}
	if !v.params.MatchAddress(to, expectedAddress) {
		return rejected(CategoryAddressMismatch, "address mismatch: transfer sent to %s", to)
	}
	amount := v.params.FromBaseUnits(units)
	if res, ok := v.params.checkAmount(amount, expectedAmount); !ok {
		return res
	}
	return v.params.verified(amount, v.params.Confirmations)
}

// ScanTransfers lists confirmed USDT transfers received by address.
func (v *TRC20Verifier) ScanTransfers(ctx context.Context, address string) ([]Transfer, error) {
	records, err := retry(ctx, v.attempts, func() ([]trc20Transfer, error) {
		return v.client.IncomingTRC20Transfers(ctx, address, v.contract, trc20ScanLimit)
	})
	if err != nil {
		return nil, err
	}
	transfers := []Transfer{}
	for _, r := range records {
		if r.TokenInfo.Address != v.contract || !v.params.MatchAddress(r.To, address) {
			continue
		}
		units, ok := new(big.Int).SetString(r.Value, 10)
		if !ok {
			continue
		}
		decimals := r.TokenInfo.Decimals
		if decimals == 0 {
			decimals = v.params.Decimals
		}
		transfers = append(transfers, Transfer{
			TxHash: r.TransactionID,
			To:     r.To,
			Amount: decimal.NewFromBigInt(units, -decimals),
		})
	}
	return transfers, nil
}

// tronBase58 converts a 41-prefixed hex address to base58. Base58 input is
// returned unchanged.
func tronBase58(s string) string {
	if strings.HasPrefix(s, "T") {
		return s
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != 21 {
		return s
	}
	return address.Address(b).String()
}

// decodeTRC20Transfer decodes transfer(address,uint256) call data.
func decodeTRC20Transfer(data string) (string, *big.Int, error) {
	data = strings.TrimPrefix(strings.ToLower(data), "0x")
	if len(data) < 8+64+64 || !strings.HasPrefix(data, trc20TransferSelector) {
		return "", nil, fmt.Errorf("unsupported call data")
	}
	recipient, err := hex.DecodeString(data[8+24 : 8+64])
	if err != nil {
		return "", nil, fmt.Errorf("invalid recipient: %w", err)
	}
	units, ok := new(big.Int).SetString(data[8+64:8+128], 16)
	if !ok {
		return "", nil, fmt.Errorf("invalid amount")
	}
	to := address.Address(append([]byte{tronAddressPrefix}, recipient...)).String()
	return to, units, nil
}
