package chains

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/payhub/payhub.go/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const (
	tronUSDTContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	tronTxID         = "4f3c1e6b8a2d9f7e5c3b1a09f8e7d6c5b4a39281706f5e4d3c2b1a0998877665"
)

var tronRecipientPayload = strings.Repeat("ab", 20)

func tronRecipient() string {
	b, _ := hex.DecodeString("41" + tronRecipientPayload)
	return address.Address(b).String()
}

func tronContractHex(t *testing.T, base58 string) string {
	a, err := address.Base58ToAddress(base58)
	assert.NoError(t, err)
	return hex.EncodeToString(a)
}

func transferCallData(recipientPayload string, units int64) string {
	return trc20TransferSelector + strings.Repeat("0", 24) + recipientPayload + fmt.Sprintf("%064x", units)
}

func tronTxJSON(contractRet, contractType, contractHex, data string) string {
	return fmt.Sprintf(`{"txID":"%s","ret":[{"contractRet":"%s"}],"raw_data":{"contract":[{"type":"%s","parameter":{"value":{"owner_address":"41%s","contract_address":"%s","data":"%s"}}}]}}`,
		tronTxID, contractRet, contractType, strings.Repeat("cd", 20), contractHex, data)
}

func tronGridServer(t *testing.T, txBody string, transfers string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/wallet/gettransactionbyid":
			req := map[string]string{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req["value"] != tronTxID {
				fmt.Fprint(w, "{}")
				return
			}
			fmt.Fprint(w, txBody)
		case strings.HasSuffix(r.URL.Path, "/transactions/trc20"):
			assert.Equal(t, "true", r.URL.Query().Get("only_to"))
			assert.Equal(t, tronUSDTContract, r.URL.Query().Get("contract_address"))
			fmt.Fprint(w, transfers)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestTRC20Verifier(t *testing.T, url string) *TRC20Verifier {
	v, err := NewTRC20Verifier(NewTronGridClient(url, "key", 0, 0), tronUSDTContract, 19, decimal.RequireFromString("0.01"), 3)
	assert.NoError(t, err)
	return v
}

func TestTRC20VerifySuccess(t *testing.T) {
	body := tronTxJSON("SUCCESS", "TriggerSmartContract", tronContractHex(t, tronUSDTContract), transferCallData(tronRecipientPayload, 50_000_000))
	srv := tronGridServer(t, body, "")
	defer srv.Close()

	res := newTestTRC20Verifier(t, srv.URL).Verify(context.Background(), tronTxID, tronRecipient(), decimal.RequireFromString("50"))
	assert.True(t, res.Verified)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("50")))
	assert.Equal(t, int64(19), res.Confirmations)
	assert.Equal(t, common.PaymentStatusConfirmed, res.Status)
}

func TestTRC20VerifyFailedContract(t *testing.T) {
	body := tronTxJSON("REVERT", "TriggerSmartContract", tronContractHex(t, tronUSDTContract), transferCallData(tronRecipientPayload, 50_000_000))
	srv := tronGridServer(t, body, "")
	defer srv.Close()

	res := newTestTRC20Verifier(t, srv.URL).Verify(context.Background(), tronTxID, tronRecipient(), decimal.RequireFromString("50"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryReverted, res.Category)
	assert.Contains(t, res.Error, "REVERT")
}

func TestTRC20VerifyWrongContract(t *testing.T) {
	other := "41" + strings.Repeat("ef", 20)
	body := tronTxJSON("SUCCESS", "TriggerSmartContract", other, transferCallData(tronRecipientPayload, 50_000_000))
	srv := tronGridServer(t, body, "")
	defer srv.Close()

	res := newTestTRC20Verifier(t, srv.URL).Verify(context.Background(), tronTxID, tronRecipient(), decimal.RequireFromString("50"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryWrongContract, res.Category)
	assert.Equal(t, "not a USDT transfer", res.Error)
}

func TestTRC20VerifyNativeTransferIsNotUSDT(t *testing.T) {
	body := tronTxJSON("SUCCESS", "TransferContract", "", "")
	srv := tronGridServer(t, body, "")
	defer srv.Close()

	res := newTestTRC20Verifier(t, srv.URL).Verify(context.Background(), tronTxID, tronRecipient(), decimal.RequireFromString("50"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryWrongContract, res.Category)
}

func TestTRC20VerifyWrongRecipient(t *testing.T) {
	body := tronTxJSON("SUCCESS", "TriggerSmartContract", tronContractHex(t, tronUSDTContract), transferCallData(strings.Repeat("12", 20), 50_000_000))
	srv := tronGridServer(t, body, "")
	defer srv.Close()

	res := newTestTRC20Verifier(t, srv.URL).Verify(context.Background(), tronTxID, tronRecipient(), decimal.RequireFromString("50"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryAddressMismatch, res.Category)
}

func TestTRC20VerifyUnderpaymentBeyondTolerance(t *testing.T) {
	body := tronTxJSON("SUCCESS", "TriggerSmartContract", tronContractHex(t, tronUSDTContract), transferCallData(tronRecipientPayload, 49_000_000))
	srv := tronGridServer(t, body, "")
	defer srv.Close()

	res := newTestTRC20Verifier(t, srv.URL).Verify(context.Background(), tronTxID, tronRecipient(), decimal.RequireFromString("50"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryAmountMismatch, res.Category)
}

func TestTRC20VerifyUnknownTransaction(t *testing.T) {
	srv := tronGridServer(t, "{}", "")
	defer srv.Close()

	res := newTestTRC20Verifier(t, srv.URL).Verify(context.Background(), strings.Repeat("0", 64), tronRecipient(), decimal.RequireFromString("50"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryNotFound, res.Category)
}

func TestTRC20ScanTransfers(t *testing.T) {
	transfers := fmt.Sprintf(`{"success":true,"data":[
		{"transaction_id":"%s","from":"TFrom","to":"%s","type":"Transfer","value":"12500000","token_info":{"address":"%s","decimals":6}},
		{"transaction_id":"other","from":"TFrom","to":"%s","type":"Transfer","value":"1","token_info":{"address":"TNotUSDT","decimals":6}}
	]}`, tronTxID, tronRecipient(), tronUSDTContract, tronRecipient())
	srv := tronGridServer(t, "{}", transfers)
	defer srv.Close()

	found, err := newTestTRC20Verifier(t, srv.URL).ScanTransfers(context.Background(), tronRecipient())
	assert.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, tronTxID, found[0].TxHash)
	assert.True(t, found[0].Amount.Equal(decimal.RequireFromString("12.5")))
}

func TestDecodeTRC20Transfer(t *testing.T) {
	to, units, err := decodeTRC20Transfer("0x" + transferCallData(tronRecipientPayload, 1_000_000))
	assert.NoError(t, err)
	assert.Equal(t, tronRecipient(), to)
	assert.Equal(t, int64(1_000_000), units.Int64())

	_, _, err = decodeTRC20Transfer("095ea7b3" + strings.Repeat("0", 128))
	assert.Error(t, err)
}

func TestTronBase58(t *testing.T) {
	assert.Equal(t, tronUSDTContract, tronBase58(tronContractHex(t, tronUSDTContract)))
	assert.Equal(t, tronUSDTContract, tronBase58(tronUSDTContract))
}
