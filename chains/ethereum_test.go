package chains

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/payhub/payhub.go/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const (
	ethInvoiceAddress = "0x1111111111111111111111111111111111111111"
	ethOtherAddress   = "0x2222222222222222222222222222222222222222"
	ethUSDTContract   = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
)

type fakeEthBackend struct {
	head      uint64
	txs       map[ethcommon.Hash]*types.Transaction
	pending   map[ethcommon.Hash]bool
	receipts  map[ethcommon.Hash]*types.Receipt
	blocks    map[uint64]*types.Block
	logs      []types.Log
	headErr   error
	headCalls int
	lastQuery ethereum.FilterQuery
}

func newFakeEthBackend(head uint64) *fakeEthBackend {
	return &fakeEthBackend{
		head:     head,
		txs:      map[ethcommon.Hash]*types.Transaction{},
		pending:  map[ethcommon.Hash]bool{},
		receipts: map[ethcommon.Hash]*types.Receipt{},
		blocks:   map[uint64]*types.Block{},
	}
}

func (f *fakeEthBackend) TransactionByHash(ctx context.Context, hash ethcommon.Hash) (*types.Transaction, bool, error) {
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, f.pending[hash], nil
}

func (f *fakeEthBackend) TransactionReceipt(ctx context.Context, hash ethcommon.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeEthBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.headCalls++
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeEthBackend) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	b, ok := f.blocks[number.Uint64()]
	if !ok {
		return types.NewBlockWithHeader(&types.Header{Number: new(big.Int).Set(number)}), nil
	}
	return b, nil
}

func (f *fakeEthBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.lastQuery = q
	return f.logs, nil
}

func (f *fakeEthBackend) addTx(nonce uint64, to string, wei *big.Int, data []byte, block int64, status uint64, logs ...*types.Log) ethcommon.Hash {
	addr := ethcommon.HexToAddress(to)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &addr,
		Value:    wei,
		Gas:      21000,
		GasPrice: big.NewInt(1),
		Data:     data,
	})
	hash := tx.Hash()
	f.txs[hash] = tx
	f.receipts[hash] = &types.Receipt{
		Status:      status,
		BlockNumber: big.NewInt(block),
		TxHash:      hash,
		Logs:        logs,
	}
	return hash
}

func ether(s string) *big.Int {
	return decimal.RequireFromString(s).Shift(18).BigInt()
}

func transferLog(contract, to string, units int64) *types.Log {
	return &types.Log{
		Address: ethcommon.HexToAddress(contract),
		Topics: []ethcommon.Hash{
			transferEventTopic,
			ethcommon.BytesToHash(ethcommon.HexToAddress(ethOtherAddress).Bytes()),
			ethcommon.BytesToHash(ethcommon.HexToAddress(to).Bytes()),
		},
		Data: ethcommon.LeftPadBytes(big.NewInt(units).Bytes(), 32),
	}
}

func TestEthereumVerifyConfirmed(t *testing.T) {
	backend := newFakeEthBackend(111)
	hash := backend.addTx(1, ethInvoiceAddress, ether("0.5"), nil, 100, types.ReceiptStatusSuccessful)

	v := NewEthereumVerifier(backend, 12, decimal.RequireFromString("0.005"), 3)
	res := v.Verify(context.Background(), hash.Hex(), "0x"+strings.ToUpper(ethInvoiceAddress[2:]), decimal.RequireFromString("0.5"))
	assert.True(t, res.Verified)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, int64(12), res.Confirmations)
	assert.Equal(t, common.PaymentStatusConfirmed, res.Status)
}

func TestEthereumVerifyReverted(t *testing.T) {
	backend := newFakeEthBackend(200)
	hash := backend.addTx(1, ethInvoiceAddress, ether("1"), nil, 100, types.ReceiptStatusFailed)

	v := NewEthereumVerifier(backend, 12, decimal.RequireFromString("0.005"), 3)
	res := v.Verify(context.Background(), hash.Hex(), ethInvoiceAddress, decimal.RequireFromString("1"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryReverted, res.Category)
	assert.Regexp(t, `(?i)failed|reverted`, res.Error)
}

func TestEthereumVerifyPendingHasNoConfirmations(t *testing.T) {
	backend := newFakeEthBackend(200)
	hash := backend.addTx(1, ethInvoiceAddress, ether("1"), nil, 0, types.ReceiptStatusSuccessful)
	backend.pending[hash] = true
	delete(backend.receipts, hash)

	v := NewEthereumVerifier(backend, 12, decimal.RequireFromString("0.005"), 3)
	res := v.Verify(context.Background(), hash.Hex(), ethInvoiceAddress, decimal.RequireFromString("1"))
	assert.True(t, res.Verified)
	assert.Equal(t, int64(0), res.Confirmations)
	assert.Equal(t, common.PaymentStatusPending, res.Status)
}

func TestEthereumVerifyWrongRecipient(t *testing.T) {
	backend := newFakeEthBackend(200)
	hash := backend.addTx(1, ethOtherAddress, ether("1"), nil, 100, types.ReceiptStatusSuccessful)

	v := NewEthereumVerifier(backend, 12, decimal.RequireFromString("0.005"), 3)
	res := v.Verify(context.Background(), hash.Hex(), ethInvoiceAddress, decimal.RequireFromString("1"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryAddressMismatch, res.Category)
}

func TestEthereumVerifyUnknownAndMalformedHash(t *testing.T) {
	backend := newFakeEthBackend(200)
	v := NewEthereumVerifier(backend, 12, decimal.RequireFromString("0.005"), 3)

	res := v.Verify(context.Background(), "0x"+strings.Repeat("ab", 32), ethInvoiceAddress, decimal.RequireFromString("1"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryNotFound, res.Category)

	res = v.Verify(context.Background(), "not-a-hash", ethInvoiceAddress, decimal.RequireFromString("1"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryNotFound, res.Category)
}

func TestEthereumVerifyProviderError(t *testing.T) {
	backend := newFakeEthBackend(200)
	backend.headErr = errors.New("connection reset")
	hash := backend.addTx(1, ethInvoiceAddress, ether("1"), nil, 100, types.ReceiptStatusSuccessful)

	v := NewEthereumVerifier(backend, 12, decimal.RequireFromString("0.005"), 3)
	res := v.Verify(context.Background(), hash.Hex(), ethInvoiceAddress, decimal.RequireFromString("1"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryProviderError, res.Category)
	assert.Equal(t, "ethereum rpc error", res.Error)
	assert.Equal(t, 3, backend.headCalls)
}

func newTestERC20Verifier(t *testing.T, backend EthBackend) *ERC20Verifier {
	v, err := NewERC20Verifier(backend, ethUSDTContract, 12, decimal.RequireFromString("0.01"), 5000, 3)
	assert.NoError(t, err)
	return v
}

func TestERC20VerifyTransferLog(t *testing.T) {
	backend := newFakeEthBackend(120)
	hash := backend.addTx(1, ethUSDTContract, big.NewInt(0), []byte{0xa9, 0x05, 0x9c, 0xbb}, 100, types.ReceiptStatusSuccessful,
		transferLog(ethUSDTContract, ethInvoiceAddress, 99_500_000))

	res := newTestERC20Verifier(t, backend).Verify(context.Background(), hash.Hex(), ethInvoiceAddress, decimal.RequireFromString("100"))
	assert.True(t, res.Verified)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("99.5")))
	assert.Equal(t, int64(21), res.Confirmations)
	assert.Equal(t, common.PaymentStatusConfirmed, res.Status)
}

func TestERC20VerifyWrongContract(t *testing.T) {
	backend := newFakeEthBackend(120)
	other := "0x3333333333333333333333333333333333333333"
	hash := backend.addTx(1, other, big.NewInt(0), nil, 100, types.ReceiptStatusSuccessful,
		transferLog(other, ethInvoiceAddress, 100_000_000))

	res := newTestERC20Verifier(t, backend).Verify(context.Background(), hash.Hex(), ethInvoiceAddress, decimal.RequireFromString("100"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryWrongContract, res.Category)
	assert.Equal(t, "not a USDT transfer", res.Error)
}

func TestERC20VerifyIgnoresForeignLogs(t *testing.T) {
	backend := newFakeEthBackend(120)
	hash := backend.addTx(1, ethUSDTContract, big.NewInt(0), nil, 100, types.ReceiptStatusSuccessful,
		transferLog("0x3333333333333333333333333333333333333333", ethInvoiceAddress, 100_000_000),
		transferLog(ethUSDTContract, ethOtherAddress, 100_000_000))

	res := newTestERC20Verifier(t, backend).Verify(context.Background(), hash.Hex(), ethInvoiceAddress, decimal.RequireFromString("100"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryAddressMismatch, res.Category)
}

func TestERC20VerifyUnderpayment(t *testing.T) {
	backend := newFakeEthBackend(120)
	hash := backend.addTx(1, ethUSDTContract, big.NewInt(0), nil, 100, types.ReceiptStatusSuccessful,
		transferLog(ethUSDTContract, ethInvoiceAddress, 98_000_000))

	res := newTestERC20Verifier(t, backend).Verify(context.Background(), hash.Hex(), ethInvoiceAddress, decimal.RequireFromString("100"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryAmountMismatch, res.Category)
}

func TestERC20VerifyPendingIsNotFound(t *testing.T) {
	backend := newFakeEthBackend(120)
	hash := backend.addTx(1, ethUSDTContract, big.NewInt(0), nil, 0, types.ReceiptStatusSuccessful)
	backend.pending[hash] = true

	res := newTestERC20Verifier(t, backend).Verify(context.Background(), hash.Hex(), ethInvoiceAddress, decimal.RequireFromString("100"))
	assert.False(t, res.Verified)
	assert.Equal(t, CategoryNotFound, res.Category)
}

func TestERC20ScanTransfers(t *testing.T) {
	backend := newFakeEthBackend(10_000)
	txHash := ethcommon.HexToHash("0x" + strings.Repeat("cd", 32))
	backend.logs = []types.Log{
		{TxHash: txHash, Data: ethcommon.LeftPadBytes(big.NewInt(25_000_000).Bytes(), 32)},
		{TxHash: ethcommon.HexToHash("0x01"), Data: ethcommon.LeftPadBytes(big.NewInt(1).Bytes(), 32), Removed: true},
	}

	transfers, err := newTestERC20Verifier(t, backend).ScanTransfers(context.Background(), ethInvoiceAddress)
	assert.NoError(t, err)
	assert.Len(t, transfers, 1)
	assert.Equal(t, txHash.Hex(), transfers[0].TxHash)
	assert.True(t, transfers[0].Amount.Equal(decimal.RequireFromString("25")))
	assert.Equal(t, uint64(5000), backend.lastQuery.FromBlock.Uint64())
	assert.Equal(t, ethcommon.HexToAddress(ethUSDTContract), backend.lastQuery.Addresses[0])
}

func TestERC20ScanTransfersSumsLogsOfOneTransaction(t *testing.T) {
	backend := newFakeEthBackend(10_000)
	split := ethcommon.HexToHash("0x" + strings.Repeat("ef", 32))
	single := ethcommon.HexToHash("0x" + strings.Repeat("12", 32))
	backend.logs = []types.Log{
		{TxHash: split, Data: ethcommon.LeftPadBytes(big.NewInt(15_000_000).Bytes(), 32)},
		{TxHash: single, Data: ethcommon.LeftPadBytes(big.NewInt(3_000_000).Bytes(), 32)},
		{TxHash: split, Data: ethcommon.LeftPadBytes(big.NewInt(10_000_000).Bytes(), 32)},
	}

	transfers, err := newTestERC20Verifier(t, backend).ScanTransfers(context.Background(), ethInvoiceAddress)
	assert.NoError(t, err)
	assert.Len(t, transfers, 2)
	assert.Equal(t, split.Hex(), transfers[0].TxHash)
	assert.True(t, transfers[0].Amount.Equal(decimal.RequireFromString("25")))
	assert.Equal(t, single.Hex(), transfers[1].TxHash)
	assert.True(t, transfers[1].Amount.Equal(decimal.RequireFromString("3")))
}

func TestNewERC20VerifierRejectsBadContract(t *testing.T) {
	_, err := NewERC20Verifier(newFakeEthBackend(0), "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", 12, decimal.Zero, 10, 1)
	assert.Error(t, err)
}

func TestBlockScannerFindsNativeTransfers(t *testing.T) {
	backend := newFakeEthBackend(105)
	to := ethcommon.HexToAddress(ethInvoiceAddress)
	other := ethcommon.HexToAddress(ethOtherAddress)
	hit := types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Value: ether("0.25"), Gas: 21000, GasPrice: big.NewInt(1)})
	miss := types.NewTx(&types.LegacyTx{Nonce: 2, To: &other, Value: ether("1"), Gas: 21000, GasPrice: big.NewInt(1)})
	zero := types.NewTx(&types.LegacyTx{Nonce: 3, To: &to, Value: big.NewInt(0), Gas: 21000, GasPrice: big.NewInt(1)})
	backend.blocks[103] = types.NewBlockWithHeader(&types.Header{Number: big.NewInt(103)}).
		WithBody(types.Body{Transactions: []*types.Transaction{hit, miss, zero}})

	scanner := NewBlockScanner(backend, 5, 100, 3)
	found, err := scanner.Scan(context.Background(), []string{strings.ToUpper(ethInvoiceAddress[:2]) + ethInvoiceAddress[2:]})
	assert.NoError(t, err)
	transfers := found[strings.ToLower(ethInvoiceAddress)]
	assert.Len(t, transfers, 1)
	assert.Equal(t, hit.Hash().Hex(), transfers[0].TxHash)
	assert.True(t, transfers[0].Amount.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, uint64(106), scanner.Cursor())

	found, err = scanner.Scan(context.Background(), []string{ethInvoiceAddress})
	assert.NoError(t, err)
	assert.Empty(t, found)
}

func TestBlockScannerCapsBlocksPerScan(t *testing.T) {
	backend := newFakeEthBackend(1000)
	scanner := NewBlockScanner(backend, 500, 100, 1)

	_, err := scanner.Scan(context.Background(), []string{ethInvoiceAddress})
	assert.NoError(t, err)
	assert.Equal(t, uint64(600), scanner.Cursor())
}

func TestBlockScannerSkipsAheadWhenNothingWatched(t *testing.T) {
	backend := newFakeEthBackend(1000)
	scanner := NewBlockScanner(backend, 500, 100, 1)

	_, err := scanner.Scan(context.Background(), nil)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1001), scanner.Cursor())
}
