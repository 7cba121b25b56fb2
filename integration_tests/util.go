package integration_tests

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/payhub/payhub.go/chains"
	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db"
	"github.com/payhub/payhub.go/db/migrations"
	"github.com/payhub/payhub.go/db/models"
	"github.com/payhub/payhub.go/lib"
	"github.com/payhub/payhub.go/lib/responses"
	"github.com/payhub/payhub.go/lib/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/uptrace/bun/migrate"
	"github.com/ziflex/lecho/v3"
)

type TestSuite struct {
	suite.Suite
	echo *echo.Echo
}

type scriptedTx struct {
	to            string
	amount        decimal.Decimal
	confirmations int64
	reverted      bool
}

// scriptedVerifier applies the chain rules to transactions set up by the test
// instead of asking a provider.
type scriptedVerifier struct {
	params chains.Params
	mu     sync.Mutex
	txs    map[string]*scriptedTx
}

func newScriptedVerifier(params chains.Params) *scriptedVerifier {
	return &scriptedVerifier{params: params, txs: map[string]*scriptedTx{}}
}

func (v *scriptedVerifier) Params() chains.Params { return v.params }

func (v *scriptedVerifier) set(txHash, to string, amount string, confirmations int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.txs[txHash] = &scriptedTx{to: to, amount: decimal.RequireFromString(amount), confirmations: confirmations}
}

func (v *scriptedVerifier) revert(txHash string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.txs[txHash].reverted = true
}

func (v *scriptedVerifier) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.txs = map[string]*scriptedTx{}
}

func (v *scriptedVerifier) Verify(ctx context.Context, txRef, expectedAddress string, expectedAmount decimal.Decimal) chains.VerificationResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	tx, ok := v.txs[txRef]
	switch {
	case !ok:
		return chains.VerificationResult{Category: chains.CategoryNotFound, Error: "transaction not found"}
	case tx.reverted:
		return chains.VerificationResult{Category: chains.CategoryReverted, Error: "transaction reverted"}
	case !v.params.MatchAddress(tx.to, expectedAddress):
		return chains.VerificationResult{Category: chains.CategoryAddressMismatch, Error: "address mismatch"}
	case !v.params.WithinTolerance(tx.amount, expectedAmount):
		return chains.VerificationResult{Category: chains.CategoryAmountMismatch, Error: "amount mismatch"}
	}
	return chains.VerificationResult{
		Verified:      true,
		Amount:        tx.amount,
		Confirmations: tx.confirmations,
		Status:        v.params.StatusFor(tx.confirmations),
	}
}

func (v *scriptedVerifier) ScanTransfers(ctx context.Context, address string) ([]chains.Transfer, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	transfers := []chains.Transfer{}
	for hash, tx := range v.txs {
		if v.params.MatchAddress(tx.to, address) {
			transfers = append(transfers, chains.Transfer{TxHash: hash, To: tx.to, Amount: tx.amount})
		}
	}
	return transfers, nil
}

type testDeriver struct{}

func (testDeriver) Supports(chain string) bool { return chain != "DOGE" }

func (testDeriver) Derive(chain string, index int64) (string, error) {
	return fmt.Sprintf("%s-test-address-%d", chain, index), nil
}

// recordingWatcher hands out watch ids and remembers which were removed.
type recordingWatcher struct {
	mu      sync.Mutex
	next    int
	removed []string
}

func (w *recordingWatcher) Watch(ctx context.Context, chain, address string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	return fmt.Sprintf("watch-%d", w.next), nil
}

func (w *recordingWatcher) Unwatch(ctx context.Context, chain, watchID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removed = append(w.removed, watchID)
	return nil
}

func (w *recordingWatcher) removedIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string{}, w.removed...)
}

type testVerifiers struct {
	btc  *scriptedVerifier
	tron *scriptedVerifier
}

func (v *testVerifiers) reset() {
	v.btc.reset()
	v.tron.reset()
}

func newTestVerifiers() (*chains.Registry, *testVerifiers) {
	verifiers := &testVerifiers{
		btc: newScriptedVerifier(chains.Params{
			Asset: chains.AssetBTC, Chain: common.ChainBTC, Currency: common.CurrencyBTC, Provider: "esplora",
			Confirmations: 3, Tolerance: decimal.RequireFromString("0.005"), Decimals: 8,
		}),
		tron: newScriptedVerifier(chains.Params{
			Asset: chains.AssetUSDTTRC20, Chain: common.ChainTRON, Currency: common.CurrencyUSDT, Provider: "trongrid",
			Confirmations: 19, Tolerance: decimal.RequireFromString("0.01"), Decimals: 6,
		}),
	}
	registry := chains.NewRegistry()
	registry.Register(verifiers.btc)
	registry.Register(verifiers.tron)
	return registry, verifiers
}

// PayhubTestServiceInit connects to the database named by DATABASE_URI.
func PayhubTestServiceInit() (svc *service.PayhubService, verifiers *testVerifiers, err error) {
	dbUri, ok := os.LookupEnv("DATABASE_URI")
	if !ok {
		return nil, nil, errNoDatabase
	}
	c := &service.Config{
		DatabaseUri:             dbUri,
		DatabaseMaxConns:        4,
		DatabaseMaxIdleConns:    1,
		DatabaseConnMaxLifetime: 10,
		DatabaseTimeout:         10,
		PollBatchSize:           10,
		SubscriptionPeriod:      30 * 24 * time.Hour,
		DefaultInvoiceTTL:       time.Hour,
		LatePaymentWindow:       24 * time.Hour,
		WebhookSecret:           "hook-secret",
	}

	dbConn, err := db.Open(c)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx := context.Background()
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	err = migrator.Init(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init migrations: %w", err)
	}
	_, err = migrator.Migrate(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to migrate: %w", err)
	}

	registry, verifiers := newTestVerifiers()
	svc = &service.PayhubService{
		Config:      c,
		DB:          dbConn,
		Logger:      lecho.New(io.Discard),
		Verifiers:   registry,
		Deriver:     testDeriver{},
		EventPubSub: service.NewPubsub(),
	}
	return svc, verifiers, nil
}

var errNoDatabase = fmt.Errorf("DATABASE_URI not set, skipping postgres backed tests")

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = responses.HTTPErrorHandler
	e.Validator = &lib.CustomValidator{Validator: validator.New()}
	return e
}

func clearTables(svc *service.PayhubService) error {
	if svc == nil {
		return nil
	}
	for _, table := range []string{"payments", "invoices", "orders", "products", "subscriptions", "shops"} {
		if _, err := svc.DB.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return err
		}
	}
	return nil
}

type orderFixture struct {
	shop    *models.Shop
	product *models.Product
	order   *models.Order
}

func createOrder(ctx context.Context, svc *service.PayhubService, stock, reserved, quantity int64) (*orderFixture, error) {
	shop := &models.Shop{OwnerID: 1, Tier: "basic", IsActive: true}
	if _, err := svc.DB.NewInsert().Model(shop).Exec(ctx); err != nil {
		return nil, err
	}
	product := &models.Product{ShopID: shop.ID, Stock: stock, Reserved: reserved}
	if _, err := svc.DB.NewInsert().Model(product).Exec(ctx); err != nil {
		return nil, err
	}
	order := &models.Order{ProductID: product.ID, BuyerID: 100, SellerID: shop.OwnerID, Quantity: quantity, Status: common.OrderStatusPending}
	if _, err := svc.DB.NewInsert().Model(order).Exec(ctx); err != nil {
		return nil, err
	}
	return &orderFixture{shop: shop, product: product, order: order}, nil
}

func createSubscription(ctx context.Context, svc *service.PayhubService, shopID *int64, tier string) (*models.Subscription, error) {
	subscription := &models.Subscription{ShopID: shopID, UserID: 200, Tier: tier, Status: common.SubscriptionStatusPending}
	_, err := svc.DB.NewInsert().Model(subscription).Exec(ctx)
	return subscription, err
}

func createShop(ctx context.Context, svc *service.PayhubService) (*models.Shop, error) {
	shop := &models.Shop{OwnerID: 200, Tier: "free"}
	_, err := svc.DB.NewInsert().Model(shop).Exec(ctx)
	return shop, err
}

func reload(ctx context.Context, svc *service.PayhubService, model interface{}, id int64) error {
	return svc.DB.NewSelect().Model(model).Where("id = ?", id).Limit(1).Scan(ctx)
}

func expireNow(ctx context.Context, svc *service.PayhubService, invoiceID int64) error {
	_, err := svc.DB.NewUpdate().
		Model((*models.Invoice)(nil)).
		Set("expires_at = ?", time.Now().Add(-time.Minute)).
		Where("id = ?", invoiceID).
		Exec(ctx)
	return err
}
