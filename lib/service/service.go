package service

import (
	"context"
	"errors"
	"sync"

	"github.com/payhub/payhub.go/chains"
	"github.com/payhub/payhub.go/rabbitmq"
	"github.com/uptrace/bun"
	"github.com/ziflex/lecho/v3"
)

var (
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrShopNotFound         = errors.New("shop not found")
	ErrUnsupportedChain     = errors.New("unsupported chain")
	ErrInvalidTarget        = errors.New("invoice needs exactly one of order_id or subscription_id")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrAddressExhausted     = errors.New("could not allocate a payment address")
)

// VerifierRegistry resolves the verifier for a chain/currency pair.
type VerifierRegistry interface {
	Verifier(asset string) (chains.Verifier, error)
	VerifierFor(chain, currency string) (chains.Verifier, error)
	Scanner(asset string) (chains.TransferScanner, bool)
}

type AddressDeriver interface {
	Supports(chain string) bool
	Derive(chain string, index int64) (string, error)
}

// NativeTransferScanner finds native ETH transfers to any of the watched addresses.
type NativeTransferScanner interface {
	Scan(ctx context.Context, watched []string) (map[string][]chains.Transfer, error)
}

type PayhubService struct {
	Config         *Config
	DB             *bun.DB
	Logger         *lecho.Logger
	Verifiers      VerifierRegistry
	Deriver        AddressDeriver
	Watcher        chains.AddressWatcher
	NativeScanner  NativeTransferScanner
	EventPubSub    *Pubsub
	RabbitMQClient rabbitmq.Client

	candidatesMu     sync.Mutex
	nativeCandidates map[string][]chains.Transfer
}
