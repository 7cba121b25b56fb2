package chains

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/payhub/payhub.go/common"
)

// AddressWatcher registers push notifications for payments to an address.
type AddressWatcher interface {
	Watch(ctx context.Context, chain, address string) (string, error)
	Unwatch(ctx context.Context, chain, watchID string) error
}

// BlockCypherWatcher registers tx-confirmation hooks. BlockCypher calls the
// hook for every new confirmation up to the requested count.
type BlockCypherWatcher struct {
	client        *providerClient
	token         string
	callbackURL   string
	secret        string
	confirmations map[string]int64
}

type blockCypherHook struct {
	ID            string `json:"id,omitempty"`
	Event         string `json:"event"`
	Address       string `json:"address"`
	URL           string `json:"url"`
	Confirmations int64  `json:"confirmations,omitempty"`
}

func NewBlockCypherWatcher(cfg *Config, webhookSecret string) *BlockCypherWatcher {
	return &BlockCypherWatcher{
		client:      newProviderClient("blockcypher", strings.TrimRight(cfg.BlockCypherUrl, "/"), 3, time.Duration(cfg.ProviderTimeout)*time.Second),
		token:       cfg.BlockCypherToken,
		callbackURL: strings.TrimRight(cfg.BlockCypherCallbackUrl, "/"),
		secret:      webhookSecret,
		confirmations: map[string]int64{
			common.ChainBTC: cfg.BTCConfirmations,
			common.ChainLTC: cfg.LTCConfirmations,
		},
	}
}

// Enabled reports whether hooks can be registered at all.
func (w *BlockCypherWatcher) Enabled() bool {
	return w.token != "" && w.callbackURL != ""
}

func (w *BlockCypherWatcher) Watch(ctx context.Context, chain, address string) (string, error) {
	if !w.Enabled() {
		return "", nil
	}
	coin, err := blockCypherCoin(chain)
	if err != nil {
		return "", err
	}
	callback := fmt.Sprintf("%s/%s", w.callbackURL, strings.ToLower(chain))
	if w.secret != "" {
		callback += "?token=" + url.QueryEscape(w.secret)
	}
	hook := &blockCypherHook{
		Event:         "tx-confirmation",
		Address:       address,
		URL:           callback,
		Confirmations: w.confirmations[chain],
	}
	created := &blockCypherHook{}
	if err := w.client.postJSON(ctx, fmt.Sprintf("/%s/main/hooks?token=%s", coin, url.QueryEscape(w.token)), hook, created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (w *BlockCypherWatcher) Unwatch(ctx context.Context, chain, watchID string) error {
	if !w.Enabled() || watchID == "" {
		return nil
	}
	coin, err := blockCypherCoin(chain)
	if err != nil {
		return err
	}
	_, err = w.client.do(ctx, http.MethodDelete, fmt.Sprintf("/%s/main/hooks/%s?token=%s", coin, watchID, url.QueryEscape(w.token)), nil)
	return err
}

func blockCypherCoin(chain string) (string, error) {
	switch chain {
	case common.ChainBTC:
		return "btc", nil
	case common.ChainLTC:
		return "ltc", nil
	}
	return "", fmt.Errorf("%w: no address watch for %s", ErrUnsupportedAsset, chain)
}
