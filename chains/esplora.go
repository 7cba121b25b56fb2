package chains

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// EsploraClient talks to an Esplora REST API (blockstream.info, litecoinspace.org).
type EsploraClient struct {
	*providerClient
}

type esploraTx struct {
	Txid   string `json:"txid"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	} `json:"status"`
	Vout []struct {
		ScriptPubKeyAddress string `json:"scriptpubkey_address"`
		Value               int64  `json:"value"` // satoshi
	} `json:"vout"`
}

// receivedBy sums the outputs paying to address.
func (tx *esploraTx) receivedBy(address string, match func(observed, expected string) bool) (int64, bool) {
	var total int64
	found := false
	for _, out := range tx.Vout {
		if out.ScriptPubKeyAddress != "" && match(out.ScriptPubKeyAddress, address) {
			total += out.Value
			found = true
		}
	}
	return total, found
}

func NewEsploraClient(baseURL string, rps float64, timeout time.Duration) *EsploraClient {
	return &EsploraClient{
		providerClient: newProviderClient("esplora", strings.TrimRight(baseURL, "/"), rps, timeout),
	}
}

func (c *EsploraClient) Transaction(ctx context.Context, txid string) (*esploraTx, error) {
	tx := &esploraTx{}
	if err := c.getJSON(ctx, "/tx/"+txid, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *EsploraClient) TipHeight(ctx context.Context) (int64, error) {
	body, err := c.do(ctx, http.MethodGet, "/blocks/tip/height", nil)
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("invalid tip height %q: %w", body, err))
	}
	return height, nil
}

// AddressTransactions returns the most recent transactions of an address,
// mempool first.
func (c *EsploraClient) AddressTransactions(ctx context.Context, address string) ([]esploraTx, error) {
	txs := []esploraTx{}
	if err := c.getJSON(ctx, "/address/"+address+"/txs", &txs); err != nil {
		return nil, err
	}
	return txs, nil
}
