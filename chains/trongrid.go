package chains

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TronGridClient talks to the TronGrid HTTP API.
type TronGridClient struct {
	*providerClient
}

type tronTransaction struct {
	TxID string `json:"txID"`
	Ret  []struct {
		ContractRet string `json:"contractRet"`
	} `json:"ret"`
	RawData struct {
		Contract []struct {
			Type      string `json:"type"`
			Parameter struct {
				Value struct {
					OwnerAddress    string `json:"owner_address"`
					ContractAddress string `json:"contract_address"`
					Data            string `json:"data"`
				} `json:"value"`
			} `json:"parameter"`
		} `json:"contract"`
	} `json:"raw_data"`
}

type trc20TransfersResponse struct {
	Success bool            `json:"success"`
	Data    []trc20Transfer `json:"data"`
}

type trc20Transfer struct {
	TransactionID string `json:"transaction_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Type          string `json:"type"`
	Value         string `json:"value"`
	TokenInfo     struct {
		Address  string `json:"address"`
		Decimals int32  `json:"decimals"`
	} `json:"token_info"`
}

func NewTronGridClient(baseURL, apiKey string, rps float64, timeout time.Duration) *TronGridClient {
	c := newProviderClient("trongrid", strings.TrimRight(baseURL, "/"), rps, timeout)
	if apiKey != "" {
		c.headers["TRON-PRO-API-KEY"] = apiKey
	}
	return &TronGridClient{providerClient: c}
}

// Transaction returns the transaction with hex encoded addresses. TronGrid
// answers an unknown id with an empty object.
func (c *TronGridClient) Transaction(ctx context.Context, txid string) (*tronTransaction, error) {
	tx := &tronTransaction{}
	err := c.postJSON(ctx, "/wallet/gettransactionbyid", map[string]interface{}{"value": txid}, tx)
	if err != nil {
		return nil, err
	}
	if tx.TxID == "" {
		return nil, backoff.Permanent(ErrTxNotFound)
	}
	return tx, nil
}

// IncomingTRC20Transfers lists the confirmed transfers of contract received by address.
func (c *TronGridClient) IncomingTRC20Transfers(ctx context.Context, address, contract string, limit int) ([]trc20Transfer, error) {
	query := url.Values{}
	query.Set("only_to", "true")
	query.Set("only_confirmed", "true")
	query.Set("limit", fmt.Sprintf("%d", limit))
	query.Set("contract_address", contract)

	resp := &trc20TransfersResponse{}
	if err := c.getJSON(ctx, "/v1/accounts/"+address+"/transactions/trc20?"+query.Encode(), resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("trongrid returned an unsuccessful response for %s", address)
	}
	return resp.Data, nil
}
