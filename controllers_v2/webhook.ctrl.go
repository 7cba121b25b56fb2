package v2controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/payhub/payhub.go/lib/responses"
	"github.com/payhub/payhub.go/lib/service"
)

// ChainWebhookController : push notifications from chain watchers
type ChainWebhookController struct {
	svc *service.PayhubService
}

func NewChainWebhookController(svc *service.PayhubService) *ChainWebhookController {
	return &ChainWebhookController{svc: svc}
}

type WebhookOutput struct {
	Addresses []string `json:"addresses"`
	Value     int64    `json:"value"`
}

// ChainWebhookRequestBody accepts BlockCypher transaction callbacks as well as
// the plain {address, tx_hash} form.
type ChainWebhookRequestBody struct {
	Hash      string          `json:"hash"`
	Addresses []string        `json:"addresses"`
	Outputs   []WebhookOutput `json:"outputs"`
	Address   string          `json:"address"`
	TxHash    string          `json:"tx_hash"`
}

func (body *ChainWebhookRequestBody) txHash() string {
	if body.TxHash != "" {
		return body.TxHash
	}
	return body.Hash
}

// candidateAddresses lists the addresses that may belong to an invoice:
// the explicit address first, then output addresses, then the rest.
func (body *ChainWebhookRequestBody) candidateAddresses() []string {
	seen := map[string]bool{}
	result := []string{}
	add := func(address string) {
		if address == "" || seen[address] {
			return
		}
		seen[address] = true
		result = append(result, address)
	}
	add(body.Address)
	for _, output := range body.Outputs {
		for _, address := range output.Addresses {
			add(address)
		}
	}
	for _, address := range body.Addresses {
		add(address)
	}
	return result
}

type ChainWebhookResponseBody struct {
	Matched bool                       `json:"matched"`
	Result  *SubmitPaymentResponseBody `json:"result,omitempty"`
}

// Handle godoc
// @Summary      Chain watcher callback
// @Description  Verifies a pushed transaction against the invoice owning one of its addresses
// @Accept       json
// @Produce      json
// @Tags         Webhook
// @Param        chain  path      string                   true  "Chain"
// @Param        body   body      ChainWebhookRequestBody  True  "Transaction"
// @Success      200    {object}  ChainWebhookResponseBody
// @Failure      400    {object}  responses.ErrorResponse
// @Router       /v2/webhooks/{chain} [post]
func (controller *ChainWebhookController) Handle(c echo.Context) error {
	var body ChainWebhookRequestBody
	chain := strings.ToUpper(c.Param("chain"))

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load webhook body chain:%s %v", chain, err)
		return httpError(responses.BadArgumentsError)
	}
	txHash := body.txHash()
	addresses := body.candidateAddresses()
	if txHash == "" || len(addresses) == 0 {
		c.Logger().Errorf("Webhook without tx hash or address chain:%s", chain)
		return httpError(responses.BadArgumentsError)
	}

	// An unknown address is answered with 200, otherwise the provider keeps retrying.
	for _, address := range addresses {
		outcome, err := controller.svc.HandleChainTransaction(c.Request().Context(), chain, address, txHash)
		if errors.Is(err, service.ErrInvoiceNotFound) {
			continue
		}
		if err != nil {
			c.Logger().Errorf("Could not handle webhook chain:%s address:%s tx_hash:%s %v", chain, address, txHash, err)
			return serviceError(err)
		}
		return c.JSON(http.StatusOK, &ChainWebhookResponseBody{Matched: true, Result: toSubmitPaymentResponse(outcome)})
	}
	c.Logger().Infof("Webhook for unknown addresses chain:%s tx_hash:%s addresses:%v", chain, txHash, addresses)
	return c.JSON(http.StatusOK, &ChainWebhookResponseBody{Matched: false})
}
