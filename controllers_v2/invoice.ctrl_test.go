package v2controllers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db/models"
	"github.com/payhub/payhub.go/lib/responses"
	"github.com/payhub/payhub.go/lib/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
)

func TestToInvoice(t *testing.T) {
	orderID := int64(12)
	paidAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	invoice := &models.Invoice{
		ID:             3,
		OrderID:        &orderID,
		Chain:          common.ChainBTC,
		Currency:       common.CurrencyBTC,
		Address:        "bc1qexampleaddress",
		ExpectedAmount: decimal.RequireFromString("0.0015"),
		Status:         common.InvoiceStatusPaid,
		PaidAt:         bun.NullTime{Time: paidAt},
	}
	payments := []models.Payment{{
		TxHash:        "abc",
		Amount:        decimal.RequireFromString("0.0015"),
		Status:        common.PaymentStatusConfirmed,
		Confirmations: 3,
	}}

	result := toInvoice(invoice, payments)
	assert.Equal(t, int64(3), result.ID)
	assert.Equal(t, &orderID, result.OrderID)
	assert.Equal(t, "bitcoin:bc1qexampleaddress?amount=0.0015", result.PaymentURI)
	assert.Equal(t, paidAt, *result.PaidAt)
	assert.Len(t, result.Payments, 1)
	assert.Equal(t, "abc", result.Payments[0].TxHash)
	assert.Nil(t, result.Payments[0].VerifiedAt)
}

func TestPaymentURIFallsBackToAddress(t *testing.T) {
	invoice := &models.Invoice{Chain: "DOGE", Currency: "DOGE", Address: "D8vFz4p1L37jdg9xpVvTdkRvmTmjMShJ1W"}
	assert.Equal(t, invoice.Address, paymentURI(invoice))
}

func TestServiceError(t *testing.T) {
	cases := []struct {
		err      error
		expected responses.ErrorResponse
	}{
		{service.ErrInvoiceNotFound, responses.InvoiceNotFoundError},
		{fmt.Errorf("%w: DOGE", service.ErrUnsupportedChain), responses.UnsupportedChainError},
		{service.ErrInvalidTarget, responses.BadArgumentsError},
		{service.ErrInvalidAmount, responses.BadArgumentsError},
		{fmt.Errorf("%w: duplicate key", service.ErrAddressExhausted), responses.AddressAllocationError},
		{service.ErrShopNotFound, responses.ShopNotFoundError},
		{service.ErrSubscriptionNotFound, responses.SubscriptionNotFoundError},
	}
	for _, tc := range cases {
		he, ok := serviceError(tc.err).(*echo.HTTPError)
		if assert.True(t, ok, tc.err.Error()) {
			assert.Equal(t, tc.expected.HttpStatusCode, he.Code)
			assert.Equal(t, tc.expected, he.Message)
		}
	}

	other := errors.New("connection reset")
	assert.Equal(t, other, serviceError(other))
	assert.Equal(t, http.StatusNotFound, responses.InvoiceNotFoundError.HttpStatusCode)
}
