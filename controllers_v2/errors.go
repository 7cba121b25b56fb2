package v2controllers

import (
	"errors"

	"github.com/labstack/echo/v4"
	"github.com/payhub/payhub.go/lib/responses"
	"github.com/payhub/payhub.go/lib/service"
)

func httpError(response responses.ErrorResponse) *echo.HTTPError {
	return echo.NewHTTPError(response.HttpStatusCode, response)
}

// serviceError maps the service sentinels to their public responses and
// leaves everything else to the HTTPErrorHandler.
func serviceError(err error) error {
	switch {
	case errors.Is(err, service.ErrInvoiceNotFound):
		return httpError(responses.InvoiceNotFoundError)
	case errors.Is(err, service.ErrSubscriptionNotFound):
		return httpError(responses.SubscriptionNotFoundError)
	case errors.Is(err, service.ErrShopNotFound):
		return httpError(responses.ShopNotFoundError)
	case errors.Is(err, service.ErrUnsupportedChain):
		return httpError(responses.UnsupportedChainError)
	case errors.Is(err, service.ErrInvalidTarget), errors.Is(err, service.ErrInvalidAmount):
		return httpError(responses.BadArgumentsError)
	case errors.Is(err, service.ErrAddressExhausted):
		return httpError(responses.AddressAllocationError)
	}
	return err
}
