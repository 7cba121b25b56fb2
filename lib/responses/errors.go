package responses

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error          bool   `json:"error"`
	Code           int    `json:"code"`
	Message        string `json:"message"`
	HttpStatusCode int    `json:"-"`
}

var GeneralServerError = ErrorResponse{
	Error:          true,
	Code:           6,
	Message:        "Something went wrong. Please try again later",
	HttpStatusCode: 500,
}

var BadArgumentsError = ErrorResponse{
	Error:          true,
	Code:           8,
	Message:        "Bad arguments",
	HttpStatusCode: 400,
}

var BadAuthError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "bad auth",
	HttpStatusCode: 401,
}

var InvoiceNotFoundError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "invoice not found",
	HttpStatusCode: 404,
}

var InvoiceExpiredError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "invoice expired",
	HttpStatusCode: 400,
}

var UnsupportedChainError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "unsupported chain or currency",
	HttpStatusCode: 400,
}

var AddressAllocationError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "could not allocate a payment address. Please try again",
	HttpStatusCode: 409,
}

var SubscriptionNotFoundError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "subscription not found",
	HttpStatusCode: 404,
}

var ShopNotFoundError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "shop not found",
	HttpStatusCode: 404,
}

var PollFailedError = ErrorResponse{
	Error:          true,
	Code:           4,
	Message:        "poll failed. Please try again later",
	HttpStatusCode: 503,
}

func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	c.Logger().Error(err)
	if hub := sentryecho.GetHubFromContext(c); hub != nil && isErrAllowedForSentry(err) {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetExtra("RequestID", c.Response().Header().Get(echo.HeaderXRequestID))
			hub.CaptureException(err)
		})
	}
	if he, ok := err.(*echo.HTTPError); ok {
		c.JSON(he.Code, he.Message)
		return
	}
	c.JSON(http.StatusInternalServerError, GeneralServerError)
}

// bad auth responses are expected noise and not reported
func isErrAllowedForSentry(err error) bool {
	he, ok := err.(*echo.HTTPError)
	if !ok {
		return true
	}
	switch msg := he.Message.(type) {
	case echo.Map:
		if code, ok := msg["code"].(int); ok && code == BadAuthError.Code {
			return false
		}
	case ErrorResponse:
		return msg.Code != BadAuthError.Code
	case *ErrorResponse:
		return msg.Code != BadAuthError.Code
	}
	return true
}
