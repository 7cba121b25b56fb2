package v2controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/payhub/payhub.go/chains"
	"github.com/payhub/payhub.go/lib/responses"
	"github.com/payhub/payhub.go/lib/service"
)

// PaymentController : manual transaction submission
type PaymentController struct {
	svc *service.PayhubService
}

func NewPaymentController(svc *service.PayhubService) *PaymentController {
	return &PaymentController{svc: svc}
}

type SubmitPaymentRequestBody struct {
	TxHash string `json:"tx_hash" validate:"required,max=128"`
}

type SubmitPaymentResponseBody struct {
	InvoiceID     int64           `json:"invoice_id"`
	InvoiceStatus string          `json:"invoice_status"`
	Verified      bool            `json:"verified"`
	Category      chains.Category `json:"category,omitempty"`
	Error         string          `json:"error,omitempty"`
	Settled       bool            `json:"settled"`
	Payment       *Payment        `json:"payment,omitempty"`
}

// SubmitPayment godoc
// @Summary      Submit a transaction for an invoice
// @Description  Verifies the transaction on chain and records it against the invoice
// @Accept       json
// @Produce      json
// @Tags         Payment
// @Param        id       path      int                       true  "Invoice id"
// @Param        payment  body      SubmitPaymentRequestBody  True  "Submit Payment"
// @Success      200      {object}  SubmitPaymentResponseBody
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      404      {object}  responses.ErrorResponse
// @Router       /v2/invoices/{id}/payments [post]
func (controller *PaymentController) SubmitPayment(c echo.Context) error {
	var body SubmitPaymentRequestBody
	var invoiceID int64

	if err := echo.PathParamsBinder(c).MustInt64("id", &invoiceID).BindError(); err != nil {
		return httpError(responses.BadArgumentsError)
	}
	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load submit payment request body: %v", err)
		return httpError(responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid submit payment request body: %v", err)
		return httpError(responses.BadArgumentsError)
	}

	c.Logger().Infof("Manual transaction submission invoice_id:%v tx_hash:%s", invoiceID, body.TxHash)
	outcome, err := controller.svc.SubmitTransaction(c.Request().Context(), invoiceID, body.TxHash)
	if err != nil {
		return serviceError(err)
	}

	return c.JSON(http.StatusOK, toSubmitPaymentResponse(outcome))
}

func toSubmitPaymentResponse(outcome *service.TransactionOutcome) *SubmitPaymentResponseBody {
	response := &SubmitPaymentResponseBody{
		InvoiceID:     outcome.Invoice.ID,
		InvoiceStatus: outcome.Invoice.Status,
		Verified:      outcome.Verification.Verified,
		Category:      outcome.Verification.Category,
		Error:         outcome.Verification.Error,
		Settled:       outcome.Settled,
	}
	if outcome.Payment != nil {
		payment := toPayment(outcome.Payment)
		response.Payment = &payment
	}
	return response
}
