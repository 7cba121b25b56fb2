package v2controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/payhub/payhub.go/chains"
	"github.com/payhub/payhub.go/db/models"
	"github.com/payhub/payhub.go/lib/responses"
	"github.com/payhub/payhub.go/lib/service"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

// InvoiceController : invoice creation and lookup
type InvoiceController struct {
	svc *service.PayhubService
}

func NewInvoiceController(svc *service.PayhubService) *InvoiceController {
	return &InvoiceController{svc: svc}
}

type CreateInvoiceRequestBody struct {
	OrderID        *int64          `json:"order_id" validate:"required_without=SubscriptionID,excluded_with=SubscriptionID"`
	SubscriptionID *int64          `json:"subscription_id"`
	Chain          string          `json:"chain" validate:"required"`
	Currency       string          `json:"currency" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
	TTLSeconds     int64           `json:"ttl_seconds" validate:"gte=0"`
}

type Payment struct {
	TxHash        string          `json:"tx_hash"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	Confirmations int64           `json:"confirmations"`
	VerifiedAt    *time.Time      `json:"verified_at,omitempty"`
}

type Invoice struct {
	ID             int64           `json:"id"`
	OrderID        *int64          `json:"order_id,omitempty"`
	SubscriptionID *int64          `json:"subscription_id,omitempty"`
	Chain          string          `json:"chain"`
	Currency       string          `json:"currency"`
	Address        string          `json:"address"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
	PaymentURI     string          `json:"payment_uri"`
	ExpiresAt      time.Time       `json:"expires_at"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	Payments       []Payment       `json:"payments,omitempty"`
}

func toInvoice(invoice *models.Invoice, payments []models.Payment) Invoice {
	result := Invoice{
		ID:             invoice.ID,
		OrderID:        invoice.OrderID,
		SubscriptionID: invoice.SubscriptionID,
		Chain:          invoice.Chain,
		Currency:       invoice.Currency,
		Address:        invoice.Address,
		Amount:         invoice.ExpectedAmount,
		Status:         invoice.Status,
		PaymentURI:     paymentURI(invoice),
		ExpiresAt:      invoice.ExpiresAt,
	}
	if !invoice.PaidAt.IsZero() {
		paidAt := invoice.PaidAt.Time
		result.PaidAt = &paidAt
	}
	for _, p := range payments {
		result.Payments = append(result.Payments, toPayment(&p))
	}
	return result
}

func toPayment(p *models.Payment) Payment {
	payment := Payment{
		TxHash:        p.TxHash,
		Amount:        p.Amount,
		Status:        p.Status,
		Confirmations: p.Confirmations,
	}
	if !p.VerifiedAt.IsZero() {
		verifiedAt := p.VerifiedAt.Time
		payment.VerifiedAt = &verifiedAt
	}
	return payment
}

func paymentURI(invoice *models.Invoice) string {
	asset, err := chains.AssetFor(invoice.Chain, invoice.Currency)
	if err != nil {
		return invoice.Address
	}
	return chains.PaymentURI(asset, invoice.Address, invoice.ExpectedAmount)
}

// CreateInvoice godoc
// @Summary      Create a payment invoice
// @Description  Derives a fresh address and opens a pending invoice for an order or a subscription
// @Accept       json
// @Produce      json
// @Tags         Invoice
// @Param        invoice  body      CreateInvoiceRequestBody  True  "Create Invoice"
// @Success      200      {object}  Invoice
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      500      {object}  responses.ErrorResponse
// @Router       /v2/invoices [post]
func (controller *InvoiceController) CreateInvoice(c echo.Context) error {
	var body CreateInvoiceRequestBody

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load create invoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid create invoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	invoice, err := controller.svc.CreateInvoice(c.Request().Context(), service.CreateInvoiceParams{
		OrderID:        body.OrderID,
		SubscriptionID: body.SubscriptionID,
		Chain:          strings.ToUpper(body.Chain),
		Currency:       strings.ToUpper(body.Currency),
		Amount:         body.Amount,
		TTL:            time.Duration(body.TTLSeconds) * time.Second,
	})
	if err != nil {
		c.Logger().Errorf("Error creating invoice: chain:%s currency:%s error: %v", body.Chain, body.Currency, err)
		return serviceError(err)
	}

	return c.JSON(http.StatusOK, toInvoice(invoice, nil))
}

// GetInvoice godoc
// @Summary      Retrieve an invoice
// @Description  Returns the invoice with all payments recorded against it
// @Produce      json
// @Tags         Invoice
// @Param        id   path      int  true  "Invoice id"
// @Success      200  {object}  Invoice
// @Failure      404  {object}  responses.ErrorResponse
// @Router       /v2/invoices/{id} [get]
func (controller *InvoiceController) GetInvoice(c echo.Context) error {
	invoice, err := controller.findInvoice(c)
	if err != nil {
		return err
	}
	payments, err := controller.svc.FindPaymentsByInvoice(c.Request().Context(), invoice.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toInvoice(invoice, payments))
}

// GetInvoiceQR returns the payment URI of the invoice as a PNG QR code.
func (controller *InvoiceController) GetInvoiceQR(c echo.Context) error {
	invoice, err := controller.findInvoice(c)
	if err != nil {
		return err
	}
	png, err := qrcode.Encode(paymentURI(invoice), qrcode.Medium, 256)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

func (controller *InvoiceController) findInvoice(c echo.Context) (*models.Invoice, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, httpError(responses.BadArgumentsError)
	}
	invoice, err := controller.svc.FindInvoice(c.Request().Context(), id)
	if err != nil {
		return nil, serviceError(err)
	}
	return invoice, nil
}
