package integration_tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	v2controllers "github.com/payhub/payhub.go/controllers_v2"
	"github.com/payhub/payhub.go/lib/responses"
	"github.com/payhub/payhub.go/lib/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type InvoiceTestSuite struct {
	TestSuite
	service   *service.PayhubService
	verifiers *testVerifiers
}

func (suite *InvoiceTestSuite) SetupSuite() {
	svc, verifiers, err := PayhubTestServiceInit()
	if err != nil {
		suite.T().Skip(err.Error())
	}
	suite.service = svc
	suite.verifiers = verifiers
	suite.echo = newTestEcho()
	invoiceCtrl := v2controllers.NewInvoiceController(svc)
	suite.echo.POST("/v2/invoices", invoiceCtrl.CreateInvoice)
	suite.echo.GET("/v2/invoices/:id", invoiceCtrl.GetInvoice)
	suite.echo.GET("/v2/invoices/:id/qr", invoiceCtrl.GetInvoiceQR)
}

func (suite *InvoiceTestSuite) TearDownTest() {
	err := clearTables(suite.service)
	if err != nil {
		fmt.Printf("Tear down test error %v\n", err.Error())
	}
}

func (suite *InvoiceTestSuite) createInvoice(body map[string]interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	assert.NoError(suite.T(), json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, "/v2/invoices", &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	suite.echo.ServeHTTP(rec, req)
	return rec
}

func (suite *InvoiceTestSuite) TestCreateInvoiceAllocatesFreshAddresses() {
	fixture, err := createOrder(context.Background(), suite.service, 10, 2, 2)
	assert.NoError(suite.T(), err)

	addresses := []string{}
	for i := 0; i < 2; i++ {
		rec := suite.createInvoice(map[string]interface{}{
			"order_id": fixture.order.ID,
			"chain":    "tron",
			"currency": "usdt",
			"amount":   "25.5",
		})
		assert.Equal(suite.T(), http.StatusOK, rec.Code)
		invoice := &v2controllers.Invoice{}
		assert.NoError(suite.T(), json.NewDecoder(rec.Body).Decode(invoice))
		assert.Equal(suite.T(), "TRON", invoice.Chain)
		assert.Equal(suite.T(), "USDT", invoice.Currency)
		assert.Equal(suite.T(), "pending", invoice.Status)
		assert.Equal(suite.T(), "25.5", invoice.Amount.String())
		addresses = append(addresses, invoice.Address)
	}
	assert.Equal(suite.T(), []string{"TRON-test-address-0", "TRON-test-address-1"}, addresses)
}

func (suite *InvoiceTestSuite) TestCreateInvoiceNeedsExactlyOneTarget() {
	subscription, err := createSubscription(context.Background(), suite.service, nil, "pro")
	assert.NoError(suite.T(), err)

	rec := suite.createInvoice(map[string]interface{}{
		"order_id":        1,
		"subscription_id": subscription.ID,
		"chain":           "BTC",
		"currency":        "BTC",
		"amount":          "0.001",
	})
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)

	rec = suite.createInvoice(map[string]interface{}{
		"chain":    "BTC",
		"currency": "BTC",
		"amount":   "0.001",
	})
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
}

func (suite *InvoiceTestSuite) TestCreateInvoiceRejectsUnsupportedChain() {
	subscription, err := createSubscription(context.Background(), suite.service, nil, "pro")
	assert.NoError(suite.T(), err)

	rec := suite.createInvoice(map[string]interface{}{
		"subscription_id": subscription.ID,
		"chain":           "DOGE",
		"currency":        "DOGE",
		"amount":          "100",
	})
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
	errorResponse := &responses.ErrorResponse{}
	assert.NoError(suite.T(), json.NewDecoder(rec.Body).Decode(errorResponse))
	assert.Equal(suite.T(), responses.UnsupportedChainError.Message, errorResponse.Message)
}

func (suite *InvoiceTestSuite) TestGetInvoice() {
	subscription, err := createSubscription(context.Background(), suite.service, nil, "pro")
	assert.NoError(suite.T(), err)
	rec := suite.createInvoice(map[string]interface{}{
		"subscription_id": subscription.ID,
		"chain":           "BTC",
		"currency":        "BTC",
		"amount":          "0.001",
	})
	assert.Equal(suite.T(), http.StatusOK, rec.Code)
	created := &v2controllers.Invoice{}
	assert.NoError(suite.T(), json.NewDecoder(rec.Body).Decode(created))

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v2/invoices/%d", created.ID), nil)
	rec = httptest.NewRecorder()
	suite.echo.ServeHTTP(rec, req)
	assert.Equal(suite.T(), http.StatusOK, rec.Code)
	invoice := &v2controllers.Invoice{}
	assert.NoError(suite.T(), json.NewDecoder(rec.Body).Decode(invoice))
	assert.Equal(suite.T(), created.Address, invoice.Address)
	assert.Equal(suite.T(), subscription.ID, *invoice.SubscriptionID)
	assert.NotEmpty(suite.T(), invoice.PaymentURI)
	assert.Empty(suite.T(), invoice.Payments)

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v2/invoices/%d/qr", created.ID), nil)
	rec = httptest.NewRecorder()
	suite.echo.ServeHTTP(rec, req)
	assert.Equal(suite.T(), http.StatusOK, rec.Code)
	assert.Equal(suite.T(), "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.True(suite.T(), bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func (suite *InvoiceTestSuite) TestGetUnknownInvoice() {
	req := httptest.NewRequest(http.MethodGet, "/v2/invoices/999999", nil)
	rec := httptest.NewRecorder()
	suite.echo.ServeHTTP(rec, req)
	assert.Equal(suite.T(), http.StatusNotFound, rec.Code)
}

func TestInvoiceTestSuite(t *testing.T) {
	suite.Run(t, new(InvoiceTestSuite))
}
