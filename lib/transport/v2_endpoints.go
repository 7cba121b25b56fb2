package transport

import (
	"github.com/labstack/echo/v4"
	v2controllers "github.com/payhub/payhub.go/controllers_v2"
	"github.com/payhub/payhub.go/lib/service"
	"github.com/payhub/payhub.go/lib/tokens"
)

func RegisterV2Endpoints(svc *service.PayhubService, p v2controllers.Poller, e *echo.Echo, secured *echo.Group, securedWithStrictRateLimit *echo.Group, logMw echo.MiddlewareFunc) {
	invoiceCtrl := v2controllers.NewInvoiceController(svc)
	pollerCtrl := v2controllers.NewPollerController(p)

	e.GET("/health", v2controllers.NewHealthController(svc.DB, p).Check)

	// chain watchers can only pass a secret in the callback url
	e.POST("/v2/webhooks/:chain", v2controllers.NewChainWebhookController(svc).Handle, tokens.QueryTokenMiddleware(svc.Config.WebhookSecret), logMw)
	// websocket clients can not set an Authorization header either
	e.GET("/v2/events/stream", v2controllers.NewEventStreamController(svc).StreamEvents, tokens.QueryTokenMiddleware(svc.Config.AdminToken), logMw)

	secured.POST("/v2/invoices", invoiceCtrl.CreateInvoice)
	secured.GET("/v2/invoices/:id", invoiceCtrl.GetInvoice)
	secured.GET("/v2/invoices/:id/qr", invoiceCtrl.GetInvoiceQR)
	securedWithStrictRateLimit.POST("/v2/invoices/:id/payments", v2controllers.NewPaymentController(svc).SubmitPayment)
	secured.POST("/v2/subscriptions/:id/activate", v2controllers.NewSubscriptionController(svc).Activate)

	secured.GET("/v2/poller/stats", pollerCtrl.Stats)
	secured.POST("/v2/poller/stats/reset", pollerCtrl.ResetStats)
	securedWithStrictRateLimit.POST("/v2/poller/poll", pollerCtrl.Poll)
}
