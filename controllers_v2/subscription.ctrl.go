package v2controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/payhub/payhub.go/lib/responses"
	"github.com/payhub/payhub.go/lib/service"
)

// SubscriptionController : deferred shop activation
type SubscriptionController struct {
	svc *service.PayhubService
}

func NewSubscriptionController(svc *service.PayhubService) *SubscriptionController {
	return &SubscriptionController{svc: svc}
}

type ActivateSubscriptionRequestBody struct {
	ShopID int64 `json:"shop_id" validate:"required,gt=0"`
}

// Activate godoc
// @Summary      Activate a paid subscription
// @Description  Applies a subscription that was paid before its shop existed. Called by the shop creation flow.
// @Accept       json
// @Produce      json
// @Tags         Subscription
// @Param        id    path      int                              true  "Subscription id"
// @Param        body  body      ActivateSubscriptionRequestBody  True  "Shop"
// @Success      200   {object}  models.Subscription
// @Failure      400   {object}  responses.ErrorResponse
// @Failure      404   {object}  responses.ErrorResponse
// @Router       /v2/subscriptions/{id}/activate [post]
// @Security     AdminToken
func (controller *SubscriptionController) Activate(c echo.Context) error {
	var body ActivateSubscriptionRequestBody
	var subscriptionID int64

	if err := echo.PathParamsBinder(c).MustInt64("id", &subscriptionID).BindError(); err != nil {
		return httpError(responses.BadArgumentsError)
	}
	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load activate subscription request body: %v", err)
		return httpError(responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid activate subscription request body: %v", err)
		return httpError(responses.BadArgumentsError)
	}

	subscription, err := controller.svc.ActivatePendingSubscription(c.Request().Context(), subscriptionID, body.ShopID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, subscription)
}
