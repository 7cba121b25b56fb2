package v2controllers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/payhub/payhub.go/lib/poller"
	"github.com/payhub/payhub.go/lib/responses"
)

// Poller is the part of the polling scheduler exposed over HTTP.
type Poller interface {
	Stats() poller.Stats
	ResetStats()
	ManualPoll(ctx context.Context) (*poller.ManualPollResult, error)
}

// PollerController : poller statistics and manual sweeps
type PollerController struct {
	poller Poller
}

func NewPollerController(p Poller) *PollerController {
	return &PollerController{poller: p}
}

// Stats godoc
// @Summary      Poller statistics
// @Description  Counters of the polling scheduler since start or the last reset
// @Produce      json
// @Tags         Poller
// @Success      200  {object}  poller.Stats
// @Router       /v2/poller/stats [get]
// @Security     AdminToken
func (controller *PollerController) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, controller.poller.Stats())
}

// ResetStats godoc
// @Summary      Reset poller statistics
// @Tags         Poller
// @Success      200  {object}  poller.Stats
// @Router       /v2/poller/stats/reset [post]
// @Security     AdminToken
func (controller *PollerController) ResetStats(c echo.Context) error {
	controller.poller.ResetStats()
	c.Logger().Info("Poller statistics reset")
	return c.JSON(http.StatusOK, controller.poller.Stats())
}

// Poll godoc
// @Summary      Run a sweep now
// @Description  Sweeps all pending poll-based invoices once, outside of the schedule
// @Produce      json
// @Tags         Poller
// @Success      200  {object}  poller.ManualPollResult
// @Failure      503  {object}  responses.ErrorResponse
// @Router       /v2/poller/poll [post]
// @Security     AdminToken
func (controller *PollerController) Poll(c echo.Context) error {
	result, err := controller.poller.ManualPoll(c.Request().Context())
	if err != nil {
		c.Logger().Errorf("Manual poll failed: %v", err)
		return c.JSON(http.StatusServiceUnavailable, responses.PollFailedError)
	}
	return c.JSON(http.StatusOK, result)
}
