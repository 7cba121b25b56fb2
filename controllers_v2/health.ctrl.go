package v2controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

type HealthController struct {
	db     *bun.DB
	poller Poller
}

func NewHealthController(db *bun.DB, p Poller) *HealthController {
	return &HealthController{db: db, poller: p}
}

type HealthResponse struct {
	Result        string `json:"result"`
	Database      string `json:"database"`
	PollerRunning bool   `json:"poller_running"`
}

// Check godoc
// @Summary      Check system health
// @Description  Check database connectivity and the poller state
// @Produce      json
// @Tags         Health
// @Success      200  {object}  HealthResponse
// @Failure      503  {object}  HealthResponse
// @Router       /health [get]
func (controller *HealthController) Check(c echo.Context) error {
	response := &HealthResponse{Result: "OK", Database: "OK"}
	if controller.poller != nil {
		response.PollerRunning = controller.poller.Stats().IsRunning
	}
	if controller.db != nil {
		if err := controller.db.PingContext(c.Request().Context()); err != nil {
			c.Logger().Errorf("Health check database ping failed: %v", err)
			response.Result = "DEGRADED"
			response.Database = err.Error()
			return c.JSON(http.StatusServiceUnavailable, response)
		}
	}
	return c.JSON(http.StatusOK, response)
}
