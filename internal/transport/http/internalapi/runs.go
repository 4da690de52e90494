package internalapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/tenderwatch/internal/transport/http/apierror"
)

// GetRun returns the desired run state of the agent.
// GET /internal/agents/:agent_id/run
func (h *Handler) GetRun(c echo.Context) error {
	agentID, handled, err := agentParam(c)
	if handled {
		return err
	}

	status, err := h.service.RunStatus(c.Request().Context(), agentID)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, status)
}
