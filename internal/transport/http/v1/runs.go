package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/tenderwatch/internal/transport/http/apierror"
	"github.com/xiaot623/tenderwatch/policy"
)

// StartAgent starts a run.
// POST /v1/agents/:agent_id/start
func (h *Handler) StartAgent(c echo.Context) error {
	agentID, handled, err := h.agentParam(c, policy.ActionStartAgent)
	if handled {
		return err
	}

	status, err := h.service.Start(c.Request().Context(), agentID)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusAccepted, status)
}

// StopAgent stops the current run. Stopping a stopped agent succeeds.
// POST /v1/agents/:agent_id/stop
func (h *Handler) StopAgent(c echo.Context) error {
	agentID, handled, err := h.agentParam(c, policy.ActionStopAgent)
	if handled {
		return err
	}

	status, err := h.service.Stop(c.Request().Context(), agentID)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// GetRunStatus returns the runtime status.
// GET /v1/agents/:agent_id/status
func (h *Handler) GetRunStatus(c echo.Context) error {
	agentID, handled, err := h.agentParam(c, policy.ActionReadAgent)
	if handled {
		return err
	}

	status, err := h.service.RunStatus(c.Request().Context(), agentID)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, status)
}
