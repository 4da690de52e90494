package internalapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/tenderwatch/internal/transport/http/apierror"
)

// RequestVerification raises a challenge for the running agent. Repeated
// calls while one is waiting return the same challenge.
// POST /internal/agents/:agent_id/verification
func (h *Handler) RequestVerification(c echo.Context) error {
	agentID, handled, err := agentParam(c)
	if handled {
		return err
	}

	status, err := h.service.RequestVerification(c.Request().Context(), agentID)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// AwaitVerification long-polls for the challenge resolution. The code is
// handed out once; a pending response means poll again.
// POST /internal/agents/:agent_id/verification/await?timeout_ms=N
func (h *Handler) AwaitVerification(c echo.Context) error {
	agentID, handled, err := agentParam(c)
	if handled {
		return err
	}

	var timeout time.Duration
	if v := c.QueryParam("timeout_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid timeout_ms"})
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	res, err := h.service.AwaitVerification(c.Request().Context(), agentID, timeout)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
