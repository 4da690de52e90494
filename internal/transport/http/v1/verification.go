package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/tenderwatch/internal/domain"
	"github.com/xiaot623/tenderwatch/internal/transport/http/apierror"
	"github.com/xiaot623/tenderwatch/policy"
)

// GetVerification is the polling view of the agent's challenge.
// GET /v1/agents/:agent_id/verification
func (h *Handler) GetVerification(c echo.Context) error {
	agentID, handled, err := h.agentParam(c, policy.ActionReadAgent)
	if handled {
		return err
	}

	status, err := h.service.VerificationStatus(c.Request().Context(), agentID)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// SubmitVerification hands an operator-entered code to the waiting agent.
// POST /v1/agents/:agent_id/verification/submit
func (h *Handler) SubmitVerification(c echo.Context) error {
	agentID, handled, err := h.agentParam(c, policy.ActionSubmitVerification)
	if handled {
		return err
	}

	var req domain.SubmitCodeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	status, err := h.service.SubmitVerification(c.Request().Context(), agentID, req.Code)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// CancelVerification withdraws the waiting challenge. It succeeds when
// nothing is waiting.
// POST /v1/agents/:agent_id/verification/cancel
func (h *Handler) CancelVerification(c echo.Context) error {
	agentID, handled, err := h.agentParam(c, policy.ActionCancelVerification)
	if handled {
		return err
	}

	status, err := h.service.CancelVerification(c.Request().Context(), agentID)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, status)
}
