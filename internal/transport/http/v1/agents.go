package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/tenderwatch/internal/domain"
	"github.com/xiaot623/tenderwatch/internal/transport/http/apierror"
	"github.com/xiaot623/tenderwatch/policy"
)

// ListAgents lists all agents with their runtime status.
// GET /v1/agents
func (h *Handler) ListAgents(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.authorize(c, policy.ActionListAgents, 0); err != nil {
		return apierror.JSON(c, err)
	}

	agents, err := h.service.ListAgents(ctx)
	if err != nil {
		return apierror.JSON(c, err)
	}
	if agents == nil {
		agents = []domain.Agent{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"agents": agents,
	})
}

// GetAgent gets a specific agent by ID.
// GET /v1/agents/:agent_id
func (h *Handler) GetAgent(c echo.Context) error {
	agentID, handled, err := h.agentParam(c, policy.ActionReadAgent)
	if handled {
		return err
	}

	agent, err := h.service.GetAgent(c.Request().Context(), agentID)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// RegisterAgent upserts an agent's static configuration.
// POST /v1/agents/register
func (h *Handler) RegisterAgent(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.AgentRegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := h.authorize(c, policy.ActionRegisterAgent, req.AgentID); err != nil {
		return apierror.JSON(c, err)
	}

	agent, err := h.service.RegisterAgent(ctx, req)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}
