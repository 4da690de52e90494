// Package internalapi provides HTTP handlers for the agent-facing API.
// These APIs are only reachable by agent processes on the internal network.
package internalapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/tenderwatch/internal/service"
)

// Handler handles internal HTTP requests from agent processes.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new internal API handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers internal routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Desired run state for agents that are not signalled
	e.GET("/internal/agents/:agent_id/run", h.GetRun)

	// Telemetry
	e.POST("/internal/agents/:agent_id/progress", h.ReportProgress)
	e.POST("/internal/agents/:agent_id/history", h.AppendHistory)
	e.POST("/internal/agents/:agent_id/screenshot", h.ReportScreenshot)

	// Verification
	e.POST("/internal/agents/:agent_id/verification", h.RequestVerification)
	e.POST("/internal/agents/:agent_id/verification/await", h.AwaitVerification)
}

// agentParam parses :agent_id. On failure the error response has already
// been written and handled is true.
func agentParam(c echo.Context) (agentID int64, handled bool, err error) {
	agentID, err = strconv.ParseInt(c.Param("agent_id"), 10, 64)
	if err != nil || agentID <= 0 {
		return 0, true, c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid agent_id %q", c.Param("agent_id"))})
	}
	return agentID, false, nil
}
