package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/tenderwatch/internal/transport/http/apierror"
	"github.com/xiaot623/tenderwatch/policy"
)

// GetProgress returns the current process snapshot.
// GET /v1/agents/:agent_id/progress
func (h *Handler) GetProgress(c echo.Context) error {
	agentID, handled, err := h.agentParam(c, policy.ActionReadAgent)
	if handled {
		return err
	}

	snapshot, err := h.service.Progress(c.Request().Context(), agentID)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// GetHistory returns the newest history entries, newest first.
// GET /v1/agents/:agent_id/history?limit=N
func (h *Handler) GetHistory(c echo.Context) error {
	agentID, handled, err := h.agentParam(c, policy.ActionReadAgent)
	if handled {
		return err
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
	}

	history, err := h.service.FetchHistory(c.Request().Context(), agentID, limit)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, history)
}

// GetLatestHistory reports whether anything newer than since exists.
// GET /v1/agents/:agent_id/history/latest?since=N
func (h *Handler) GetLatestHistory(c echo.Context) error {
	agentID, handled, err := h.agentParam(c, policy.ActionReadAgent)
	if handled {
		return err
	}

	var since int64
	if v := c.QueryParam("since"); v != "" {
		since, err = strconv.ParseInt(v, 10, 64)
		if err != nil || since < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid since"})
		}
	}

	latest, err := h.service.LatestSince(c.Request().Context(), agentID, since)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, latest)
}

// GetScreenshot returns the latest frame, or 204 when there is no image yet.
// GET /v1/agents/:agent_id/screenshot
func (h *Handler) GetScreenshot(c echo.Context) error {
	agentID, handled, err := h.agentParam(c, policy.ActionReadAgent)
	if handled {
		return err
	}

	frame, ok, err := h.service.Screenshot(c.Request().Context(), agentID)
	if err != nil {
		return apierror.JSON(c, err)
	}
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	c.Response().Header().Set("X-Captured-At", strconv.FormatInt(frame.CapturedAt.UnixMilli(), 10))
	return c.Blob(http.StatusOK, frame.ContentType, frame.Data)
}
