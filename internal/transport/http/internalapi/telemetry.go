package internalapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/tenderwatch/internal/domain"
	"github.com/xiaot623/tenderwatch/internal/transport/http/apierror"
)

// MaxScreenshotBytes caps a single screenshot upload.
const MaxScreenshotBytes = 8 << 20

// ReportProgress replaces the agent's process snapshot.
// POST /internal/agents/:agent_id/progress
func (h *Handler) ReportProgress(c echo.Context) error {
	agentID, handled, err := agentParam(c)
	if handled {
		return err
	}

	var req domain.ProgressReport
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	snapshot, err := h.service.ReportProgress(c.Request().Context(), agentID, req)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// AppendHistory appends a line to the agent's history.
// POST /internal/agents/:agent_id/history
func (h *Handler) AppendHistory(c echo.Context) error {
	agentID, handled, err := agentParam(c)
	if handled {
		return err
	}

	var req domain.HistoryAppendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	entry, err := h.service.AppendHistory(c.Request().Context(), agentID, req.Message)
	if err != nil {
		return apierror.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// ReportScreenshot stores the latest frame. The body is the raw image.
// POST /internal/agents/:agent_id/screenshot
func (h *Handler) ReportScreenshot(c echo.Context) error {
	agentID, handled, err := agentParam(c)
	if handled {
		return err
	}

	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(contentType, "image/") {
		return c.JSON(http.StatusUnsupportedMediaType, map[string]string{"error": "screenshot must be an image"})
	}

	data, err := io.ReadAll(io.LimitReader(c.Request().Body, MaxScreenshotBytes+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read screenshot"})
	}
	if len(data) > MaxScreenshotBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "screenshot too large"})
	}

	if err := h.service.ReportScreenshot(c.Request().Context(), agentID, data, contentType); err != nil {
		return apierror.JSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
