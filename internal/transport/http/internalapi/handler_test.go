package internalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/tenderwatch/internal/config"
	"github.com/xiaot623/tenderwatch/internal/domain"
	"github.com/xiaot623/tenderwatch/internal/hub"
	"github.com/xiaot623/tenderwatch/internal/service"
	"github.com/xiaot623/tenderwatch/tests/helpers"
)

func newTestHandler(t *testing.T) (*Handler, *service.Service) {
	t.Helper()
	cfg := config.Default()
	db := helpers.NewTestSQLiteStore(t)
	helpers.SeedAgent(t, db, 7, "")
	svc := service.New(db, nil, hub.NewHub(cfg.SubscriberBuffer, nil), nil, cfg, nil)
	t.Cleanup(svc.Close)
	return NewHandler(svc), svc
}

func newContext(method, path, contentType string, body []byte) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("agent_id")
	c.SetParamValues("7")
	return c, rec
}

func TestGetRun(t *testing.T) {
	h, svc := newTestHandler(t)

	c, rec := newContext(http.MethodGet, "/internal/agents/7/run", "", nil)
	require.NoError(t, h.GetRun(c))
	assert.Contains(t, rec.Body.String(), `"status":"stopped"`)

	started, err := svc.Start(context.Background(), 7)
	require.NoError(t, err)

	c, rec = newContext(http.MethodGet, "/internal/agents/7/run", "", nil)
	require.NoError(t, h.GetRun(c))
	var status domain.RunStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, domain.RuntimeStatusRunning, status.Status)
	assert.Equal(t, started.RunID, status.RunID)
}

func TestReportProgress(t *testing.T) {
	h, svc := newTestHandler(t)
	body := []byte(`{"opportunity_id":"OP-123","items_completed":5,"items_total":50,"status":"running"}`)

	c, rec := newContext(http.MethodPost, "/internal/agents/7/progress", echo.MIMEApplicationJSON, body)
	require.NoError(t, h.ReportProgress(c))
	assert.Equal(t, http.StatusConflict, rec.Code, "running report while stopped")

	_, err := svc.Start(context.Background(), 7)
	require.NoError(t, err)

	c, rec = newContext(http.MethodPost, "/internal/agents/7/progress", echo.MIMEApplicationJSON, body)
	require.NoError(t, h.ReportProgress(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	bad := []byte(`{"items_completed":51,"items_total":50,"status":"running"}`)
	c, rec = newContext(http.MethodPost, "/internal/agents/7/progress", echo.MIMEApplicationJSON, bad)
	require.NoError(t, h.ReportProgress(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	snap, err := svc.Progress(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.ItemsCompleted)
}

func TestAppendHistory(t *testing.T) {
	h, _ := newTestHandler(t)

	c, rec := newContext(http.MethodPost, "/internal/agents/7/history", echo.MIMEApplicationJSON, []byte(`{"message":"Opened OP-123"}`))
	require.NoError(t, h.AppendHistory(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var entry domain.HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, int64(1), entry.Seq)

	c, rec = newContext(http.MethodPost, "/internal/agents/7/history", echo.MIMEApplicationJSON, []byte(`{"message":""}`))
	require.NoError(t, h.AppendHistory(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportScreenshot(t *testing.T) {
	h, svc := newTestHandler(t)
	_, err := svc.Start(context.Background(), 7)
	require.NoError(t, err)

	c, rec := newContext(http.MethodPost, "/internal/agents/7/screenshot", "text/plain", []byte("hello"))
	require.NoError(t, h.ReportScreenshot(c))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	big := make([]byte, MaxScreenshotBytes+1)
	c, rec = newContext(http.MethodPost, "/internal/agents/7/screenshot", "image/png", big)
	require.NoError(t, h.ReportScreenshot(c))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	c, rec = newContext(http.MethodPost, "/internal/agents/7/screenshot", "image/png", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, h.ReportScreenshot(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	frame, ok, err := svc.Screenshot(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "image/png", frame.ContentType)
}

func TestVerificationRoundTrip(t *testing.T) {
	h, svc := newTestHandler(t)
	ctx := context.Background()

	c, rec := newContext(http.MethodPost, "/internal/agents/7/verification", "", nil)
	require.NoError(t, h.RequestVerification(c))
	assert.Equal(t, http.StatusConflict, rec.Code, "agent is not running")

	_, err := svc.Start(ctx, 7)
	require.NoError(t, err)

	c, rec = newContext(http.MethodPost, "/internal/agents/7/verification", "", nil)
	require.NoError(t, h.RequestVerification(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var status domain.ChallengeStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.NeedsCode)

	c, rec = newContext(http.MethodPost, "/internal/agents/7/verification/await?timeout_ms=10", "", nil)
	require.NoError(t, h.AwaitVerification(c))
	var pending domain.AwaitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Equal(t, domain.AwaitStatusPending, pending.Status)

	_, err = svc.SubmitVerification(ctx, 7, "482913")
	require.NoError(t, err)

	c, rec = newContext(http.MethodPost, "/internal/agents/7/verification/await?timeout_ms=1000", "", nil)
	require.NoError(t, h.AwaitVerification(c))
	var resolved domain.AwaitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, domain.AwaitStatusResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, "482913", resolved.Resolution.Code)

	// The code is handed out once.
	c, rec = newContext(http.MethodPost, "/internal/agents/7/verification/await?timeout_ms=10", "", nil)
	require.NoError(t, h.AwaitVerification(c))
	assert.Equal(t, http.StatusConflict, rec.Code)

	c, rec = newContext(http.MethodPost, "/internal/agents/7/verification/await?timeout_ms=-1", "", nil)
	require.NoError(t, h.AwaitVerification(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidAgentParam(t *testing.T) {
	h, _ := newTestHandler(t)
	c, rec := newContext(http.MethodGet, "/internal/agents/x/run", "", nil)
	c.SetParamValues("x")
	require.NoError(t, h.GetRun(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
