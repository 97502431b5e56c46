package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottlepoint/waterbot/api/controllers"
	"github.com/bottlepoint/waterbot/pkg/logger"
	"github.com/bottlepoint/waterbot/pkg/metrics"
	"github.com/bottlepoint/waterbot/pkg/types"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func newTestRouter(ready map[string]controllers.Pinger) (http.Handler, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := metrics.NewBotMetrics(reg)
	m.IncEvent("command")
	logg := logger.New(logger.Options{ServiceName: "ops-test", Output: io.Discard})
	return NewOpsRouter(OpsParams{Env: "test", Logger: logg, Gatherer: reg, Ready: ready}), reg
}

func TestHealthLive(t *testing.T) {
	h, _ := newTestRouter(nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-Waterbot-Env"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHealthReady(t *testing.T) {
	h, _ := newTestRouter(map[string]controllers.Pinger{"db": stubPinger{}, "redis": nil})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ready", body.Data.Status)
	assert.Equal(t, map[string]string{"db": "ok", "redis": "disabled"}, body.Data.Checks)
}

func TestHealthReadyReportsFailingDependency(t *testing.T) {
	h, _ := newTestRouter(map[string]controllers.Pinger{"db": stubPinger{err: errors.New("connection refused")}})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	req.Header.Set("X-Request-Id", "probe-1")
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "probe-1", rec.Header().Get("X-Request-Id"))
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "DEPENDENCY_ERROR", body.Error.Code)
	assert.Equal(t, "db unavailable", body.Error.Message)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `waterbot_bot_events_total{kind="command"} 1`))
}
