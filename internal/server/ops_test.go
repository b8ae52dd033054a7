package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pipestream-ai/platform-registration/internal/readiness"
)

type fakeChecker struct {
	result *readiness.Result
}

func (f *fakeChecker) Check(context.Context) *readiness.Result { return f.result }

func TestOpsLiveness(t *testing.T) {
	srv := NewOpsServer("0", &fakeChecker{}, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UP", body["status"])
}

func TestOpsReadinessUp(t *testing.T) {
	checker := &fakeChecker{result: &readiness.Result{
		Name:   "dependent-services",
		Status: readiness.StatusUp,
		Checks: map[string]readiness.Probe{
			"postgres": {Status: readiness.StatusUp},
		},
	}}
	srv := NewOpsServer("0", checker, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var decoded readiness.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, readiness.StatusUp, decoded.Status)
	assert.Equal(t, "dependent-services", decoded.Name)
}

func TestOpsReadinessDown(t *testing.T) {
	checker := &fakeChecker{result: &readiness.Result{
		Name:   "dependent-services",
		Status: readiness.StatusDown,
		Checks: map[string]readiness.Probe{
			"consul": {Status: readiness.StatusDown, Error: "connection refused"},
		},
	}}
	srv := NewOpsServer("0", checker, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOpsMetrics(t *testing.T) {
	srv := NewOpsServer("0", &fakeChecker{}, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
