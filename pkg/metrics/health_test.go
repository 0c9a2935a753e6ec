package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(version string) {
	health = newRegistry()
	health.version = version
}

func TestSetComponentUpdatesGauge(t *testing.T) {
	resetHealth("")

	SetComponent("store", true, "open")
	assert.Equal(t, 1.0, testutil.ToFloat64(ComponentHealthy.WithLabelValues("store")))

	SetComponent("store", false, "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(ComponentHealthy.WithLabelValues("store")))
	assert.Equal(t, "failing: closed", Health().Components["store"])
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name        string
		components  map[string]bool
		wantStatus  string
		wantMessage string
	}{
		{name: "all healthy", components: map[string]bool{"store": true, "engine": true}, wantStatus: StatusHealthy},
		{name: "required failing", components: map[string]bool{"store": true, "engine": false}, wantStatus: StatusUnhealthy, wantMessage: "failing: engine"},
		{name: "probe failing", components: map[string]bool{"store": true, "engine": true, "coordinator": false}, wantStatus: StatusDegraded, wantMessage: "failing: coordinator"},
		{
			name:        "required and probe failing",
			components:  map[string]bool{"store": false, "engine": true, "coordinator": false},
			wantStatus:  StatusUnhealthy,
			wantMessage: "failing: coordinator, store",
		},
		{name: "nothing registered", components: map[string]bool{}, wantStatus: StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth("1.0.0")
			for name, healthy := range tt.components {
				SetComponent(name, healthy, "down")
			}

			report := Health()
			assert.Equal(t, tt.wantStatus, report.Status)
			assert.Equal(t, tt.wantMessage, report.Message)
			assert.Len(t, report.Components, len(tt.components))
			assert.Equal(t, "1.0.0", report.Version)
		})
	}
}

func TestReadiness(t *testing.T) {
	resetHealth("")
	SetComponent("store", true, "")
	SetComponent("coordinator", false, "connection refused")

	report := Readiness()
	assert.Equal(t, StatusNotReady, report.Status)
	assert.Equal(t, "waiting for engine", report.Message)
	assert.Equal(t, "not registered", report.Components["engine"])
	assert.NotContains(t, report.Components, "coordinator")

	SetComponent("engine", true, "coordinator")
	assert.Equal(t, StatusReady, Readiness().Status)

	SetComponent("engine", false, "store closed")
	report = Readiness()
	assert.Equal(t, StatusNotReady, report.Status)
	assert.Equal(t, "failing: store closed", report.Components["engine"])
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		component  string
		wantCode   int
		wantStatus string
	}{
		{name: "required component down", component: "store", wantCode: http.StatusServiceUnavailable, wantStatus: StatusUnhealthy},
		{name: "probe down", component: "coordinator", wantCode: http.StatusOK, wantStatus: StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth("")
			SetComponent(tt.component, false, "closed")

			rec := httptest.NewRecorder()
			HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body Report
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantStatus, body.Status)
		})
	}
}

func TestReadyHandler(t *testing.T) {
	resetHealth("")
	SetComponent("store", true, "")
	SetComponent("engine", true, "")

	rec := httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}
