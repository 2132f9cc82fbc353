package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth() {
	healthChecker = newHealthChecker()
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		expected   string
	}{
		{name: "all healthy", components: map[string]bool{"raft": true, "store": true}, expected: "healthy"},
		{name: "one unhealthy", components: map[string]bool{"raft": true, "store": false}, expected: "unhealthy"},
		{name: "nothing registered", components: map[string]bool{}, expected: "healthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth()
			for name, healthy := range tt.components {
				RegisterComponent(name, healthy, "")
			}

			health := GetHealth()
			assert.Equal(t, tt.expected, health.Status)
			assert.Len(t, health.Components, len(tt.components))
		})
	}
}

func TestGetReadiness(t *testing.T) {
	resetHealth()
	RegisterComponent(ComponentRaft, true, "")
	RegisterComponent(ComponentStore, true, "")

	readiness := GetReadiness()
	assert.Equal(t, "not_ready", readiness.Status)
	assert.Equal(t, "waiting for reconciler", readiness.Message)
	assert.Equal(t, "not registered", readiness.Components[ComponentReconciler])

	RegisterComponent(ComponentReconciler, true, "")
	assert.Equal(t, "ready", GetReadiness().Status)

	UpdateComponent(ComponentRaft, false, "no leader")
	readiness = GetReadiness()
	assert.Equal(t, "not_ready", readiness.Status)
	assert.Equal(t, "not ready: no leader", readiness.Components[ComponentRaft])
	assert.False(t, IsComponentHealthy(ComponentRaft))
	assert.True(t, IsComponentHealthy(ComponentStore))
}

func TestHealthHandlers(t *testing.T) {
	resetHealth()
	SetVersion("test")
	RegisterComponent(ComponentAPI, false, "broken")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "test", health.Version)

	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	for _, name := range []string{ComponentRaft, ComponentStore, ComponentReconciler} {
		RegisterComponent(name, true, "")
	}
	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
