package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeState struct {
	leader     bool
	leaderAddr string
	listErr    error
}

func (f *fakeState) IsLeader() bool     { return f.leader }
func (f *fakeState) LeaderAddr() string { return f.leaderAddr }

func (f *fakeState) ListContainers() ([]*types.Container, error) {
	return nil, f.listErr
}

// TestHealthHandler tests the /health endpoint
func TestHealthHandler(t *testing.T) {
	hs := NewHealthServer(nil, "test") // nil state is OK for health check

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{
			name:           "GET request succeeds",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST request fails",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "DELETE request fails",
			method:         http.MethodDelete,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			hs.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, "healthy", response.Status)
				assert.Equal(t, "test", response.Version)
				assert.NotZero(t, response.Timestamp)
			}
		})
	}
}

// TestReadyHandlerNoManager tests readiness endpoint with no manager
func TestReadyHandlerNoManager(t *testing.T) {
	hs := NewHealthServer(nil, "test")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

	assert.Equal(t, "not ready", response.Status)
	assert.Contains(t, response.Checks["raft"], "not initialized")
	assert.Contains(t, response.Checks["storage"], "not initialized")
	assert.Equal(t, "Manager not initialized", response.Message)
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name           string
		state          *fakeState
		reconciled     bool
		expectedStatus int
		checks         map[string]string
		message        string
	}{
		{
			name:           "leader",
			state:          &fakeState{leader: true},
			reconciled:     true,
			expectedStatus: http.StatusOK,
			checks:         map[string]string{"raft": "leader", "storage": "ok", "reconciler": "ok"},
		},
		{
			name:           "follower",
			state:          &fakeState{leaderAddr: "10.0.0.1:7946"},
			reconciled:     true,
			expectedStatus: http.StatusOK,
			checks:         map[string]string{"raft": "follower (leader: 10.0.0.1:7946)", "storage": "ok", "reconciler": "ok"},
		},
		{
			name:           "no leader",
			state:          &fakeState{},
			reconciled:     true,
			expectedStatus: http.StatusServiceUnavailable,
			checks:         map[string]string{"raft": "no leader elected", "storage": "ok", "reconciler": "ok"},
			message:        "Waiting for leader election",
		},
		{
			name:           "storage failure",
			state:          &fakeState{leader: true, listErr: errors.New("database not open")},
			reconciled:     true,
			expectedStatus: http.StatusServiceUnavailable,
			checks:         map[string]string{"raft": "leader", "storage": "error: database not open", "reconciler": "ok"},
			message:        "Storage not accessible",
		},
		{
			name:           "reconciler not run",
			state:          &fakeState{leader: true},
			expectedStatus: http.StatusServiceUnavailable,
			checks:         map[string]string{"raft": "leader", "storage": "ok", "reconciler": "waiting"},
			message:        "Waiting for first reconciliation cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics.UpdateComponent(metrics.ComponentReconciler, tt.reconciled, "")
			hs := NewHealthServer(tt.state, "test")

			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()
			hs.GetHandler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response ReadyResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.checks, response.Checks)
			assert.Equal(t, tt.message, response.Message)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	hs := NewHealthServer(nil, "test")
	metrics.ReconciliationCyclesTotal.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "strata_reconciliation_cycles_total")
}

func TestHealthServerReportsComponent(t *testing.T) {
	hs := NewHealthServer(nil, "test")
	errCh := make(chan error, 1)
	go func() { errCh <- hs.Start("127.0.0.1:0") }()

	assert.Eventually(t, func() bool {
		return metrics.IsComponentHealthy(metrics.ComponentAPI)
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, hs.Shutdown(ctx))
	require.NoError(t, <-errCh)
	assert.False(t, metrics.IsComponentHealthy(metrics.ComponentAPI))
}

func TestHealthServerListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	metrics.UpdateComponent(metrics.ComponentAPI, true, "")
	err = NewHealthServer(nil, "test").Start(taken.Addr().String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
	assert.False(t, metrics.IsComponentHealthy(metrics.ComponentAPI))
}
