package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/types"
)

// ClusterState is the part of the manager the health endpoints inspect
type ClusterState interface {
	IsLeader() bool
	LeaderAddr() string
	ListContainers() ([]*types.Container, error)
}

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	state   ClusterState
	version string
	mux     *http.ServeMux
	server  *http.Server
}

// NewHealthServer creates a new health check HTTP server. state may be nil
// before the manager has started.
func NewHealthServer(state ClusterState, version string) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		state:   state,
		version: version,
		mux:     mux,
	}

	// Register endpoints
	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start serves the endpoints on addr until Shutdown is called
func (hs *HealthServer) Start(addr string) error {
	hs.server = &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return fmt.Errorf("failed to listen: %w", err)
	}
	metrics.UpdateComponent(metrics.ComponentAPI, true, "")

	logger := log.WithComponent("api")
	logger.Info().Str("addr", lis.Addr().String()).Msg("Health endpoints listening")
	if err := hs.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return err
	}
	return nil
}

// Shutdown stops the HTTP server
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	metrics.UpdateComponent(metrics.ComponentAPI, false, "stopped")
	return hs.server.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint
// This is a simple liveness check - returns 200 if the process is alive
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   hs.version,
	})
}

// readyHandler implements the /ready endpoint
// This checks if the manager can make replication decisions
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks, message := hs.check()

	status := "ready"
	statusCode := http.StatusOK
	if message != "" {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

// check runs the readiness checks. message holds the first failure.
func (hs *HealthServer) check() (map[string]string, string) {
	checks := make(map[string]string)
	var message string
	fail := func(name, check, msg string) {
		checks[name] = check
		if message == "" {
			message = msg
		}
	}

	if hs.state == nil {
		fail("raft", "not initialized", "Manager not initialized")
		fail("storage", "not initialized", "Manager not initialized")
	} else {
		// Check 1: Raft cluster
		if hs.state.IsLeader() {
			checks["raft"] = "leader"
		} else if leaderAddr := hs.state.LeaderAddr(); leaderAddr != "" {
			checks["raft"] = fmt.Sprintf("follower (leader: %s)", leaderAddr)
		} else {
			fail("raft", "no leader elected", "Waiting for leader election")
		}

		// Check 2: Storage
		if _, err := hs.state.ListContainers(); err != nil {
			fail("storage", fmt.Sprintf("error: %v", err), "Storage not accessible")
		} else {
			checks["storage"] = "ok"
		}
	}

	// Check 3: Replication loop has completed a cycle
	if metrics.IsComponentHealthy(metrics.ComponentReconciler) {
		checks["reconciler"] = "ok"
	} else {
		fail("reconciler", "waiting", "Waiting for first reconciliation cycle")
	}

	return checks, message
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
