package denyproxy

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker provides liveness and readiness probes for the proxy.
// Liveness follows the listener; readiness additionally requires every
// ReadinessCheck to pass, typically PolicyStore.Loaded.
type HealthChecker struct {
	alive atomic.Bool
	ready atomic.Bool

	startTime time.Time

	// ReadinessChecks must all return nil for the readiness probe to pass.
	ReadinessChecks []ReadinessCheck
}

// ReadinessCheck returns nil if the component is ready, or an error
// describing why it is not.
type ReadinessCheck func() error

// HealthResponse is the JSON body returned by health endpoints.
type HealthResponse struct {
	Status  string   `json:"status"`
	Uptime  string   `json:"uptime,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Details []string `json:"details,omitempty"`
}

// NewHealthChecker creates a HealthChecker whose readiness depends on the
// given checks.
func NewHealthChecker(checks ...ReadinessCheck) *HealthChecker {
	return &HealthChecker{
		startTime:       time.Now(),
		ReadinessChecks: checks,
	}
}

// SetAlive marks the proxy as alive.
func (h *HealthChecker) SetAlive(alive bool) {
	h.alive.Store(alive)
}

// SetReady marks the proxy as accepting traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsAlive reports whether the proxy is alive.
func (h *HealthChecker) IsAlive() bool {
	return h.alive.Load()
}

// IsReady reports whether the proxy is ready and all checks pass.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load() && len(h.failures()) == 0
}

// Uptime returns the time since the checker was created.
func (h *HealthChecker) Uptime() time.Duration {
	return time.Since(h.startTime)
}

func (h *HealthChecker) failures() []string {
	var out []string
	for _, check := range h.ReadinessChecks {
		if err := check(); err != nil {
			out = append(out, err.Error())
		}
	}
	return out
}

// HandleHealthz serves the liveness probe.
func (h *HealthChecker) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Uptime: h.Uptime().Truncate(time.Second).String()}
	status := http.StatusOK
	resp.Status = "ok"
	if !h.IsAlive() {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeHealth(w, status, resp)
}

// HandleReadyz serves the readiness probe.
func (h *HealthChecker) HandleReadyz(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Uptime: h.Uptime().Truncate(time.Second).String()}

	if !h.ready.Load() {
		resp.Status = "not ready"
		resp.Reason = "proxy not yet ready"
		writeHealth(w, http.StatusServiceUnavailable, resp)
		return
	}

	if failures := h.failures(); len(failures) > 0 {
		resp.Status = "not ready"
		resp.Details = failures
		writeHealth(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Status = "ok"
	writeHealth(w, http.StatusOK, resp)
}

func writeHealth(w http.ResponseWriter, status int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
