package denyproxy

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// AdminAPI serves the operational endpoints on a listener separate from the
// proxy: /healthz, /readyz and /metrics at the root, and the JSON API under
// PathPrefix (default "/api"):
//
//	GET  {prefix}/status  proxy and policy summary
//	GET  {prefix}/policy  the active forbidden hosts and banned words
//	POST {prefix}/reload  reload the policy from its sources
//
// Routing uses [chi].
type AdminAPI struct {
	// Proxy is the proxy instance to report on.
	Proxy *Proxy

	// Upstream exposes forward-path pool statistics (optional).
	Upstream *UpstreamPool

	// Logger for admin API events.
	Logger *slog.Logger

	// PathPrefix is the URL path prefix for API routes (default "/api").
	PathPrefix string

	router chi.Router
}

// NewAdminAPI creates an AdminAPI for proxy, mounting the API at prefix.
// An empty prefix means "/api".
func NewAdminAPI(proxy *Proxy, prefix string) *AdminAPI {
	if prefix == "" {
		prefix = "/api"
	}
	a := &AdminAPI{
		Proxy:      proxy,
		Logger:     slog.Default(),
		PathPrefix: prefix,
	}
	a.buildRouter()
	return a
}

func (a *AdminAPI) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if hc := a.Proxy.HealthChecker; hc != nil {
		r.Get("/healthz", hc.HandleHealthz)
		r.Get("/readyz", hc.HandleReadyz)
	}
	if m := a.Proxy.Metrics; m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	api := chi.NewRouter()
	api.Use(middleware.SetHeader("Content-Type", "application/json"))
	api.Get("/status", a.handleStatus)
	api.Get("/policy", a.handlePolicy)
	api.Post("/reload", a.handleReload)
	r.Mount(a.PathPrefix, api)

	a.router = r
}

// Handler returns the admin http.Handler.
func (a *AdminAPI) Handler() http.Handler {
	return a.router
}

// ServeHTTP implements http.Handler by delegating to the chi router.
func (a *AdminAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// StatusResponse is returned by GET {prefix}/status.
type StatusResponse struct {
	Status             string             `json:"status"`
	Uptime             string             `json:"uptime,omitempty"`
	HostMatch          string             `json:"host_match"`
	PolicyLoaded       bool               `json:"policy_loaded"`
	PolicyLoadedAt     *time.Time         `json:"policy_loaded_at,omitempty"`
	ForbiddenHostCount int                `json:"forbidden_host_count"`
	BannedWordCount    int                `json:"banned_word_count"`
	Upstream           *UpstreamPoolStats `json:"upstream,omitempty"`
}

// PolicyResponse is returned by GET {prefix}/policy.
type PolicyResponse struct {
	LoadedAt       time.Time `json:"loaded_at"`
	ForbiddenHosts []string  `json:"forbidden_hosts"`
	BannedWords    []string  `json:"banned_words"`
}

// ErrorResponse is returned for error conditions.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is returned for successful mutations.
type MessageResponse struct {
	Message string `json:"message"`
}

func (a *AdminAPI) current() *Policy {
	if a.Proxy.Policy == nil {
		return nil
	}
	return a.Proxy.Policy.Current()
}

func (a *AdminAPI) handleStatus(w http.ResponseWriter, _ *http.Request) {
	mode := a.Proxy.Gate.Mode
	if mode == "" {
		mode = MatchContains
	}

	resp := StatusResponse{
		Status:    "ok",
		HostMatch: string(mode),
	}

	if p := a.current(); p != nil {
		loadedAt := p.LoadedAt()
		resp.PolicyLoaded = true
		resp.PolicyLoadedAt = &loadedAt
		resp.ForbiddenHostCount = len(p.forbiddenHosts)
		resp.BannedWordCount = len(p.bannedWords)
	}

	if a.Proxy.HealthChecker != nil {
		resp.Uptime = a.Proxy.HealthChecker.Uptime().Truncate(time.Second).String()
	}

	if a.Upstream != nil {
		stats := a.Upstream.Stats()
		resp.Upstream = &stats
	}

	a.writeJSON(w, http.StatusOK, resp)
}

func (a *AdminAPI) handlePolicy(w http.ResponseWriter, _ *http.Request) {
	p := a.current()
	if p == nil {
		a.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: ErrPolicyNotLoaded.Error()})
		return
	}

	a.writeJSON(w, http.StatusOK, PolicyResponse{
		LoadedAt:       p.LoadedAt(),
		ForbiddenHosts: p.ForbiddenHosts(),
		BannedWords:    p.BannedWords(),
	})
}

func (a *AdminAPI) handleReload(w http.ResponseWriter, r *http.Request) {
	if a.Proxy.Policy == nil {
		a.writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "no policy store configured"})
		return
	}

	if err := a.Proxy.Policy.Load(r.Context()); err != nil {
		a.Logger.Error("admin API reload failed", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "reload failed: " + err.Error()})
		return
	}

	a.Logger.Info("policy reloaded via admin API")
	a.writeJSON(w, http.StatusOK, MessageResponse{Message: "reload successful"})
}

func (a *AdminAPI) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Error("admin API write error", "error", err)
	}
}
