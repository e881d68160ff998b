// Package denyproxy provides a filtering HTTP forward proxy. CONNECT
// requests are tunneled to their target as opaque bytes; every other method
// is re-issued upstream and its JSON response is screened before it reaches
// the client.
//
// # Architecture
//
// Each request is given a [RequestContext] carrying a fresh correlation ID
// and the [Policy] snapshot current at entry. The [HostGate] checks the
// Host header against the forbidden hosts before any network I/O. Allowed
// CONNECT requests are answered with 200 and handed to a [TunnelRelay];
// other methods go through the [Forwarder], which requires a 200 upstream
// status, decodes the body as JSON and rejects it when its compact text
// contains a banned word.
//
// # Basic Proxy
//
// Load the policy lists and start serving:
//
//	store := denyproxy.NewPolicyStore(
//	    denyproxy.NewFileLoader("resources/forbidden-hosts.txt"),
//	    denyproxy.NewFileLoader("resources/banned-words.txt"),
//	)
//	if err := store.Load(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	proxy := denyproxy.NewProxy(denyproxy.DefaultAddr, store)
//	log.Fatal(proxy.ListenAndServe())
//
// # Host Matching
//
// The default [MatchContains] mode denies a host when a forbidden entry
// equals it or contains it as a substring, so the entry "ads.example.com"
// also denies "example.com". [MatchSuffix] and [MatchExact] are stricter:
//
//	proxy.Gate = denyproxy.HostGate{Mode: denyproxy.MatchSuffix}
//
// # Policy Sources
//
// Lists may come from files, HTTP endpoints, SQL queries, or static
// entries, concatenated with [MultiLoader]:
//
//	db, _ := sqlx.Open("postgres", dsn)
//	hosts := denyproxy.NewMultiLoader(
//	    denyproxy.NewFileLoader("resources/forbidden-hosts.txt"),
//	    denyproxy.NewSQLLoader(db, denyproxy.DefaultHostsQuery),
//	)
//
// A snapshot is replaced only when both lists load. Reload periodically
// with [PolicyStore.StartAutoReload] or on SIGHUP with [WatchSIGHUP].
//
// # Trace Log
//
// [TraceLogger] writes the line-oriented request log to stdout:
//
//	Client: 127.0.0.1:53122 ; Request URL: http://api.example.com/items; timestamp: ...; correlationId: ...
//	Code: 200 OK ; correlationId: ...
//	-------------------------------
//
// # Observability
//
// [Metrics] exposes Prometheus collectors, [AccessLogger] writes one JSON
// entry per request, and [HealthChecker] reports liveness and policy
// readiness. [AdminAPI] serves all of them on a separate listener:
//
//	proxy.Metrics = denyproxy.NewMetrics()
//	proxy.HealthChecker = denyproxy.NewHealthChecker(store.Loaded)
//	admin := denyproxy.NewAdminAPI(proxy, "/api")
//	go http.ListenAndServe("127.0.0.1:9090", admin)
//
// # Configuration
//
// [LoadConfig] reads denyproxy.yaml (or JSON/TOML) with DENYPROXY_*
// environment overrides; the Build* methods on [Config] assemble the
// components.
package denyproxy
