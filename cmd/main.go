package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	_ "github.com/lib/pq"

	"github.com/acmacalister/denyproxy"
)

func main() {
	var (
		// Config file (takes precedence over individual flags)
		configPath = flag.String("config", "", "path to config file (default: search ./denyproxy.yaml, ~/.denyproxy, /etc/denyproxy)")
		genConfig  = flag.Bool("gen-config", false, "generate example config file and exit")

		// Individual flags (used when no config file)
		addr           = flag.String("addr", denyproxy.DefaultAddr, "proxy listen address")
		forbiddenHosts = flag.String("forbidden-hosts", denyproxy.DefaultForbiddenHostsPath, "path to forbidden hosts list")
		bannedWords    = flag.String("banned-words", denyproxy.DefaultBannedWordsPath, "path to banned words list")
		verbose        = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *genConfig {
		if err := denyproxy.WriteExampleConfig("denyproxy.yaml"); err != nil {
			bootLogger.Error("generate config", "error", err)
			os.Exit(1)
		}
		fmt.Println("Generated denyproxy.yaml")
		return
	}

	cfg, found, err := denyproxy.LoadConfig(*configPath)
	if err != nil {
		bootLogger.Error("load config", "error", err)
		os.Exit(1)
	}

	if !found {
		cfg.Server.Addr = *addr
		cfg.Policy.ForbiddenHostsFiles = []string{*forbiddenHosts}
		cfg.Policy.BannedWordsFiles = []string{*bannedWords}
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	if err := run(cfg); err != nil {
		bootLogger.Error("proxy error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *denyproxy.Config) error {
	logger, closeLog, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	traceOut, closeTrace, err := denyproxy.OpenOutput(cfg.Logging.TraceOutput)
	if err != nil {
		return fmt.Errorf("trace output: %w", err)
	}
	defer func() { _ = closeTrace() }()

	db, err := cfg.OpenDatabase()
	if err != nil {
		return err
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	store, err := cfg.BuildPolicyStore(db)
	if err != nil {
		return err
	}

	gate, err := cfg.BuildHostGate()
	if err != nil {
		return err
	}

	pool := cfg.BuildUpstreamPool()
	defer pool.CloseIdleConnections()

	proxy := denyproxy.NewProxy(cfg.Server.Addr, store)
	proxy.Logger = logger
	proxy.Gate = gate
	proxy.Forwarder = cfg.BuildForwarder(pool)
	proxy.Tunnel = cfg.BuildTunnelRelay()
	proxy.Trace = denyproxy.NewTraceLogger(traceOut)
	proxy.ReadHeaderTimeout = cfg.Server.ReadHeaderTimeout
	proxy.Metrics = denyproxy.NewMetrics()
	proxy.HealthChecker = denyproxy.NewHealthChecker(store.Loaded)

	store.OnReload = func(p *denyproxy.Policy) {
		proxy.Metrics.RecordPolicyReload()
		proxy.Metrics.SetPolicySize(p)
	}
	store.OnError = func(err error) {
		proxy.Metrics.RecordPolicyReloadError()
		logger.Error("policy load failed", "error", err)
	}

	if cfg.AccessLog.Enabled {
		w, closeAccess, err := denyproxy.OpenOutput(cfg.AccessLog.Path)
		if err != nil {
			return fmt.Errorf("access log: %w", err)
		}
		defer func() { _ = closeAccess() }()
		proxy.AccessLog = denyproxy.NewAccessLogger(slog.New(slog.NewJSONHandler(w, nil)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Load(ctx); err != nil {
		return err
	}
	p := store.Current()
	logger.Info("loaded policy",
		"forbidden_hosts", len(p.ForbiddenHosts()),
		"banned_words", len(p.BannedWords()))

	if cfg.Policy.ReloadInterval > 0 {
		cancel := store.StartAutoReload(ctx, cfg.Policy.ReloadInterval)
		defer cancel()
		logger.Info("policy auto-reload enabled", "interval", cfg.Policy.ReloadInterval)
	}

	reloader := denyproxy.WatchSIGHUP(store, logger)
	defer reloader.Cancel()

	var adminSrv *http.Server
	if cfg.Admin.Enabled {
		admin := denyproxy.NewAdminAPI(proxy, cfg.Admin.PathPrefix)
		admin.Logger = logger
		admin.Upstream = pool
		adminSrv = &http.Server{
			Addr:              cfg.Admin.Addr,
			Handler:           admin,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("admin listening", "addr", cfg.Admin.Addr)
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server error", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if adminSrv != nil {
			_ = adminSrv.Shutdown(shutdownCtx)
		}
		_ = proxy.Shutdown(shutdownCtx)
	}()

	printBanner(cfg)

	if err := proxy.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printBanner(cfg *denyproxy.Config) {
	bold := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.Faint)

	_, _ = bold.Fprintln(os.Stderr, "denyproxy")
	_, _ = dim.Fprintf(os.Stderr, "  proxy      %s\n", cfg.Server.Addr)
	_, _ = dim.Fprintf(os.Stderr, "  host match %s\n", cfg.Policy.HostMatch)
	if cfg.Admin.Enabled {
		_, _ = dim.Fprintf(os.Stderr, "  admin      %s\n", cfg.Admin.Addr)
	}
	_, _ = dim.Fprintln(os.Stderr, "configure clients to use this address as their HTTP proxy")
}
