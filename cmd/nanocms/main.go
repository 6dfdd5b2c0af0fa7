package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nanocms/nanocms/internal/adminhttp"
	"github.com/nanocms/nanocms/internal/cfg"
	"github.com/nanocms/nanocms/internal/credstore"
	"github.com/nanocms/nanocms/internal/fsops"
	"github.com/nanocms/nanocms/internal/guard"
	"github.com/nanocms/nanocms/internal/httpserver"
	"github.com/nanocms/nanocms/internal/log"
	"github.com/nanocms/nanocms/internal/metrics"
	"github.com/nanocms/nanocms/internal/opshttp"
	"github.com/nanocms/nanocms/internal/probe"
	"github.com/nanocms/nanocms/internal/ratelimit"
	"github.com/nanocms/nanocms/internal/sandbox"
	"github.com/nanocms/nanocms/internal/session"
	"github.com/nanocms/nanocms/internal/sitehandler"
	v "github.com/nanocms/nanocms/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix NANOCMS_ and validate
	cfg.FillFromEnv(flag.CommandLine, "NANOCMS_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl := lvl
	if conf.StacktraceLevel != "" {
		stackLvl, err = log.ParseLevel(conf.StacktraceLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
			os.Exit(1)
		}
	}
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	siteRoot, err := filepath.Abs(conf.SiteRoot)
	if err != nil {
		L.Error(ctx, err, "failed to resolve site root", "site_root", conf.SiteRoot)
		os.Exit(1)
	}
	configFile := conf.ConfigFile
	if !filepath.IsAbs(configFile) {
		configFile = filepath.Join(siteRoot, configFile)
	}

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"site_root", siteRoot,
		"config_file", configFile,
		"http_port", conf.HTTPPort,
		"ops_port", conf.OpsPort,
		"enable_pprof", conf.EnablePprof,
		"rate_per_second", conf.RatePerSecond,
		"rate_burst", conf.RateBurst,
		"login_max_attempts", conf.LoginMaxAttempts,
		"login_lockout_secs", conf.LoginLockoutSecs,
	)

	// Setup metrics for the ops listener
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)

	// Open or bootstrap the credential file
	store, bootstrapped, err := credstore.Open(configFile)
	if err != nil {
		L.Error(ctx, err, "failed to open credential store", "config_file", configFile)
		os.Exit(1)
	}
	if bootstrapped {
		L.Warn(ctx, "credential file created with default password, change it via the admin UI",
			"config_file", configFile,
			"default_password", credstore.DefaultPassword,
		)
	}

	// The credential file must never be reachable through the editor or the site
	sb, err := sandbox.New(siteRoot, filepath.Base(configFile))
	if err != nil {
		L.Error(ctx, err, "failed to set up site sandbox", "site_root", siteRoot)
		os.Exit(1)
	}

	ops := fsops.New(sb, fsops.WithUploadDir(conf.UploadsDir))
	signer := session.NewSigner(store.Secret())

	g := guard.New(conf.LoginMaxAttempts, time.Duration(conf.LoginLockoutSecs)*time.Second,
		guard.WithOnLockout(func(addr string) {
			m.IncLockout()
			L.Warn(ctx, "login lockout triggered", "client.address", addr)
		}),
	)

	adminAPI, err := adminhttp.New(adminhttp.Options{
		Logger:  L,
		Store:   store,
		Guard:   g,
		Signer:  signer,
		Ops:     ops,
		Metrics: m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create admin router")
		os.Exit(1)
	}

	siteHandler, err := sitehandler.New(&sitehandler.Options{
		Logger:  L,
		Sandbox: sb,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	// Setup toggle for server shutdown
	var gate probe.ShutdownGate
	readiness := probe.Multi(gate.Probe(), probe.SiteRoot(siteRoot))

	// Setup rate limiter middleware for the public listener
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RatePerSecond, conf.RateBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
	)

	// start public http server: admin surface mounted ahead of the site catch-all
	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		Health:       probe.Static(true, ""),
		Readiness:    readiness,
		APIRoutes:    adminAPI.RegisterRoutes,
		SiteHandler:  siteHandler,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// start ops listener to serve metrics, health checks and pprof
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.OpsPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      probe.Static(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err)
	}

	// block until ctrl+c / sigterm
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness to drain connections
	gate.Set("draining")

	// give in-flight requests a moment; a second signal skips the drain
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(2 * time.Second):
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
