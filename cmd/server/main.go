package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/linnemanlabs-menu/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-menu/internal/content"
	"github.com/keithlinneman/linnemanlabs-menu/internal/health"
	"github.com/keithlinneman/linnemanlabs-menu/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-menu/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
	"github.com/keithlinneman/linnemanlabs-menu/internal/menu"
	"github.com/keithlinneman/linnemanlabs-menu/internal/menuhttp"
	"github.com/keithlinneman/linnemanlabs-menu/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-menu/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-menu/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-menu/internal/prof"
	"github.com/keithlinneman/linnemanlabs-menu/internal/ratelimit"
	v "github.com/keithlinneman/linnemanlabs-menu/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix LMMENU_ and validate
	cfg.FillFromEnv(flag.CommandLine, "LMMENU_", func(format string, args ...any) {
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
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:               v.App,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", v.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"content_source", conf.ContentSource,
		"content_file", conf.ContentFile,
		"enable_content_updates", conf.EnableContentUpdates,
		"content_ssm_param", conf.ContentSSMParam,
		"content_s3_bucket", conf.ContentS3Bucket,
		"content_s3_prefix", conf.ContentS3Prefix,
		"content_signing_key_arn", conf.ContentSigningKeyARN,
		"store", conf.Store,
		"data_dir", conf.DataDir,
		"rate_limit_rps", conf.RateLimitRPS,
		"menu_levels", conf.MenuLevels,
	)

	// Metrics first so profiling and content can report into them
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.App, v.Component, vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.App,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": v.Component,
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(err == nil && conf.EnablePyroscope)
	defer func() { stopProf() }()

	// Insecure is true because we only export to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.App,
		Component: v.Component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// persistent store, nil for memory
	store, err := openStore(ctx, conf, L)
	if err != nil {
		L.Error(ctx, err, "failed to open content store", "store", conf.Store, "data_dir", conf.DataDir)
		os.Exit(1)
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				L.Error(context.Background(), err, "content store close")
			}
		}()
	}

	var loader *content.Loader
	if conf.ContentSource == cfg.SourceS3 {
		loader, err = newS3Loader(ctx, conf, L)
		if err != nil {
			L.Error(ctx, err, "failed to create content loader, content updates will be disabled")
		}
	}

	// setup content manager that holds the snapshot we serve
	contentMgr := content.NewManager()

	snap, restored, err := loadInitial(ctx, conf, L, loader, store)
	if err != nil {
		L.Error(ctx, err, "no content available to serve")
		os.Exit(1)
	}
	contentMgr.Set(*snap)
	m.SetContent(snap)
	if !restored {
		mirror(ctx, L, m, conf.Store, store, snap)
	}
	L.Info(ctx, "content loaded",
		"content_source", string(snap.Meta.Source),
		"content_version", snap.Meta.Version,
		"content_hash", snap.Meta.Hash,
		"items", snap.Tree.Len(),
		"site", snap.Site.String(),
	)

	onSwap := func(hash, version string) {
		cur, ok := contentMgr.Get()
		if !ok {
			return
		}
		m.SetContent(cur)
		mirror(ctx, L, m, conf.Store, store, cur)
	}

	switch {
	case conf.ContentSource == cfg.SourceS3 && loader != nil && conf.EnableContentUpdates:
		// poll SSM for new bundles, validate and swap into manager
		watcher := content.NewWatcher(&content.WatcherOptions{
			Logger:       L,
			Loader:       loader,
			Manager:      contentMgr,
			PollInterval: conf.ContentPollInterval,
			OnSwap:       onSwap,
			Metrics:      m,
		})
		go func() { _ = watcher.Run(ctx) }()
	case conf.ContentSource == cfg.SourceFile && conf.WatchContentFile:
		fw, err := content.NewFileWatcher(content.FileWatcherOptions{
			Logger:  L,
			Path:    conf.ContentFile,
			Manager: contentMgr,
			OnSwap:  onSwap,
			Metrics: m,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create content file watcher, reloads disabled")
		} else {
			go func() {
				if err := fw.Run(ctx); err != nil {
					L.Error(ctx, err, "content file watcher stopped")
				}
			}()
		}
	}

	// lookups go to the persistent store when there is one, otherwise
	// each request reads the snapshot it started with
	var lookups menu.Store
	if store != nil {
		lookups = store
	}
	menuAPI := menuhttp.NewAPI(menuhttp.Options{
		Store:    lookups,
		Content:  contentMgr,
		URLs:     menu.URLBuilder{BaseURL: conf.SiteBaseURL, Prefix: conf.URLPrefix},
		Observer: m,
		Levels:   conf.MenuLevels,
		Logger:   L,
	})

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// readiness needs both an open gate and loaded content
	readiness := health.All(
		gate.Probe(),
		health.CheckFunc(func(ctx context.Context) error {
			return contentMgr.ReadyErr()
		}),
	)

	var rateLimitMW func(next http.Handler) http.Handler
	if conf.RateLimitRPS > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(ip string) {
				m.IncRateLimitDenied()
			}),
			// only log the first time an ip is denied each time it is cleaned from the bucket
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	// start public http server
	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    menuAPI.RegisterRoutes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  rateLimitMW,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		Logger:       L,
		ContentInfo:  contentMgr,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// admin listener for metrics, probes and pprof
	// sg restricts inbound to internal monitoring; public peers are rejected in middleware too
	opsHTTPStop, err := opshttp.Start(ctx, &opshttp.Options{
		Logger:       L,
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining for 30s")

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(30 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit has Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
