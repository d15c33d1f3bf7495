// Watchpost is the alert lifecycle and distribution service for police stations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/watchpost/internal/alertapi"
	"github.com/linnemanlabs/watchpost/internal/alerting"
	"github.com/linnemanlabs/watchpost/internal/alerting/memstore"
	"github.com/linnemanlabs/watchpost/internal/alerting/pgstore"
	wc "github.com/linnemanlabs/watchpost/internal/cfg"
	"github.com/linnemanlabs/watchpost/internal/identity"
	"github.com/linnemanlabs/watchpost/internal/notify"
	"github.com/linnemanlabs/watchpost/internal/notify/natsbus"
	"github.com/linnemanlabs/watchpost/internal/notify/slack"
	"github.com/linnemanlabs/watchpost/internal/postgres"
	"github.com/linnemanlabs/watchpost/internal/records/httplookup"
	"github.com/linnemanlabs/watchpost/internal/redislock"
	"github.com/linnemanlabs/watchpost/internal/refs"
	"github.com/linnemanlabs/watchpost/internal/stations"
)

const appName = "watchpost"
const component = "server"

// relayDedupTTL bounds how long a relayed notification id is remembered.
const relayDedupTTL = 15 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    wc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cmdline flags win over env vars, which are filled in next
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// WATCHPOST_* env vars, these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "WATCHPOST_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"store", storeKind(appCfg.DatabaseURL),
		"redis_locks", appCfg.RedisAddr != "",
		"nats", appCfg.NATSURL != "",
		"nats_relay", appCfg.NATSRelay,
		"stations_file", appCfg.StationsFile,
		"record_lookup", appCfg.RecordLookupURL != "",
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// profiling starts early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// tag spans with pyroscope profile ids so traces link to CPU profiles
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Per-query DB duration histogram, fed by the pgx tracer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "watchpost_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	// Alert store
	var store alerting.Store
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL,
			postgres.WithSlowQueryThreshold(appCfg.DBSlowQuery),
			postgres.WithMaxConns(int32(appCfg.DBMaxConns)), //nolint:gosec // G115: validated to 1..1000
		)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		store = pgStore
		L.Info(ctx, "using postgres store")
	} else {
		store = memstore.New()
		L.Info(ctx, "using in-memory store (no database-url configured)")
	}

	// Per-alert mutation lock
	var locker alerting.Locker = &alerting.KeyedMutex{}
	if appCfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: appCfg.RedisAddr, Password: appCfg.RedisPassword})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", appCfg.RedisAddr, err)
		}
		locker = redislock.New(rdb, appCfg.LockTTL, L)
		L.Info(ctx, "using redis alert locks", "redis_addr", appCfg.RedisAddr, "lock_ttl", appCfg.LockTTL)
	}

	// Station directory for recipient expansion, hot reloaded when it changes
	directory, err := stations.NewStatic()
	if err != nil {
		return fmt.Errorf("stations: %w", err)
	}
	if appCfg.StationsFile != "" {
		directory, err = stations.Load(appCfg.StationsFile)
		if err != nil {
			return fmt.Errorf("stations: %w", err)
		}
		L.Info(ctx, "loaded station directory", "path", appCfg.StationsFile, "stations", directory.Len())
		go func() {
			if err := directory.Watch(ctx, L, nil); err != nil {
				L.Error(ctx, err, "station directory watcher stopped")
			}
		}()
	}

	// Notification delivery
	var slackNotifier alerting.Notifier
	if appCfg.SlackWebhookURL != "" {
		slackNotifier = slack.New(appCfg.SlackWebhookURL)
	}

	var (
		natsConn      *nats.Conn
		natsPublisher alerting.Notifier
	)
	if appCfg.NATSURL != "" {
		natsConn, err = nats.Connect(appCfg.NATSURL,
			nats.Name(appName+"-"+component),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("nats connect %s: %w", appCfg.NATSURL, err)
		}
		defer natsConn.Close()
		natsPublisher = natsbus.NewPublisher(natsConn, appCfg.NATSSubjectPrefix)
		L.Info(ctx, "notifier enabled", "type", "nats", "subject_prefix", appCfg.NATSSubjectPrefix)
	}

	targets := deliveryTargets(slackNotifier, natsPublisher, appCfg.NATSRelay)
	for _, t := range targets {
		if n, ok := t.(notify.Named); ok {
			L.Info(ctx, "notification target", "type", n.Name())
		}
	}
	notifier := notify.NewExpander(targets, directory)

	if appCfg.NATSRelay && natsConn != nil && slackNotifier != nil {
		relay := natsbus.NewRelay(notify.NewDedup(slackNotifier, appCfg.NotifyDedupSize, relayDedupTTL), L.With("subsystem", "nats-relay"))
		sub, err := relay.Subscribe(natsConn, appCfg.NATSSubjectPrefix, appCfg.NATSRelayQueue)
		if err != nil {
			return err
		}
		defer func() { _ = sub.Unsubscribe() }()
		L.Info(ctx, "relaying notifications from nats to slack", "queue", appCfg.NATSRelayQueue)
	} else if appCfg.NATSRelay {
		L.Warn(ctx, "nats relay enabled without a slack webhook, nothing to relay to")
	}

	// Reference resolution against the lost and found records service
	refsMetrics := refs.NewMetrics(m.Registry())
	var lookup refs.Lookup
	if appCfg.RecordLookupURL != "" {
		lookup = httplookup.New(appCfg.RecordLookupURL, appCfg.RecordLookupToken)
	}
	resolver := refs.NewResolver(lookup, appCfg.LookupTimeout, appCfg.LookupConcurrency,
		refs.LogSink{Logger: L.With("subsystem", "refs")}, refsMetrics.Hooks())

	alertMetrics := alerting.NewMetrics(m.Registry())
	alertSvc := alerting.NewService(store, locker, notifier, resolver, L, alertMetrics.Hooks())

	tokens := identity.NewManager(appCfg.JWTSigningKey, appCfg.TokenTTL)

	// readiness fails while draining so the load balancer stops sending traffic
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := chi.NewRouter()

	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	r.Use(httpmw.AccessLog())

	// 413 above 64KB
	r.Use(httpmw.MaxBody(1024 * 64))

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	alertapiHTTP := alertapi.New(L, alertSvc, tokens)
	alertapiHTTP.RegisterRoutes(r)

	// middleware order matters, the outermost wrapper sees the raw request first
	var h http.Handler = r

	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute renames the span to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = m.Middleware(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)

	alertapiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	alertapiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, alertapiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start alertapi http listener")
		return err
	}
	defer func() {
		err := alertapiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop alertapi http listener")
		}
	}()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"alertapi http server", alertapiHTTPStop},
		{"notification dispatch", alertSvc.Wait},
	}
	if natsConn != nil {
		stopFns = append(stopFns, stopFn{"nats", func(context.Context) error { return natsConn.Drain() }})
	}
	stopFns = append(stopFns,
		stopFn{"ops http server", opsHTTPStop},
		stopFn{"otel", shutdownOtelx},
	)

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		if s.fn == nil {
			continue
		}
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// deliveryTargets picks where committed notifications go. With a NATS relay
// running, Slack is fed from the bus instead of directly.
func deliveryTargets(slackNotifier, natsPublisher alerting.Notifier, relay bool) notify.Fanout {
	var out notify.Fanout
	if natsPublisher != nil {
		out = append(out, natsPublisher)
	}
	if slackNotifier != nil && (natsPublisher == nil || !relay) {
		out = append(out, slackNotifier)
	}
	return out
}

func storeKind(databaseURL string) string {
	if databaseURL == "" {
		return "memory"
	}
	return "postgres"
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit has Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
