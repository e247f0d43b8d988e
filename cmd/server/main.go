// Prealert turns dispatch pre-alert emails into spoken narrations for
// station alerting.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/prealert/internal/alertapi"
	"github.com/linnemanlabs/prealert/internal/notify/slack"
	"github.com/linnemanlabs/prealert/internal/org"
	"github.com/linnemanlabs/prealert/internal/workflow"
)

const appName = "prealert"
const component = "server"

// how long cancelled runs get to release their attempts after the budget
const runCancelGrace = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	s, err := loadSettings(flag.CommandLine, os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}
	if s.version {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}
	app := &s.app

	lg, err := log.New(s.log.ToOptions(v.AppName))
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
		"http_port", app.APIPort,
		"admin_port", s.ops.Port,
		"enable_pyroscope", s.prof.EnablePyroscope,
		"enable_tracing", s.trace.EnableTracing,
		"otlp_endpoint", s.trace.OTLPEndpoint,
		"narration_provider", app.NarrationProvider,
		"narration_mode", app.NarrationMode,
		"ingest_auth", len(app.Tokens()) > 0,
		"postgres", app.DatabaseURL != "",
		"s3_bucket", s.s3.Bucket,
	)

	// profiling first so the whole lifetime is covered
	profOpts := s.prof.ToOptions()
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
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", s.prof.PyroServer)
	}
	if stopProf == nil {
		stopProf = func() {}
	}
	defer stopProf()

	traceOpts := s.trace.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtel, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtel == nil {
		shutdownOtel = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOtel(context.Background()) }()

	// span ids become pyroscope labels so traces link to profiles
	if s.trace.EnableTracing && s.prof.EnablePyroscope && profErr == nil {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && s.prof.EnablePyroscope)
	observeQueries(m.Registry())

	st, err := openStores(ctx, L, app)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := seedOrganizations(ctx, L, st.alerts, app.SeedOrganizations); err != nil {
		return fmt.Errorf("seed organizations: %w", err)
	}

	audio, err := openAudioStore(ctx, L, s.s3)
	if err != nil {
		return err
	}

	oa := newOpenAI(app)
	narrator, model := newNarrator(app, oa)
	L.Info(ctx, "initialized LLM provider", "provider", app.NarrationProvider, "model", model)

	wfMetrics := workflow.NewMetrics(m.Registry())
	engine := workflow.NewEngine(st.workflows, workflow.Deps{
		Orgs:        org.NewResolver(st.alerts),
		Narrator:    narrator,
		Synthesizer: oa,
		Audio:       audio,
		Alerts:      st.alerts,
	}, workflow.Options{
		Mode:  app.Mode(),
		Retry: app.RetryPolicy(),
	}, L, wfMetrics.Hooks())

	var notifier workflow.Notifier
	if app.SlackWebhookURL != "" {
		var opts []slack.Option
		if app.SlackOnlyFailures {
			opts = append(opts, slack.OnlyFailures())
		}
		notifier = slack.New(app.SlackWebhookURL, L, opts...)
		L.Info(ctx, "notifier enabled", "type", "slack", "only_failures", app.SlackOnlyFailures)
	}

	svc := workflow.NewService(st.workflows, engine, L, wfMetrics, notifier)

	// Runs must outlive the signal so the drain period can finish them.
	// Cancelling workCtx leaves unfinished instances active for the next process.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	resumed, err := svc.Resume(workCtx)
	if err != nil {
		return fmt.Errorf("resume workflow instances: %w", err)
	}
	L.Info(ctx, "workflow service started", "resumed_instances", resumed)

	// readiness fails once the gate closes so the load balancer stops routing to us
	var gate health.ShutdownGate
	readiness := health.All(gate.Probe())
	liveness := health.Fixed(true, "")

	opsOpts := s.ops.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic
	stopOps, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		return fmt.Errorf("start ops http listener: %w", err)
	}

	api := alertapi.New(L, svc, st.alerts, audio, alertapi.WithIngestTokens(app.Tokens()...))
	h := newHandler(handlerOptions{
		logger:      L,
		healthy:     health.HealthzHandler(liveness),
		ready:       health.ReadyzHandler(readiness),
		instrument:  m.Middleware,
		trustedHops: s.httpmw.TrustedProxyHops,
		routes:      api.RegisterRoutes,
	})

	httpOpts, err := s.http.ToOptions()
	if err != nil {
		return fmt.Errorf("invalid http config: %w", err)
	}
	stopAPI, err := httpserver.Start(ctx, fmt.Sprintf(":%d", app.APIPort), h, L, httpOpts)
	if err != nil {
		return fmt.Errorf("start api http listener: %w", err)
	}

	if err := notifySystemd(); err != nil {
		// systemd kills us after its own timeout if this really mattered
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	gate.Set("draining")
	drain(L, time.Duration(app.DrainSeconds)*time.Second)

	_ = stopAll(L, time.Duration(app.ShutdownBudgetSeconds)*time.Second, []stopFn{
		{"api http server", stopAPI},
		// whatever is still running resumes on next start
		{"workflow runs", stopRuns(svc.Wait, cancelWork, runCancelGrace)},
		{"ops http server", stopOps},
		{"otel", shutdownOtel},
	})

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr comes from systemd, and unixgram dial has no context variant
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
