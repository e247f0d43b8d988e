package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/prealert/internal/postgres"
)

const (
	healthyPath = "/-/healthy"
	readyPath   = "/-/ready"

	// inbound emails are a few KB of dispatch text
	maxBodyBytes = 64 << 10
)

type handlerOptions struct {
	logger      log.Logger
	healthy     http.HandlerFunc
	ready       http.HandlerFunc
	instrument  func(http.Handler) http.Handler
	trustedHops int
	routes      func(chi.Router)
}

// withQueryMethod labels DB query metrics with the request method.
func withQueryMethod(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(postgres.WithHTTPMethod(r.Context(), r.Method)))
	})
}

// newHandler builds the public listener: chi routes inside, the go-core
// middleware chain outside. Wrappers applied later run first.
func newHandler(o handlerOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(withQueryMethod)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(maxBodyBytes))

	r.Get(healthyPath, o.healthy)
	r.Get(readyPath, o.ready)
	o.routes(r)

	var h http.Handler = r
	h = httpmw.WithLogger(o.logger)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != healthyPath && r.URL.Path != readyPath
		}),
		// renamed to the route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
	if o.instrument != nil {
		h = o.instrument(h)
	}
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: o.trustedHops})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(o.logger, nil)(h)
	h = httpmw.SecurityHeaders(h)
	return h
}
