// Package alertapi is the HTTP surface: inbound pre-alert emails, workflow
// status, and the read endpoints consumed by the settings UI and players.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/prealert/internal/alert"
	"github.com/linnemanlabs/prealert/internal/authmw"
	"github.com/linnemanlabs/prealert/internal/objstore"
	"github.com/linnemanlabs/prealert/internal/workflow"
)

// WorkflowService defines the workflow operations alertapi needs.
type WorkflowService interface {
	Submit(ctx context.Context, t *workflow.Trigger) (*workflow.SubmitResult, error)
	Get(ctx context.Context, id string) (*workflow.Instance, []*workflow.StepResult, bool, error)
}

// AlertReader is the read side of alert.Store.
type AlertReader interface {
	OrganizationByKey(ctx context.Context, orgKey string) (*alert.Organization, bool, error)
	LatestAlerts(ctx context.Context, orgKey string, limit int) ([]*alert.Alert, error)
	AlertForOrg(ctx context.Context, orgKey, alertID string) (*alert.Alert, bool, error)
}

// AudioReader fetches stored narration audio.
type AudioReader interface {
	Get(ctx context.Context, key string) (*objstore.Object, bool, error)
}

// Option configures an API.
type Option func(*API)

// WithIngestTokens protects the inbound email endpoint with bearer tokens.
// Without tokens the endpoint is open, which is only meant for local use.
func WithIngestTokens(tokens ...string) Option {
	return func(a *API) {
		for _, t := range tokens {
			if t != "" {
				a.ingestTokens = append(a.ingestTokens, t)
			}
		}
	}
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger       log.Logger
	svc          WorkflowService
	alerts       AlertReader
	audio        AudioReader
	ingestTokens []string
}

// New creates a new API handler.
func New(logger log.Logger, svc WorkflowService, alerts AlertReader, audio AudioReader, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("workflow service is required"))
	}
	if alerts == nil || audio == nil {
		panic(xerrors.New("alert and audio readers are required"))
	}
	a := &API{
		logger: logger,
		svc:    svc,
		alerts: alerts,
		audio:  audio,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if len(a.ingestTokens) > 0 {
				r.Use(authmw.BearerToken(a.ingestTokens...))
			}
			r.Post("/email", a.handleIngestEmail)
		})
		r.Get("/workflows/{id}", a.handleGetWorkflow)
	})

	r.Get("/api/org/{orgKey}", a.handleGetOrganization)
	r.Get("/api/org/{orgKey}/alerts", a.handleLatestAlerts)
	r.Get("/api/org/{orgKey}/alerts/{alertID}/audio", a.handleGetAudio)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
