package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/prealert/internal/alert"
	alertmem "github.com/linnemanlabs/prealert/internal/alert/memstore"
	alertpg "github.com/linnemanlabs/prealert/internal/alert/pgstore"
	vc "github.com/linnemanlabs/prealert/internal/cfg"
	"github.com/linnemanlabs/prealert/internal/llm/claude"
	"github.com/linnemanlabs/prealert/internal/llm/openai"
	"github.com/linnemanlabs/prealert/internal/objstore"
	objmem "github.com/linnemanlabs/prealert/internal/objstore/memstore"
	"github.com/linnemanlabs/prealert/internal/objstore/s3store"
	"github.com/linnemanlabs/prealert/internal/postgres"
	"github.com/linnemanlabs/prealert/internal/workflow"
	workflowmem "github.com/linnemanlabs/prealert/internal/workflow/memstore"
	workflowpg "github.com/linnemanlabs/prealert/internal/workflow/pgstore"
)

// alertStoreAPI is the read side for the API and org lookup plus the write
// side for the workflow and seeding.
type alertStoreAPI interface {
	alert.Store
	AddOrganization(ctx context.Context, o *alert.Organization) error
}

var (
	_ alertStoreAPI  = (*alertmem.Store)(nil)
	_ alertStoreAPI  = (*alertpg.Store)(nil)
	_ objstore.Store = (*objmem.Store)(nil)
	_ objstore.Store = (*s3store.Store)(nil)
)

type stores struct {
	alerts    alertStoreAPI
	workflows workflow.Store
	pool      *pgxpool.Pool
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// openStores uses postgres when a database URL is set, memory otherwise.
func openStores(ctx context.Context, L log.Logger, c *vc.Config) (*stores, error) {
	if c.DatabaseURL == "" {
		L.Info(ctx, "using in-memory store (no database-url configured)")
		return &stores{alerts: alertmem.New(), workflows: workflowmem.New()}, nil
	}

	postgres.SetLogThreshold(c.DBLogThreshold)
	pool, err := postgres.NewPool(ctx, c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	as, err := alertpg.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("alert pgstore init: %w", err)
	}
	ws, err := workflowpg.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("workflow pgstore init: %w", err)
	}
	L.Info(ctx, "using postgres store")
	return &stores{alerts: as, workflows: ws, pool: pool}, nil
}

// seedOrganizations upserts the organizations listed in config.
func seedOrganizations(ctx context.Context, L log.Logger, st alertStoreAPI, spec string) error {
	orgs, err := vc.ParseOrganizations(spec)
	if err != nil {
		return err
	}
	for i := range orgs {
		if err := st.AddOrganization(ctx, &orgs[i]); err != nil {
			return fmt.Errorf("seed organization %s: %w", orgs[i].OrgKey, err)
		}
		L.Info(ctx, "seeded organization", "org_key", orgs[i].OrgKey, "org_id", orgs[i].OrgID)
	}
	return nil
}

// openAudioStore uses the configured bucket, or memory without one.
func openAudioStore(ctx context.Context, L log.Logger, c s3store.Config) (objstore.Store, error) {
	if c.Bucket == "" {
		L.Info(ctx, "using in-memory object store (no s3-bucket configured)")
		return objmem.New(), nil
	}
	bucket, err := s3store.New(ctx, c, s3store.WithLogger(L))
	if err != nil {
		return nil, fmt.Errorf("s3store init: %w", err)
	}
	if err := bucket.Ping(ctx); err != nil {
		return nil, fmt.Errorf("s3store ping: %w", err)
	}
	L.Info(ctx, "using s3 object store", "bucket", c.Bucket, "endpoint", c.Endpoint)
	return bucket, nil
}

func newOpenAI(c *vc.Config) *openai.Client {
	return openai.New(openai.Config{
		APIKey:       c.OpenAIAPIKey,
		BaseURL:      c.OpenAIBaseURL,
		GatewayToken: c.OpenAIGatewayToken,
		TextModel:    c.OpenAITextModel,
		SpeechModel:  c.OpenAISpeechModel,
		Voice:        c.OpenAIVoice,
	})
}

// newNarrator picks the narration text provider. Speech always goes through
// oa, so it doubles as the openai narrator.
func newNarrator(c *vc.Config, oa *openai.Client) (workflow.Narrator, string) {
	if c.NarrationProvider == vc.ProviderOpenAI {
		return oa, oa.Model()
	}
	n := claude.New(c.ClaudeAPIKey, c.ClaudeModel)
	return n, n.Model()
}

// observeQueries feeds per-query durations into a histogram on reg.
func observeQueries(reg prometheus.Registerer) {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prealert_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	reg.MustRegister(hist)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			hist.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))
}
