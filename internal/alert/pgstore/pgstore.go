// Package pgstore provides a PostgreSQL implementation of alert.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/prealert/internal/alert"
)

var tracer = otel.Tracer("github.com/linnemanlabs/prealert/internal/alert/pgstore")

//go:embed schema.sql
var schema string

// Store reads organizations and reads/writes alerts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pgstore."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// AddOrganization inserts or updates an organization. Organizations are
// normally provisioned out of band; this serves seeding and tests.
func (s *Store) AddOrganization(ctx context.Context, o *alert.Organization) error {
	ctx, span := startSpan(ctx, "AddOrganization", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO organizations (org_id, org_key, access_key, name)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (org_id) DO UPDATE SET
			org_key    = EXCLUDED.org_key,
			access_key = EXCLUDED.access_key,
			name       = EXCLUDED.name`,
		o.OrgID, o.OrgKey, o.AccessKey, o.Name,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("upsert organization: %w", err))
	}
	return nil
}

// OrganizationByKey looks up an organization by its exact org key.
func (s *Store) OrganizationByKey(ctx context.Context, orgKey string) (*alert.Organization, bool, error) {
	ctx, span := startSpan(ctx, "OrganizationByKey", "SELECT")
	defer span.End()

	var o alert.Organization
	err := s.pool.QueryRow(ctx,
		`SELECT org_id, org_key, access_key, name FROM organizations WHERE org_key = $1`, orgKey,
	).Scan(&o.OrgID, &o.OrgKey, &o.AccessKey, &o.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, fmt.Errorf("select organization: %w", err))
	}
	return &o, true, nil
}

// InsertAlert inserts a. It reports false without error when an alert with
// the same ID already exists.
func (s *Store) InsertAlert(ctx context.Context, a *alert.Alert) (bool, error) {
	ctx, span := startSpan(ctx, "InsertAlert", "INSERT")
	defer span.End()
	span.SetAttributes(attribute.String("prealert.alert.id", a.AlertID))

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (`+alertColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (alert_id) DO NOTHING`,
		a.AlertID, a.Organization, a.Body, a.AudioURL, a.Timestamp, a.Source,
		a.Nature, a.Address, a.City, a.Latitude, a.Longitude,
	)
	if err != nil {
		return false, spanErr(span, fmt.Errorf("insert alert: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

const alertColumns = `alert_id, organization, body, audio_url, timestamp, source, nature, address, city, latitude, longitude`

const qualifiedAlertColumns = `a.alert_id, a.organization, a.body, a.audio_url, a.timestamp, a.source,
	a.nature, a.address, a.city, a.latitude, a.longitude`

// LatestAlerts returns up to limit alerts of the organization with orgKey,
// newest first.
func (s *Store) LatestAlerts(ctx context.Context, orgKey string, limit int) ([]*alert.Alert, error) {
	ctx, span := startSpan(ctx, "LatestAlerts", "SELECT")
	defer span.End()

	if limit <= 0 {
		limit = alert.DefaultLatestLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+qualifiedAlertColumns+`
		 FROM alerts a
		 JOIN organizations o ON a.organization = o.org_id
		 WHERE o.org_key = $1
		 ORDER BY a.timestamp DESC
		 LIMIT $2`, orgKey, limit)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query alerts: %w", err))
	}
	defer rows.Close()

	var out []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate alerts: %w", err))
	}
	return out, nil
}

// AlertForOrg returns the alert only if it belongs to the organization with orgKey.
func (s *Store) AlertForOrg(ctx context.Context, orgKey, alertID string) (*alert.Alert, bool, error) {
	ctx, span := startSpan(ctx, "AlertForOrg", "SELECT")
	defer span.End()

	a, err := scanAlert(s.pool.QueryRow(ctx,
		`SELECT `+qualifiedAlertColumns+`
		 FROM alerts a
		 JOIN organizations o ON a.organization = o.org_id
		 WHERE o.org_key = $1 AND a.alert_id = $2`, orgKey, alertID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, err)
	}
	return a, true, nil
}

func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var a alert.Alert
	err := row.Scan(
		&a.AlertID, &a.Organization, &a.Body, &a.AudioURL, &a.Timestamp, &a.Source,
		&a.Nature, &a.Address, &a.City, &a.Latitude, &a.Longitude,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	return &a, nil
}
