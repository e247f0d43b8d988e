// Package pgstore provides a PostgreSQL implementation of workflow.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/prealert/internal/workflow"
)

var tracer = otel.Tracer("github.com/linnemanlabs/prealert/internal/workflow/pgstore")

//go:embed schema.sql
var schema string

// Store persists workflow instances and their step log in PostgreSQL.
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

const instanceColumns = `id, email_from, email_to, email_text, status, error, created_at, updated_at, completed_at`

// CreateInstance inserts a new instance.
func (s *Store) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	ctx, span := startSpan(ctx, "CreateInstance", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_instances (`+instanceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inst.ID, inst.Payload.EmailFrom, inst.Payload.EmailTo, inst.Payload.EmailText,
		string(inst.Status), inst.Error, inst.CreatedAt, inst.UpdatedAt, nullTime(inst.CompletedAt),
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert instance: %w", err))
	}
	return nil
}

// GetInstance retrieves an instance by ID.
func (s *Store) GetInstance(ctx context.Context, id string) (*workflow.Instance, bool, error) {
	ctx, span := startSpan(ctx, "GetInstance", "SELECT")
	defer span.End()

	inst, err := scanInstance(s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, err)
	}
	return inst, true, nil
}

// UpdateInstance writes the mutable instance fields.
func (s *Store) UpdateInstance(ctx context.Context, inst *workflow.Instance) error {
	ctx, span := startSpan(ctx, "UpdateInstance", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_instances
		 SET status = $2, error = $3, updated_at = $4, completed_at = $5
		 WHERE id = $1`,
		inst.ID, string(inst.Status), inst.Error, inst.UpdatedAt, nullTime(inst.CompletedAt),
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("update instance: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return spanErr(span, fmt.Errorf("instance %s not found", inst.ID))
	}
	return nil
}

// ActiveInstances returns all active instances, oldest first.
func (s *Store) ActiveInstances(ctx context.Context) ([]*workflow.Instance, error) {
	ctx, span := startSpan(ctx, "ActiveInstances", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances
		 WHERE status = 'active' ORDER BY created_at, id`)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query active instances: %w", err))
	}
	defer rows.Close()

	var out []*workflow.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate instances: %w", err))
	}
	return out, nil
}

// Steps returns the recorded steps of an instance in workflow.StepOrder.
func (s *Store) Steps(ctx context.Context, instanceID string) ([]*workflow.StepResult, error) {
	ctx, span := startSpan(ctx, "Steps", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT instance_id, name, status, output, error, attempts, started_at, updated_at
		 FROM workflow_steps WHERE instance_id = $1 ORDER BY seq`, instanceID)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query steps: %w", err))
	}
	defer rows.Close()

	var out []*workflow.StepResult
	for rows.Next() {
		var (
			r      workflow.StepResult
			name   string
			status string
		)
		if err := rows.Scan(&r.InstanceID, &name, &status, &r.Output, &r.Error, &r.Attempts, &r.StartedAt, &r.UpdatedAt); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan step: %w", err))
		}
		r.Name = workflow.StepName(name)
		r.Status = workflow.StepStatus(status)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate steps: %w", err))
	}
	return out, nil
}

// PutStep upserts the record for (InstanceID, Name).
func (s *Store) PutStep(ctx context.Context, r *workflow.StepResult) error {
	ctx, span := startSpan(ctx, "PutStep", "UPSERT")
	defer span.End()

	seq := stepSeq(r.Name)
	if seq < 0 {
		return spanErr(span, fmt.Errorf("unknown step %q", r.Name))
	}

	var output []byte
	if len(r.Output) > 0 {
		output = r.Output
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_steps (instance_id, name, seq, status, output, error, attempts, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (instance_id, name) DO UPDATE SET
			status     = EXCLUDED.status,
			output     = EXCLUDED.output,
			error      = EXCLUDED.error,
			attempts   = EXCLUDED.attempts,
			updated_at = EXCLUDED.updated_at`,
		r.InstanceID, string(r.Name), seq, string(r.Status), output, r.Error, r.Attempts, r.StartedAt, r.UpdatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("upsert step %s: %w", r.Name, err))
	}
	return nil
}

func stepSeq(name workflow.StepName) int {
	for i, n := range workflow.StepOrder {
		if n == name {
			return i
		}
	}
	return -1
}

func scanInstance(row pgx.Row) (*workflow.Instance, error) {
	var (
		inst        workflow.Instance
		status      string
		completedAt *time.Time
	)
	err := row.Scan(
		&inst.ID, &inst.Payload.EmailFrom, &inst.Payload.EmailTo, &inst.Payload.EmailText,
		&status, &inst.Error, &inst.CreatedAt, &inst.UpdatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	inst.Status = workflow.InstanceStatus(status)
	if completedAt != nil {
		inst.CompletedAt = *completedAt
	}
	return &inst, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
