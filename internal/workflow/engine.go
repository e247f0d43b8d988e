package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/prealert/internal/alert"
	"github.com/linnemanlabs/prealert/internal/dispatch"
	"github.com/linnemanlabs/prealert/internal/faults"
	"github.com/linnemanlabs/prealert/internal/narration"
	"github.com/linnemanlabs/prealert/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/prealert/internal/workflow")

// ErrAttemptsExhausted is returned when a step reached the attempt ceiling,
// including attempts made before a restart.
var ErrAttemptsExhausted = errors.New("attempt ceiling reached")

// RetryPolicy bounds retries of a single step.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy is used when Options.Retry is zero.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     8,
	InitialInterval: 2 * time.Second,
	MaxInterval:     2 * time.Minute,
	Multiplier:      2,
	MaxElapsed:      30 * time.Minute,
}

// Deps are the collaborators the steps call.
type Deps struct {
	Orgs        OrgResolver
	Narrator    Narrator
	Synthesizer Synthesizer
	Audio       AudioStore
	Alerts      AlertWriter
}

// Options tune the engine.
type Options struct {
	Mode  narration.Mode
	Retry RetryPolicy
}

// EngineHooks are optional callbacks for instrumentation. Nil fields are skipped.
type EngineHooks struct {
	OnStep     func(step StepName, outcome string, attempts int, duration float64)
	OnComplete func(e *CompleteEvent)
}

// CompleteEvent is passed to EngineHooks.OnComplete when an instance stops running.
type CompleteEvent struct {
	Status     InstanceStatus
	FailedStep StepName
	ErrorKind  string
	Duration   float64
	Replayed   int
}

// RunResult is the outcome of Engine.Run. Status is InstanceActive when the
// run was interrupted by context cancellation and must be resumed later.
type RunResult struct {
	Status     InstanceStatus
	FailedStep StepName
	Err        error
	Alert      *alert.Alert
	Replayed   int
	Duration   float64
}

// runState carries step outputs forward. Each step writes one field, which
// is also what gets checkpointed.
type runState struct {
	inst      *Instance
	OrgID     string
	Event     *dispatch.Event
	Narration string
	Audio     []byte
	AudioKey  string
	Alert     *alert.Alert
}

type step struct {
	name StepName
	run  func(ctx context.Context, st *runState) error
	out  func(st *runState) any
}

// Engine executes instances step by step against the step-result log.
type Engine struct {
	store  Store
	deps   Deps
	mode   narration.Mode
	retry  RetryPolicy
	logger log.Logger
	hooks  EngineHooks
	steps  []step
	now    func() time.Time
}

// NewEngine creates a new workflow engine with the given dependencies.
func NewEngine(store Store, deps Deps, opts Options, logger log.Logger, hooks EngineHooks) *Engine {
	if store == nil {
		panic(xerrors.New("workflow store is required"))
	}
	if deps.Orgs == nil || deps.Narrator == nil || deps.Synthesizer == nil || deps.Audio == nil || deps.Alerts == nil {
		panic(xerrors.New("workflow engine dependencies are incomplete"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Mode == "" {
		opts.Mode = narration.ModeEvent
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy
	}

	e := &Engine{
		store:  store,
		deps:   deps,
		mode:   opts.Mode,
		retry:  opts.Retry,
		logger: logger,
		hooks:  hooks,
		now:    time.Now,
	}
	e.steps = e.buildSteps()
	return e
}

func (e *Engine) buildSteps() []step {
	return []step{
		{
			name: StepResolveOrg,
			run: func(ctx context.Context, st *runState) error {
				id, err := e.deps.Orgs.Resolve(ctx, st.inst.Payload.EmailTo)
				st.OrgID = id
				return err
			},
			out: func(st *runState) any { return &st.OrgID },
		},
		{
			name: StepParseEmail,
			run: func(_ context.Context, st *runState) error {
				ev, err := dispatch.Parse(st.inst.Payload.EmailText)
				st.Event = ev
				return err
			},
			out: func(st *runState) any { return &st.Event },
		},
		{
			name: StepGenerateNarration,
			run: func(ctx context.Context, st *runState) error {
				req, err := narration.NewRequest(e.mode, st.Event, st.inst.Payload.EmailText)
				if err != nil {
					return err
				}
				text, err := e.deps.Narrator.Narrate(ctx, req)
				st.Narration = text
				return err
			},
			out: func(st *runState) any { return &st.Narration },
		},
		{
			name: StepSynthesizeAudio,
			run: func(ctx context.Context, st *runState) error {
				audio, err := e.deps.Synthesizer.Synthesize(ctx, st.Narration)
				st.Audio = audio
				return err
			},
			out: func(st *runState) any { return &st.Audio },
		},
		{
			name: StepUploadAudio,
			run: func(ctx context.Context, st *runState) error {
				key, err := e.deps.Audio.Put(ctx, alert.AudioKey(st.inst.ID), st.Audio, alert.AudioContentType)
				st.AudioKey = key
				return err
			},
			out: func(st *runState) any { return &st.AudioKey },
		},
		{
			name: StepSaveRecord,
			run: func(ctx context.Context, st *runState) error {
				a := &alert.Alert{
					AlertID:      st.inst.ID,
					Organization: st.OrgID,
					Body:         st.Narration,
					AudioURL:     st.AudioKey,
					Timestamp:    e.now().UTC(),
					Source:       st.inst.Payload.EmailText,
				}
				if st.Event != nil {
					a.Nature = st.Event.Nature
					a.Address = st.Event.Address
					a.City = st.Event.City
					a.Latitude = st.Event.Latitude
					a.Longitude = st.Event.Longitude
				}
				inserted, err := e.deps.Alerts.InsertAlert(ctx, a)
				if err != nil {
					return faults.Storage("insert alert", err)
				}
				if !inserted {
					// a previous attempt wrote the row before its checkpoint
					log.FromContext(ctx).Info(ctx, "alert already persisted", "alert_id", a.AlertID)
				}
				st.Alert = a
				return nil
			},
			out: func(st *runState) any { return &st.Alert },
		},
	}
}

// Run executes inst from its first non-completed step. Completed steps are
// replayed from their checkpoints and never executed again.
func (e *Engine) Run(ctx context.Context, inst *Instance) *RunResult {
	start := e.now()
	L := e.logger.With("instance_id", inst.ID)
	ctx = log.WithContext(ctx, L)

	rr := e.run(ctx, L, inst)
	rr.Duration = time.Since(start).Seconds()

	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(&CompleteEvent{
			Status:     rr.Status,
			FailedStep: rr.FailedStep,
			ErrorKind:  faults.Kind(rr.Err),
			Duration:   rr.Duration,
			Replayed:   rr.Replayed,
		})
	}
	return rr
}

func (e *Engine) run(ctx context.Context, L log.Logger, inst *Instance) *RunResult {
	rr := &RunResult{Status: InstanceActive}

	if inst.Status != InstanceActive {
		rr.Status = inst.Status
		return rr
	}

	records, err := e.store.Steps(ctx, inst.ID)
	if err != nil {
		L.Error(ctx, err, "failed to load step log")
		rr.Err = faults.Storage("load steps", err)
		return rr
	}
	byName := make(map[StepName]*StepResult, len(records))
	for _, r := range records {
		byName[r.Name] = r
	}

	st := &runState{inst: inst}

	L.Info(ctx, "workflow run",
		"email_from", inst.Payload.EmailFrom,
		"email_to", inst.Payload.EmailTo,
		"checkpoints", len(records),
	)

	for _, s := range e.steps {
		rec := byName[s.name]

		if rec != nil && rec.Status == StepCompleted {
			if err := json.Unmarshal(rec.Output, s.out(st)); err != nil {
				// a corrupt checkpoint cannot be replayed
				return e.fail(ctx, L, inst, rr, s.name, rec, fmt.Errorf("decode checkpoint: %w", err))
			}
			rr.Replayed++
			L.Info(ctx, "step replayed from checkpoint", "step", s.name)
			continue
		}

		if rec != nil && rec.Status == StepFailed {
			return e.fail(ctx, L, inst, rr, s.name, rec, errors.New(rec.Error))
		}

		if rec == nil {
			rec = &StepResult{InstanceID: inst.ID, Name: s.name, Status: StepPending}
		}

		if err := e.execute(ctx, L, s, rec, st); err != nil {
			if ctx.Err() != nil {
				e.release(ctx, L, rec)
				L.Warn(ctx, "workflow interrupted, will resume", "step", s.name, "attempts", rec.Attempts)
				rr.Err = ctx.Err()
				return rr
			}
			return e.fail(ctx, L, inst, rr, s.name, rec, err)
		}
	}

	now := e.now()
	inst.Status = InstanceCompleted
	inst.Error = ""
	inst.UpdatedAt = now
	inst.CompletedAt = now
	if err := e.store.UpdateInstance(context.WithoutCancel(ctx), inst); err != nil {
		// the alert is persisted; a later resume replays every step and retries this write
		L.Error(ctx, err, "failed to mark instance completed")
	}

	rr.Status = InstanceCompleted
	rr.Alert = st.Alert
	L.Info(ctx, "workflow completed", "alert_id", inst.ID, "audio_url", st.AudioKey, "replayed", rr.Replayed)
	return rr
}

// release hands back the attempt that shutdown cut short, so it does not
// count toward MaxAttempts when the instance resumes.
func (e *Engine) release(ctx context.Context, L log.Logger, rec *StepResult) {
	if rec.Status != StepRunning {
		return
	}
	if rec.Attempts > 0 {
		rec.Attempts--
	}
	rec.Status = StepPending
	rec.Error = ""
	rec.UpdatedAt = e.now()
	if err := e.store.PutStep(context.WithoutCancel(ctx), rec); err != nil {
		// the resumed run starts from the recorded count, one attempt short
		L.Error(ctx, err, "failed to release interrupted attempt", "step", rec.Name)
	}
}

// execute runs one step with retries. Each attempt is recorded before the
// step body runs, and the output is checkpointed before returning.
func (e *Engine) execute(ctx context.Context, L log.Logger, s step, rec *StepResult, st *runState) error {
	remaining := e.retry.MaxAttempts - rec.Attempts
	if remaining <= 0 {
		return fmt.Errorf("%w (%d attempts)", ErrAttemptsExhausted, rec.Attempts)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retry.InitialInterval
	b.MaxInterval = e.retry.MaxInterval
	if e.retry.Multiplier > 0 {
		b.Multiplier = e.retry.Multiplier
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(remaining)),
		backoff.WithNotify(func(err error, next time.Duration) {
			L.Warn(ctx, "step attempt failed, retrying",
				"step", s.name,
				"attempt", rec.Attempts,
				"error_kind", faults.Kind(err),
				"error", err.Error(),
				"retry_in", next.String(),
			)
		}),
		// zero disables the library's own default cap
		backoff.WithMaxElapsedTime(e.retry.MaxElapsed),
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := e.attempt(ctx, L, s, rec, st)
		if err != nil && !faults.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, opts...)

	// Retry hands back the wrapper when the last allowed attempt was permanent
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return err
}

func (e *Engine) attempt(ctx context.Context, L log.Logger, s step, rec *StepResult, st *runState) (err error) {
	ctx, span := tracer.Start(ctx, "workflow.step "+string(s.name), trace.WithAttributes(
		attribute.String("prealert.instance.id", rec.InstanceID),
		attribute.String("prealert.step", string(s.name)),
	))
	defer span.End()
	ctx = postgres.WithRoute(ctx, "workflow/"+string(s.name))

	start := e.now()
	rec.Attempts++
	rec.Status = StepRunning
	rec.UpdatedAt = start
	if rec.StartedAt.IsZero() {
		rec.StartedAt = start
	}
	span.SetAttributes(attribute.Int("prealert.step.attempt", rec.Attempts))

	defer func() {
		outcome := "completed"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if e.hooks.OnStep != nil {
			e.hooks.OnStep(s.name, outcome, rec.Attempts, time.Since(start).Seconds())
		}
	}()

	if err := e.store.PutStep(ctx, rec); err != nil {
		return faults.Storage("record attempt", err)
	}

	if err := s.run(ctx, st); err != nil {
		rec.Error = err.Error()
		return err
	}

	out, err := json.Marshal(s.out(st))
	if err != nil {
		return fmt.Errorf("encode %s output: %w", s.name, err)
	}
	rec.Status = StepCompleted
	rec.Output = out
	rec.Error = ""
	rec.UpdatedAt = e.now()
	if err := e.store.PutStep(ctx, rec); err != nil {
		// the step body ran; retrying re-runs it, which every step tolerates
		rec.Status = StepRunning
		rec.Output = nil
		return faults.Storage("checkpoint step", err)
	}

	L.Info(ctx, "step completed",
		"step", s.name,
		"attempt", rec.Attempts,
		"duration", time.Since(start).Seconds(),
	)
	return nil
}

// fail records the terminal failure of step and of the instance. The
// bookkeeping writes ignore cancellation so a failure seen during shutdown
// is still recorded.
func (e *Engine) fail(ctx context.Context, L log.Logger, inst *Instance, rr *RunResult, name StepName, rec *StepResult, err error) *RunResult {
	wctx := context.WithoutCancel(ctx)
	now := e.now()

	if rec == nil {
		rec = &StepResult{InstanceID: inst.ID, Name: name}
	}
	rec.Status = StepFailed
	rec.Error = err.Error()
	rec.UpdatedAt = now
	if perr := e.store.PutStep(wctx, rec); perr != nil {
		L.Error(ctx, perr, "failed to record step failure", "step", name)
	}

	inst.Status = InstanceFailed
	inst.Error = fmt.Sprintf("%s: %v", name, err)
	inst.UpdatedAt = now
	if uerr := e.store.UpdateInstance(wctx, inst); uerr != nil {
		L.Error(ctx, uerr, "failed to mark instance failed", "step", name)
	}

	L.Error(ctx, err, "workflow failed",
		"step", name,
		"attempts", rec.Attempts,
		"error_kind", faults.Kind(err),
		"retryable", faults.IsRetryable(err),
	)

	rr.Status = InstanceFailed
	rr.FailedStep = name
	rr.Err = err
	return rr
}
