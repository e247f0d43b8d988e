package workflow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// Trigger is an inbound email as delivered by the mail provider.
type Trigger struct {
	EmailFrom string
	EmailTo   string
	EmailText string
	Subject   string
}

// SubmitResult is the outcome of submitting a trigger.
type SubmitResult struct {
	ID      string
	Skipped bool
	Reason  string
}

// IsPreAlert reports whether subject marks the email as a pre-alert.
func IsPreAlert(subject string) bool {
	return strings.Contains(strings.ToLower(subject), "pre-alert")
}

// Service is the business boundary for workflow instances. It owns instance
// creation, async dispatch and resumption after restart.
type Service struct {
	store    Store
	engine   *Engine
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier

	mu      sync.Mutex
	base    context.Context
	running map[string]struct{}
	wg      sync.WaitGroup
}

// NewService creates a new workflow service. metrics and notifier may be nil.
func NewService(store Store, engine *Engine, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if store == nil || engine == nil {
		panic(xerrors.New("workflow service requires a store and an engine"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		engine:   engine,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		running:  make(map[string]struct{}),
	}
}

// Submit creates one instance for the trigger and starts it in the
// background. Triggers that are not pre-alerts are skipped.
func (s *Service) Submit(ctx context.Context, t *Trigger) (*SubmitResult, error) {
	if !IsPreAlert(t.Subject) {
		s.countSubmit("skipped_subject")
		return &SubmitResult{Skipped: true, Reason: "not a pre-alert"}, nil
	}

	text := strings.TrimSpace(t.EmailText)
	to := strings.TrimSpace(t.EmailTo)
	if text == "" || to == "" {
		s.countSubmit("skipped_empty")
		return &SubmitResult{Skipped: true, Reason: "empty email"}, nil
	}

	now := time.Now().UTC()
	inst := &Instance{
		ID: ulid.Make().String(),
		Payload: Payload{
			EmailFrom: t.EmailFrom,
			EmailTo:   to,
			EmailText: text,
		},
		Status:    InstanceActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateInstance(ctx, inst); err != nil {
		s.countSubmit("error")
		return nil, err
	}
	s.countSubmit("accepted")

	// run detached from the request; pass a copy so the caller keeps nothing shared
	cp := *inst
	s.start(s.runContext(ctx), &cp)

	return &SubmitResult{ID: inst.ID}, nil
}

// Resume restarts every instance left active by a previous process and
// returns the number of instances started. Runs started afterwards by Submit
// are also bound to ctx: cancelling it interrupts them and leaves them active.
func (s *Service) Resume(ctx context.Context) (int, error) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	active, err := s.store.ActiveInstances(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, inst := range active {
		if s.start(ctx, inst) {
			n++
		}
	}
	if n > 0 {
		s.logger.Info(ctx, "resuming active workflow instances", "count", n)
	}
	return n, nil
}

// Get returns an instance with its step log.
func (s *Service) Get(ctx context.Context, id string) (*Instance, []*StepResult, bool, error) {
	inst, ok, err := s.store.GetInstance(ctx, id)
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	steps, err := s.store.Steps(ctx, id)
	if err != nil {
		return nil, nil, false, err
	}
	return inst, steps, true, nil
}

// Wait blocks until in-flight runs return or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runContext(ctx context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base != nil {
		return s.base
	}
	return context.WithoutCancel(ctx)
}

// start launches inst unless it is already running in this process.
func (s *Service) start(ctx context.Context, inst *Instance) bool {
	s.mu.Lock()
	if _, ok := s.running[inst.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.running[inst.ID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, inst.ID)
			s.mu.Unlock()
		}()
		s.run(ctx, inst)
	}()
	return true
}

func (s *Service) run(ctx context.Context, inst *Instance) {
	L := s.logger.With("instance_id", inst.ID)

	rr := s.engine.Run(ctx, inst)
	if rr.Status == InstanceActive {
		if rr.Err != nil {
			L.Warn(ctx, "workflow left active", "error", rr.Err.Error())
		}
		return
	}

	L.Info(ctx, "workflow finished",
		"status", rr.Status,
		"failed_step", rr.FailedStep,
		"duration", rr.Duration,
		"replayed", rr.Replayed,
	)

	if s.notifier != nil {
		sum := &Summary{
			Instance:   inst,
			Alert:      rr.Alert,
			FailedStep: rr.FailedStep,
			Err:        rr.Err,
			Duration:   rr.Duration,
		}
		if err := s.notifier.Send(context.WithoutCancel(ctx), sum); err != nil {
			L.Error(ctx, err, "failed to send workflow notification")
		}
	}
}

func (s *Service) countSubmit(result string) {
	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
}
