package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/prealert/internal/alert"
	alertmem "github.com/linnemanlabs/prealert/internal/alert/memstore"
	"github.com/linnemanlabs/prealert/internal/faults"
	"github.com/linnemanlabs/prealert/internal/narration"
	"github.com/linnemanlabs/prealert/internal/org"
)

const headacheText = "HEADACHE | 1116 1ST ST:BOONE | 42.067439,-93.873498"

// testStore implements Store for testing with optional failure injection.
type testStore struct {
	mu        sync.Mutex
	instances map[string]*Instance
	steps     map[string]map[StepName]*StepResult
	putErr    func(r *StepResult) error
}

func newTestStore() *testStore {
	return &testStore{
		instances: make(map[string]*Instance),
		steps:     make(map[string]map[StepName]*StepResult),
	}
}

func (m *testStore) CreateInstance(_ context.Context, inst *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[inst.ID]; ok {
		return fmt.Errorf("duplicate %s", inst.ID)
	}
	cp := *inst
	m.instances[inst.ID] = &cp
	m.steps[inst.ID] = make(map[StepName]*StepResult)
	return nil
}

func (m *testStore) GetInstance(_ context.Context, id string) (*Instance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, false, nil
	}
	cp := *inst
	return &cp, true, nil
}

func (m *testStore) UpdateInstance(_ context.Context, inst *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inst
	m.instances[inst.ID] = &cp
	return nil
}

func (m *testStore) ActiveInstances(_ context.Context) ([]*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Instance
	for _, inst := range m.instances {
		if inst.Status == InstanceActive {
			cp := *inst
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *testStore) Steps(_ context.Context, id string) ([]*StepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*StepResult
	for _, name := range StepOrder {
		if r, ok := m.steps[id][name]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *testStore) PutStep(_ context.Context, r *StepResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		if err := m.putErr(r); err != nil {
			return err
		}
	}
	cp := *r
	m.steps[r.InstanceID][r.Name] = &cp
	return nil
}

func (m *testStore) step(id string, name StepName) *StepResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.steps[id][name]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// countingNarrator returns errs in sequence, then text.
type countingNarrator struct {
	mu    sync.Mutex
	errs  []error
	text  string
	calls int
	last  *narration.Request
}

func (n *countingNarrator) Narrate(_ context.Context, req *narration.Request) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	idx := n.calls
	n.calls++
	n.last = req
	if idx < len(n.errs) && n.errs[idx] != nil {
		return "", n.errs[idx]
	}
	return n.text, nil
}

func (n *countingNarrator) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type countingSynth struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *countingSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte("ID3:" + text), nil
}

func (s *countingSynth) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingAudio stores uploads; onPut runs before each upload and may fail it.
type recordingAudio struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	onPut   func(n int) error
}

func (a *recordingAudio) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.puts++
	if a.onPut != nil {
		if err := a.onPut(a.puts); err != nil {
			return "", err
		}
	}
	if a.objects == nil {
		a.objects = make(map[string][]byte)
	}
	a.objects[key] = data
	return key, nil
}

func (a *recordingAudio) Puts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.puts
}

type fixture struct {
	store    *testStore
	alerts   *alertmem.Store
	narrator *countingNarrator
	synth    *countingSynth
	audio    *recordingAudio
}

func newFixture() *fixture {
	alerts := alertmem.New()
	_ = alerts.AddOrganization(context.Background(), &alert.Organization{OrgID: "org-boone", OrgKey: "boone", Name: "Boone County"})
	return &fixture{
		store:    newTestStore(),
		alerts:   alerts,
		narrator: &countingNarrator{text: "Headache at 1116 1st Street in Boone."},
		synth:    &countingSynth{},
		audio:    &recordingAudio{},
	}
}

func (f *fixture) engine(policy RetryPolicy, hooks EngineHooks) *Engine {
	return NewEngine(f.store, Deps{
		Orgs:        org.NewResolver(f.alerts),
		Narrator:    f.narrator,
		Synthesizer: f.synth,
		Audio:       f.audio,
		Alerts:      f.alerts,
	}, Options{Mode: narration.ModeEvent, Retry: policy}, log.Nop(), hooks)
}

func (f *fixture) instance(t *testing.T, id, to, text string) *Instance {
	t.Helper()
	now := time.Now().UTC()
	inst := &Instance{
		ID:        id,
		Payload:   Payload{EmailFrom: "cad@county.example", EmailTo: to, EmailText: text},
		Status:    InstanceActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.store.CreateInstance(context.Background(), inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	return inst
}

func fastRetry(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		MaxElapsed:      5 * time.Second,
	}
}

func TestRun_Completes(t *testing.T) {
	t.Parallel()

	f := newFixture()
	inst := f.instance(t, "01HEADACHE", "boone@alerts.example", headacheText)

	rr := f.engine(fastRetry(3), EngineHooks{}).Run(context.Background(), inst)

	if rr.Status != InstanceCompleted {
		t.Fatalf("status = %q, want completed (err %v)", rr.Status, rr.Err)
	}
	if rr.Alert == nil {
		t.Fatal("expected alert in result")
	}

	a, ok, err := f.alerts.AlertForOrg(context.Background(), "boone", "01HEADACHE")
	if err != nil || !ok {
		t.Fatalf("AlertForOrg: ok %v, err %v", ok, err)
	}
	if a.AudioURL != "01HEADACHE.mp3" {
		t.Errorf("audio_url = %q, want %q", a.AudioURL, "01HEADACHE.mp3")
	}
	if a.Organization != "org-boone" {
		t.Errorf("organization = %q", a.Organization)
	}
	if a.Nature != "HEADACHE" || a.Address != "1116 1ST ST" || a.City != "BOONE" {
		t.Errorf("event fields = %q/%q/%q", a.Nature, a.Address, a.City)
	}
	if a.Latitude != 42.067439 || a.Longitude != -93.873498 {
		t.Errorf("coords = %v,%v", a.Latitude, a.Longitude)
	}
	if a.Body != f.narrator.text {
		t.Errorf("body = %q", a.Body)
	}
	if a.Source != headacheText {
		t.Errorf("source = %q", a.Source)
	}
	if _, ok := f.audio.objects["01HEADACHE.mp3"]; !ok {
		t.Error("audio not uploaded under <id>.mp3")
	}

	want := `{"nature":"HEADACHE","address":"1116 1ST ST","city":"BOONE"}`
	if f.narrator.last.Input != want {
		t.Errorf("narration input = %s, want %s", f.narrator.last.Input, want)
	}

	got, _, _ := f.store.GetInstance(context.Background(), inst.ID)
	if got.Status != InstanceCompleted || got.CompletedAt.IsZero() {
		t.Errorf("stored instance = %+v", got)
	}
	for _, name := range StepOrder {
		r := f.store.step(inst.ID, name)
		if r == nil || r.Status != StepCompleted || r.Attempts != 1 {
			t.Errorf("step %s = %+v, want completed after 1 attempt", name, r)
		}
	}
}

func TestRun_RerunDoesNotDuplicate(t *testing.T) {
	t.Parallel()

	f := newFixture()
	e := f.engine(fastRetry(3), EngineHooks{})
	inst := f.instance(t, "01RERUN", "boone@alerts.example", headacheText)

	if rr := e.Run(context.Background(), inst); rr.Status != InstanceCompleted {
		t.Fatalf("first run status = %q", rr.Status)
	}

	// a fresh copy marked active replays every checkpoint
	again := *inst
	again.Status = InstanceActive
	rr := e.Run(context.Background(), &again)
	if rr.Status != InstanceCompleted {
		t.Fatalf("second run status = %q (err %v)", rr.Status, rr.Err)
	}
	if rr.Replayed != len(StepOrder) {
		t.Errorf("replayed = %d, want %d", rr.Replayed, len(StepOrder))
	}
	if f.alerts.Count() != 1 {
		t.Errorf("alerts = %d, want 1", f.alerts.Count())
	}
	if f.narrator.Calls() != 1 || f.synth.Calls() != 1 || f.audio.Puts() != 1 {
		t.Errorf("calls narrate=%d synth=%d put=%d, want 1 each", f.narrator.Calls(), f.synth.Calls(), f.audio.Puts())
	}
}

func TestRun_TerminalInstanceIsNotRerun(t *testing.T) {
	t.Parallel()

	f := newFixture()
	inst := f.instance(t, "01DONE", "boone@alerts.example", headacheText)
	inst.Status = InstanceFailed

	rr := f.engine(fastRetry(3), EngineHooks{}).Run(context.Background(), inst)
	if rr.Status != InstanceFailed {
		t.Errorf("status = %q, want failed", rr.Status)
	}
	if f.narrator.Calls() != 0 {
		t.Errorf("narrator calls = %d, want 0", f.narrator.Calls())
	}
}

func TestRun_UnparseableMakesNoExternalCalls(t *testing.T) {
	t.Parallel()

	f := newFixture()
	inst := f.instance(t, "01BAD", "boone@alerts.example", "UNPARSEABLE")

	rr := f.engine(fastRetry(5), EngineHooks{}).Run(context.Background(), inst)

	if rr.Status != InstanceFailed {
		t.Fatalf("status = %q, want failed", rr.Status)
	}
	if rr.FailedStep != StepParseEmail {
		t.Errorf("failed step = %q, want %q", rr.FailedStep, StepParseEmail)
	}
	var ve *faults.ValidationError
	if !errors.As(rr.Err, &ve) {
		t.Errorf("err = %T %v, want *faults.ValidationError", rr.Err, rr.Err)
	}
	if f.narrator.Calls() != 0 || f.synth.Calls() != 0 || f.audio.Puts() != 0 {
		t.Errorf("external calls narrate=%d synth=%d put=%d, want 0", f.narrator.Calls(), f.synth.Calls(), f.audio.Puts())
	}
	if f.alerts.Count() != 0 {
		t.Errorf("alerts = %d, want 0", f.alerts.Count())
	}

	r := f.store.step(inst.ID, StepParseEmail)
	if r.Status != StepFailed || r.Attempts != 1 {
		t.Errorf("parse_email = %+v, want failed after 1 attempt", r)
	}
	got, _, _ := f.store.GetInstance(context.Background(), inst.ID)
	if got.Status != InstanceFailed || got.Error == "" {
		t.Errorf("stored instance = %+v", got)
	}
}

func TestRun_OrgNotFoundIsTerminal(t *testing.T) {
	t.Parallel()

	f := newFixture()
	inst := f.instance(t, "01NOORG", "nobody@alerts.example", headacheText)

	rr := f.engine(fastRetry(5), EngineHooks{}).Run(context.Background(), inst)

	if rr.Status != InstanceFailed || rr.FailedStep != StepResolveOrg {
		t.Fatalf("status = %q step = %q, want failed at resolve_org", rr.Status, rr.FailedStep)
	}
	var nf *faults.OrgNotFoundError
	if !errors.As(rr.Err, &nf) || nf.Key != "nobody" {
		t.Errorf("err = %v, want OrgNotFoundError for nobody", rr.Err)
	}
	if r := f.store.step(inst.ID, StepResolveOrg); r.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", r.Attempts)
	}
	if f.store.step(inst.ID, StepParseEmail) != nil {
		t.Error("parse_email ran after resolve_org failed")
	}
}

func TestRun_SynthesisFailureWritesNoAlert(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.synth.err = faults.Validation("openai", "input too long")
	inst := f.instance(t, "01NOSYNTH", "boone@alerts.example", headacheText)

	rr := f.engine(fastRetry(5), EngineHooks{}).Run(context.Background(), inst)

	if rr.Status != InstanceFailed || rr.FailedStep != StepSynthesizeAudio {
		t.Fatalf("status = %q step = %q, want failed at synthesize_audio", rr.Status, rr.FailedStep)
	}
	if f.alerts.Count() != 0 {
		t.Errorf("alerts = %d, want 0", f.alerts.Count())
	}
	if f.audio.Puts() != 0 {
		t.Errorf("audio puts = %d, want 0", f.audio.Puts())
	}
}

func TestRun_RetryThenSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.narrator.errs = []error{
		faults.Transient("claude", 529, errors.New("overloaded")),
		faults.Transient("claude", 0, errors.New("connection reset")),
	}
	inst := f.instance(t, "01RETRY", "boone@alerts.example", headacheText)

	var mu sync.Mutex
	outcomes := map[string]int{}
	hooks := EngineHooks{
		OnStep: func(step StepName, outcome string, _ int, _ float64) {
			if step == StepGenerateNarration {
				mu.Lock()
				outcomes[outcome]++
				mu.Unlock()
			}
		},
	}

	rr := f.engine(fastRetry(5), hooks).Run(context.Background(), inst)

	if rr.Status != InstanceCompleted {
		t.Fatalf("status = %q (err %v)", rr.Status, rr.Err)
	}
	if f.narrator.Calls() != 3 {
		t.Errorf("narrator calls = %d, want 3", f.narrator.Calls())
	}
	if r := f.store.step(inst.ID, StepGenerateNarration); r.Attempts != 3 || r.Status != StepCompleted {
		t.Errorf("generate_narration = %+v, want completed after 3 attempts", r)
	}
	if outcomes["error"] != 2 || outcomes["completed"] != 1 {
		t.Errorf("outcomes = %v", outcomes)
	}
}

func TestRun_AttemptCeiling(t *testing.T) {
	t.Parallel()

	f := newFixture()
	transient := faults.Transient("claude", 503, errors.New("unavailable"))
	f.narrator.errs = []error{transient, transient, transient, transient, transient}
	inst := f.instance(t, "01CEILING", "boone@alerts.example", headacheText)

	var complete *CompleteEvent
	hooks := EngineHooks{OnComplete: func(e *CompleteEvent) { complete = e }}

	rr := f.engine(fastRetry(3), hooks).Run(context.Background(), inst)

	if rr.Status != InstanceFailed || rr.FailedStep != StepGenerateNarration {
		t.Fatalf("status = %q step = %q", rr.Status, rr.FailedStep)
	}
	if f.narrator.Calls() != 3 {
		t.Errorf("narrator calls = %d, want 3", f.narrator.Calls())
	}
	if r := f.store.step(inst.ID, StepGenerateNarration); r.Attempts != 3 || r.Status != StepFailed {
		t.Errorf("generate_narration = %+v", r)
	}
	if complete == nil || complete.Status != InstanceFailed || complete.ErrorKind != "transient" {
		t.Errorf("complete event = %+v", complete)
	}
	if f.alerts.Count() != 0 {
		t.Errorf("alerts = %d, want 0", f.alerts.Count())
	}
}

func TestRun_CeilingIncludesPriorAttempts(t *testing.T) {
	t.Parallel()

	f := newFixture()
	inst := f.instance(t, "01PRIOR", "boone@alerts.example", headacheText)

	// a previous process used up every attempt and died mid-step
	now := time.Now()
	if err := f.store.PutStep(context.Background(), &StepResult{
		InstanceID: inst.ID, Name: StepResolveOrg, Status: StepRunning, Attempts: 3, StartedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	rr := f.engine(fastRetry(3), EngineHooks{}).Run(context.Background(), inst)

	if rr.Status != InstanceFailed || !errors.Is(rr.Err, ErrAttemptsExhausted) {
		t.Fatalf("status = %q err = %v, want failed with ErrAttemptsExhausted", rr.Status, rr.Err)
	}
	if r := f.store.step(inst.ID, StepResolveOrg); r.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", r.Attempts)
	}
}

func TestRun_InterruptedThenResumed(t *testing.T) {
	t.Parallel()

	f := newFixture()
	inst := f.instance(t, "01RESUME", "boone@alerts.example", headacheText)
	e := f.engine(fastRetry(5), EngineHooks{})

	// first process is shut down during the upload
	ctx, cancel := context.WithCancel(context.Background())
	f.audio.onPut = func(n int) error {
		if n == 1 {
			cancel()
			return faults.Storage("put object", context.Canceled)
		}
		return nil
	}

	rr := e.Run(ctx, inst)
	if rr.Status != InstanceActive {
		t.Fatalf("interrupted status = %q, want active", rr.Status)
	}
	got, _, _ := f.store.GetInstance(context.Background(), inst.ID)
	if got.Status != InstanceActive {
		t.Fatalf("stored status = %q, want active", got.Status)
	}
	if r := f.store.step(inst.ID, StepSynthesizeAudio); r.Status != StepCompleted {
		t.Errorf("synthesize_audio = %q, want completed", r.Status)
	}
	if r := f.store.step(inst.ID, StepUploadAudio); r.Status != StepPending || r.Attempts != 0 {
		t.Errorf("upload_audio = %q after %d attempts, want pending after 0", r.Status, r.Attempts)
	}
	if f.alerts.Count() != 0 {
		t.Errorf("alerts = %d, want 0", f.alerts.Count())
	}

	// second process resumes with a new context
	rr = e.Run(context.Background(), got)
	if rr.Status != InstanceCompleted {
		t.Fatalf("resumed status = %q (err %v)", rr.Status, rr.Err)
	}
	if rr.Replayed != 4 {
		t.Errorf("replayed = %d, want 4", rr.Replayed)
	}
	if f.narrator.Calls() != 1 || f.synth.Calls() != 1 {
		t.Errorf("narrate=%d synth=%d, want 1 each", f.narrator.Calls(), f.synth.Calls())
	}
	if f.audio.Puts() != 2 {
		t.Errorf("audio puts = %d, want 2", f.audio.Puts())
	}
	if r := f.store.step(inst.ID, StepUploadAudio); r.Attempts != 1 {
		t.Errorf("upload attempts = %d, want 1", r.Attempts)
	}
	if f.alerts.Count() != 1 {
		t.Errorf("alerts = %d, want 1", f.alerts.Count())
	}
}

func TestRun_InterruptedAttemptIsNotCounted(t *testing.T) {
	t.Parallel()

	f := newFixture()
	inst := f.instance(t, "01SHUTDOWN", "boone@alerts.example", headacheText)
	e := f.engine(fastRetry(1), EngineHooks{})

	// every run is cut short mid-upload except the last
	const restarts = 3
	for i := range restarts {
		ctx, cancel := context.WithCancel(context.Background())
		f.audio.onPut = func(int) error {
			cancel()
			return faults.Storage("put object", context.Canceled)
		}
		rr := e.Run(ctx, inst)
		cancel()
		if rr.Status != InstanceActive {
			t.Fatalf("run %d: status = %q (err %v), want active", i, rr.Status, rr.Err)
		}
	}

	f.audio.onPut = nil
	got, _, _ := f.store.GetInstance(context.Background(), inst.ID)
	rr := e.Run(context.Background(), got)
	if rr.Status != InstanceCompleted {
		t.Fatalf("status = %q (err %v), want completed with a single-attempt ceiling", rr.Status, rr.Err)
	}
	if f.audio.Puts() != restarts+1 {
		t.Errorf("audio puts = %d, want %d", f.audio.Puts(), restarts+1)
	}
	if r := f.store.step(inst.ID, StepUploadAudio); r.Attempts != 1 {
		t.Errorf("upload attempts = %d, want 1", r.Attempts)
	}
}

func TestRun_AlertAlreadyPersisted(t *testing.T) {
	t.Parallel()

	f := newFixture()
	inst := f.instance(t, "01DUP", "boone@alerts.example", headacheText)

	// the row exists from an attempt whose checkpoint was lost
	if _, err := f.alerts.InsertAlert(context.Background(), &alert.Alert{AlertID: "01DUP", Organization: "org-boone", Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}

	rr := f.engine(fastRetry(3), EngineHooks{}).Run(context.Background(), inst)
	if rr.Status != InstanceCompleted {
		t.Fatalf("status = %q (err %v)", rr.Status, rr.Err)
	}
	if f.alerts.Count() != 1 {
		t.Errorf("alerts = %d, want 1", f.alerts.Count())
	}
}

func TestRun_CheckpointWriteFailureRetries(t *testing.T) {
	t.Parallel()

	f := newFixture()
	failed := false
	f.store.putErr = func(r *StepResult) error {
		if r.Name == StepSynthesizeAudio && r.Status == StepCompleted && !failed {
			failed = true
			return errors.New("connection lost")
		}
		return nil
	}
	inst := f.instance(t, "01CKPT", "boone@alerts.example", headacheText)

	rr := f.engine(fastRetry(3), EngineHooks{}).Run(context.Background(), inst)
	if rr.Status != InstanceCompleted {
		t.Fatalf("status = %q (err %v)", rr.Status, rr.Err)
	}
	if f.synth.Calls() != 2 {
		t.Errorf("synth calls = %d, want 2", f.synth.Calls())
	}
}

func TestRun_FailedStepStaysFailed(t *testing.T) {
	t.Parallel()

	f := newFixture()
	inst := f.instance(t, "01STUCK", "boone@alerts.example", headacheText)

	now := time.Now()
	if err := f.store.PutStep(context.Background(), &StepResult{
		InstanceID: inst.ID, Name: StepResolveOrg, Status: StepFailed, Attempts: 1,
		Error: "organization not found", StartedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	rr := f.engine(fastRetry(3), EngineHooks{}).Run(context.Background(), inst)
	if rr.Status != InstanceFailed || rr.FailedStep != StepResolveOrg {
		t.Errorf("status = %q step = %q", rr.Status, rr.FailedStep)
	}
	if f.narrator.Calls() != 0 {
		t.Errorf("narrator calls = %d, want 0", f.narrator.Calls())
	}
}

func TestRun_SourceMode(t *testing.T) {
	t.Parallel()

	f := newFixture()
	inst := f.instance(t, "01SRC", "boone@alerts.example", headacheText)
	e := NewEngine(f.store, Deps{
		Orgs:        org.NewResolver(f.alerts),
		Narrator:    f.narrator,
		Synthesizer: f.synth,
		Audio:       f.audio,
		Alerts:      f.alerts,
	}, Options{Mode: narration.ModeSource, Retry: fastRetry(3)}, log.Nop(), EngineHooks{})

	if rr := e.Run(context.Background(), inst); rr.Status != InstanceCompleted {
		t.Fatalf("status = %q (err %v)", rr.Status, rr.Err)
	}
	if f.narrator.last.Input != headacheText {
		t.Errorf("input = %q, want raw text", f.narrator.last.Input)
	}
	if f.narrator.last.Instructions != narration.SourceInstructions {
		t.Error("source mode did not use SourceInstructions")
	}
}

func TestNewEngine_PanicsOnMissingDeps(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("NewEngine with missing deps did not panic")
		}
	}()
	NewEngine(newTestStore(), Deps{}, Options{}, nil, EngineHooks{})
}

func TestRun_CreatesStepSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	f := newFixture()
	inst := f.instance(t, "01SPAN", "boone@alerts.example", headacheText)
	if rr := f.engine(fastRetry(3), EngineHooks{}).Run(context.Background(), inst); rr.Status != InstanceCompleted {
		t.Fatalf("status = %q", rr.Status)
	}

	counts := make(map[string]int)
	for _, s := range exporter.GetSpans() {
		counts[s.Name]++
		if s.Name != "workflow.step "+string(StepResolveOrg) {
			continue
		}
		attrs := make(map[string]any)
		for _, a := range s.Attributes {
			attrs[string(a.Key)] = a.Value.AsInterface()
		}
		if v := attrs["prealert.instance.id"]; v != "01SPAN" {
			t.Errorf("prealert.instance.id = %v, want 01SPAN", v)
		}
		if v := attrs["prealert.step.attempt"]; v != int64(1) {
			t.Errorf("prealert.step.attempt = %v, want 1", v)
		}
	}
	for _, name := range StepOrder {
		if counts["workflow.step "+string(name)] != 1 {
			t.Errorf("spans for %s = %d, want 1", name, counts["workflow.step "+string(name)])
		}
	}
}
