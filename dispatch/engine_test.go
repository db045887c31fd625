package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsentry/reactor/adapter"
	"github.com/chainsentry/reactor/guardrail"
	"github.com/chainsentry/reactor/idempotency"
	"github.com/chainsentry/reactor/model"
	"github.com/chainsentry/reactor/playbook"
	"github.com/chainsentry/reactor/utils"
)

type memoryAudit struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func (m *memoryAudit) Record(entry *model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryAudit) byDecision(decision string) []model.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.AuditEntry{}
	for _, entry := range m.entries {
		if entry.Decision == decision {
			out = append(out, entry)
		}
	}
	return out
}

type memoryExecs struct {
	mu    sync.Mutex
	items map[string]*model.ExecutionContext
}

func newMemoryExecs() *memoryExecs {
	return &memoryExecs{items: map[string]*model.ExecutionContext{}}
}

func (m *memoryExecs) Save(ec *model.ExecutionContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[ec.ExecutionID] = ec
	return nil
}

func (m *memoryExecs) Get(executionID string) (*model.ExecutionContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ec, ok := m.items[executionID]
	if !ok {
		return nil, os.ErrNotExist
	}
	return ec, nil
}

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) Notify(context.Context, string, string) error {
	n.calls.Add(1)
	return nil
}

type scriptedFreezer struct {
	mu                sync.Mutex
	calls             int
	transientFailures int
}

func (f *scriptedFreezer) Freeze(context.Context, string, string) (adapter.FreezeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.transientFailures {
		return "", adapter.Transient("freeze api timed out")
	}
	return adapter.FreezeConfirmed, nil
}

func (f *scriptedFreezer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingEscalator struct {
	calls atomic.Int32
}

func (e *failingEscalator) Escalate(context.Context, string, string) (string, error) {
	e.calls.Add(1)
	return "", adapter.Permanent("ticketing rejected the request")
}

type countingRoller struct {
	calls atomic.Int32
	fail  bool
}

func (r *countingRoller) Rollback(context.Context, string, string) error {
	r.calls.Add(1)
	if r.fail {
		return adapter.Permanent("rollback rejected")
	}
	return nil
}

type fixedReconciler struct {
	state adapter.ReconcileState
}

func (r *fixedReconciler) Reconcile(context.Context, string, playbook.StepKind) (adapter.ReconcileState, error) {
	return r.state, nil
}

const notifyFreezePlaybook = `
playbook_id: freeze-high-risk
version: "1"
match:
  min_severity: high
  source: compliance
steps:
  - kind: notify
    target: ops-alerts
    retry:
      max_attempts: 2
      base_delay_ms: 10
  - kind: freeze
    target: entity
    timeout_seconds: 1
    retry:
      max_attempts: 3
      base_delay_ms: 10
      max_delay_ms: 50
`

const notifyOnlyPlaybook = `
playbook_id: notify-any
version: "1"
match:
  min_severity: low
steps:
  - kind: notify
    target: ops-alerts
    retry:
      max_attempts: 2
      base_delay_ms: 10
`

const escalateRollbackPlaybook = `
playbook_id: escalate-mev
version: "1"
match:
  min_severity: medium
steps:
  - kind: escalate
    target: entity
    retry:
      max_attempts: 1
  - kind: rollback
    target: entity
    retry:
      max_attempts: 1
`

type testHarness struct {
	engine *Engine
	audit  *memoryAudit
	store  *idempotency.MemoryStore
	sim    *adapter.Simulator
}

func newTestEngine(t *testing.T, files map[string]string, adapters *adapter.Registry, mutate func(*Options)) *testHarness {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	registry, err := playbook.NewRegistry(dir, nil)
	require.NoError(t, err)

	h := &testHarness{
		audit: &memoryAudit{},
		store: idempotency.NewMemoryStore(),
		sim:   adapter.NewSimulator(),
	}
	opts := Options{
		Registry:      registry,
		Adapters:      adapters,
		Simulator:     h.sim,
		Store:         h.store,
		Audit:         h.audit,
		Executions:    newMemoryExecs(),
		Policy:        guardrail.NewPolicy(nil),
		DuplicateWait: 3 * time.Second,
		StepTimeout:   time.Second,
		Ceiling:       30 * time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.engine = NewEngine(opts)
	return h
}

func highRiskAlert(id string) model.Alert {
	return model.Alert{
		AlertID:    id,
		Source:     "compliance",
		Severity:   model.SeverityHigh,
		EntityRef:  "0xabc",
		DetectedAt: time.Now(),
		Payload:    map[string]string{"amount": "25000"},
	}
}

// Scenario: live mode, no approval token. Notify succeeds, the freeze step
// requires approval and blocks the execution.
func TestLiveFreezeBlocksWithoutApproval(t *testing.T) {
	notifier := &countingNotifier{}
	freezer := &scriptedFreezer{}
	h := newTestEngine(t, map[string]string{"pb.yaml": notifyFreezePlaybook},
		&adapter.Registry{Notify: notifier, Freeze: freezer}, nil)

	contexts := h.engine.Handle(context.Background(), highRiskAlert("a1"), model.ModeLive)
	require.Len(t, contexts, 1)

	ec := contexts[0]
	assert.Equal(t, model.StatusBlocked, ec.Status)
	assert.Equal(t, model.ReasonApprovalRequired, ec.StatusReason)
	assert.Equal(t, int32(1), notifier.calls.Load())
	assert.Equal(t, 0, freezer.callCount())
	assert.Len(t, h.audit.byDecision(model.DecisionExecuted), 1)
	assert.Len(t, h.audit.byDecision(model.DecisionApprovalRequired), 1)
}

func TestApprovalUnblocksAndCompletes(t *testing.T) {
	notifier := &countingNotifier{}
	freezer := &scriptedFreezer{}
	h := newTestEngine(t, map[string]string{"pb.yaml": notifyFreezePlaybook},
		&adapter.Registry{Notify: notifier, Freeze: freezer}, nil)

	contexts := h.engine.Handle(context.Background(), highRiskAlert("a1"), model.ModeLive)
	require.Len(t, contexts, 1)
	ec := contexts[0]
	require.Equal(t, model.StatusBlocked, ec.Status)

	require.NoError(t, h.engine.Approve(context.Background(), ec.ExecutionID, "op-7f3"))
	assert.Equal(t, model.StatusCompleted, ec.Status)
	assert.Equal(t, 1, freezer.callCount())
	// the notify step is not re-executed on resume
	assert.Equal(t, int32(1), notifier.calls.Load())
}

// Scenario: the same alert redelivered three times concurrently converges to
// one adapter call and one shared terminal outcome.
func TestConcurrentRedeliveryConverges(t *testing.T) {
	notifier := &countingNotifier{}
	h := newTestEngine(t, map[string]string{"pb.yaml": notifyOnlyPlaybook},
		&adapter.Registry{Notify: notifier}, nil)

	var mu sync.Mutex
	contexts := []*model.ExecutionContext{}
	wg := sync.WaitGroup{}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := h.engine.Handle(context.Background(), highRiskAlert("a1"), model.ModeLive)
			mu.Lock()
			contexts = append(contexts, got...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, contexts, 3)
	assert.Equal(t, int32(1), notifier.calls.Load())
	for _, ec := range contexts {
		assert.Equal(t, model.StatusCompleted, ec.Status)
		require.Len(t, ec.StepResults, 1)
		assert.Equal(t, "acked", ec.StepResults[0].Outcome)
	}
}

func TestConcurrentApprovalsFreezeOnce(t *testing.T) {
	notifier := &countingNotifier{}
	freezer := &scriptedFreezer{}
	h := newTestEngine(t, map[string]string{"pb.yaml": notifyFreezePlaybook},
		&adapter.Registry{Notify: notifier, Freeze: freezer}, nil)

	contexts := []*model.ExecutionContext{}
	for i := 0; i < 3; i++ {
		contexts = append(contexts, h.engine.Handle(context.Background(), highRiskAlert("a1"), model.ModeLive)...)
	}
	require.Len(t, contexts, 3)

	wg := sync.WaitGroup{}
	for _, ec := range contexts {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, h.engine.Approve(context.Background(), id, "op-7f3"))
		}(ec.ExecutionID)
	}
	wg.Wait()

	assert.Equal(t, 1, freezer.callCount())
	for _, ec := range contexts {
		assert.Equal(t, model.StatusCompleted, ec.Status)
	}
}

// Scenario: dry run over [notify, freeze] records two simulated outcomes and
// makes zero adapter calls.
func TestDryRunNeverTouchesAdapters(t *testing.T) {
	notifier := &countingNotifier{}
	freezer := &scriptedFreezer{}
	h := newTestEngine(t, map[string]string{"pb.yaml": notifyFreezePlaybook},
		&adapter.Registry{Notify: notifier, Freeze: freezer}, nil)

	contexts := h.engine.Handle(context.Background(), highRiskAlert("a1"), model.ModeDryRun)
	require.Len(t, contexts, 1)

	ec := contexts[0]
	assert.Equal(t, model.StatusCompleted, ec.Status)
	assert.Equal(t, int32(0), notifier.calls.Load())
	assert.Equal(t, 0, freezer.callCount())
	assert.Len(t, h.audit.byDecision(model.DecisionSimulated), 2)
	assert.Len(t, h.sim.Calls(), 2)
	for _, result := range ec.StepResults {
		assert.True(t, result.Simulated)
	}

	// a dry run leaves no fingerprints behind
	stale, err := h.store.StaleReservations(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

// Scenario: freeze times out twice then succeeds under max_attempts=3. The
// step never fails and the fingerprint is reused across attempts.
func TestTransientFreezeFailuresAreRetried(t *testing.T) {
	notifier := &countingNotifier{}
	freezer := &scriptedFreezer{transientFailures: 2}
	h := newTestEngine(t, map[string]string{"pb.yaml": notifyFreezePlaybook},
		&adapter.Registry{Notify: notifier, Freeze: freezer}, nil)

	contexts := h.engine.Handle(context.Background(), highRiskAlert("a1"), model.ModeLive)
	require.Len(t, contexts, 1)
	require.NoError(t, h.engine.Approve(context.Background(), contexts[0].ExecutionID, "op-7f3"))

	assert.Equal(t, model.StatusCompleted, contexts[0].Status)
	assert.Equal(t, 3, freezer.callCount())
	assert.Empty(t, h.audit.byDecision(model.DecisionStepFailed))

	executed := h.audit.byDecision(model.DecisionExecuted)
	require.Len(t, executed, 2)
	assert.Equal(t, 3, executed[1].Attempts)
	assert.Equal(t, "confirmed", executed[1].AdapterResult)
}

func TestPermanentFailureIsCompensatedByRollback(t *testing.T) {
	escalator := &failingEscalator{}
	roller := &countingRoller{}
	h := newTestEngine(t, map[string]string{"pb.yaml": escalateRollbackPlaybook},
		&adapter.Registry{Escalate: escalator, Rollback: roller}, nil)

	contexts := h.engine.Handle(context.Background(), highRiskAlert("a1"), model.ModeLive)
	require.Len(t, contexts, 1)

	ec := contexts[0]
	assert.Equal(t, model.StatusCompleted, ec.Status)
	assert.Contains(t, ec.StatusReason, "compensated by rollback")
	assert.Equal(t, int32(1), escalator.calls.Load())
	assert.Equal(t, int32(1), roller.calls.Load())
	assert.Len(t, h.audit.byDecision(model.DecisionStepFailed), 1)
}

func TestFailedRollbackFailsTheExecution(t *testing.T) {
	escalator := &failingEscalator{}
	roller := &countingRoller{fail: true}
	h := newTestEngine(t, map[string]string{"pb.yaml": escalateRollbackPlaybook},
		&adapter.Registry{Escalate: escalator, Rollback: roller}, nil)

	contexts := h.engine.Handle(context.Background(), highRiskAlert("a1"), model.ModeLive)
	require.Len(t, contexts, 1)
	assert.Equal(t, model.StatusFailed, contexts[0].Status)
}

func TestProtectedEntityBlocksExecution(t *testing.T) {
	freezer := &scriptedFreezer{}
	h := newTestEngine(t, map[string]string{"pb.yaml": notifyFreezePlaybook},
		&adapter.Registry{Notify: &countingNotifier{}, Freeze: freezer},
		func(opts *Options) {
			opts.Policy = guardrail.NewPolicy([]string{"0xabc"})
		})

	contexts := h.engine.Handle(context.Background(), highRiskAlert("a1"), model.ModeLive)
	require.Len(t, contexts, 1)
	assert.Equal(t, model.StatusBlocked, contexts[0].Status)
	assert.Equal(t, 0, freezer.callCount())
	assert.Len(t, h.audit.byDecision(model.DecisionDenied), 1)
}

func TestNoMatchingPlaybookIsAuditedNotFailed(t *testing.T) {
	h := newTestEngine(t, map[string]string{"pb.yaml": notifyFreezePlaybook},
		&adapter.Registry{Notify: &countingNotifier{}}, nil)

	alert := highRiskAlert("a1")
	alert.Severity = model.SeverityLow
	contexts := h.engine.Handle(context.Background(), alert, model.ModeLive)

	assert.Empty(t, contexts)
	assert.Len(t, h.audit.byDecision(model.DecisionNoPlaybook), 1)
}

func TestCeilingForceFailsRemainingSteps(t *testing.T) {
	notifier := &countingNotifier{}
	h := newTestEngine(t, map[string]string{"pb.yaml": notifyOnlyPlaybook},
		&adapter.Registry{Notify: notifier},
		func(opts *Options) {
			opts.Ceiling = time.Nanosecond
		})

	contexts := h.engine.Handle(context.Background(), highRiskAlert("a1"), model.ModeLive)
	require.Len(t, contexts, 1)
	assert.Equal(t, model.StatusFailed, contexts[0].Status)
	assert.Equal(t, model.ReasonCeilingExceeded, contexts[0].StatusReason)
	assert.Equal(t, int32(0), notifier.calls.Load())
}

func TestFailFastSkipsInFlightDuplicates(t *testing.T) {
	notifier := &countingNotifier{}
	h := newTestEngine(t, map[string]string{"pb.yaml": notifyOnlyPlaybook},
		&adapter.Registry{Notify: notifier},
		func(opts *Options) {
			opts.DuplicatePolicy = DuplicateFailFast
		})

	alert := highRiskAlert("a1")
	fingerprint := utils.Fingerprint(alert.AlertID, "notify-any", 0, "ops-alerts")
	_, err := h.store.CheckAndReserve(context.Background(), fingerprint, idempotency.Meta{})
	require.NoError(t, err)

	contexts := h.engine.Handle(context.Background(), alert, model.ModeLive)
	require.Len(t, contexts, 1)
	assert.Equal(t, model.StatusCompleted, contexts[0].Status)
	assert.Equal(t, int32(0), notifier.calls.Load())
	assert.Len(t, h.audit.byDecision(model.DecisionSkippedDuplicate), 1)
}

func TestCancelUnknownExecution(t *testing.T) {
	h := newTestEngine(t, map[string]string{"pb.yaml": notifyOnlyPlaybook},
		&adapter.Registry{Notify: &countingNotifier{}}, nil)
	assert.Error(t, h.engine.Cancel("missing"))
}

func TestRecoverCommitsAppliedOutcomes(t *testing.T) {
	h := newTestEngine(t, map[string]string{"pb.yaml": notifyFreezePlaybook},
		&adapter.Registry{Reconcile: &fixedReconciler{state: adapter.ReconcileApplied}},
		func(opts *Options) {
			opts.StaleAfter = time.Millisecond
		})

	meta := idempotency.Meta{AlertID: "a1", EntityRef: "0xabc", StepKind: "freeze"}
	_, err := h.store.CheckAndReserve(context.Background(), "fp-crash", meta)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, h.engine.Recover(context.Background()))

	check, err := h.store.CheckAndReserve(context.Background(), "fp-crash", meta)
	require.NoError(t, err)
	assert.Equal(t, idempotency.AlreadyCompleted, check.State)
	assert.Equal(t, "reconciled_applied", check.Outcome)
	assert.Len(t, h.audit.byDecision(model.DecisionReconciled), 1)
}

func TestRecoverReleasesAbsentOutcomes(t *testing.T) {
	h := newTestEngine(t, map[string]string{"pb.yaml": notifyFreezePlaybook},
		&adapter.Registry{Reconcile: &fixedReconciler{state: adapter.ReconcileAbsent}},
		func(opts *Options) {
			opts.StaleAfter = time.Millisecond
		})

	meta := idempotency.Meta{AlertID: "a1", EntityRef: "0xabc", StepKind: "freeze"}
	_, err := h.store.CheckAndReserve(context.Background(), "fp-crash", meta)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, h.engine.Recover(context.Background()))

	// the step becomes executable again
	check, err := h.store.CheckAndReserve(context.Background(), "fp-crash", meta)
	require.NoError(t, err)
	assert.Equal(t, idempotency.Reserved, check.State)
}
