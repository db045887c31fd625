package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chainsentry/reactor/adapter"
	"github.com/chainsentry/reactor/guardrail"
	"github.com/chainsentry/reactor/idempotency"
	"github.com/chainsentry/reactor/model"
	"github.com/chainsentry/reactor/playbook"
)

const (
	DuplicateWait     = "wait"
	DuplicateFailFast = "fail-fast"
)

type AuditSink interface {
	Record(entry *model.AuditEntry) error
}

type DBAuditSink struct{}

func (DBAuditSink) Record(entry *model.AuditEntry) error {
	return entry.Insert()
}

type ExecutionStore interface {
	Save(ec *model.ExecutionContext) error
	Get(executionID string) (*model.ExecutionContext, error)
}

type DBExecutionStore struct{}

func (DBExecutionStore) Save(ec *model.ExecutionContext) error {
	return ec.Save()
}

func (DBExecutionStore) Get(executionID string) (*model.ExecutionContext, error) {
	return model.GetExecutionContext(executionID)
}

type Options struct {
	Registry        *playbook.Registry
	Adapters        *adapter.Registry
	Simulator       *adapter.Simulator
	Store           idempotency.Store
	Audit           AuditSink
	Executions      ExecutionStore
	Locker          EntityLocker
	Policy          guardrail.Policy
	DefaultMode     model.ExecutionMode
	DuplicatePolicy string
	DuplicateWait   time.Duration
	StepTimeout     time.Duration
	Ceiling         time.Duration
	StaleAfter      time.Duration
}

// Engine drives alerts through their matching playbooks. Steps within one
// execution run strictly in order; independent executions run concurrently.
type Engine struct {
	registry  *playbook.Registry
	adapters  *adapter.Registry
	simulator *adapter.Simulator
	store     idempotency.Store
	audit     AuditSink
	execs     ExecutionStore
	locker    EntityLocker
	policy    guardrail.Policy

	defaultMode model.ExecutionMode
	dupPolicy   string
	dupWait     time.Duration
	stepTimeout time.Duration
	ceiling     time.Duration
	staleAfter  time.Duration

	cancels sync.Map
}

func NewEngine(opts Options) *Engine {
	if opts.Simulator == nil {
		opts.Simulator = adapter.NewSimulator()
	}
	if opts.Audit == nil {
		opts.Audit = DBAuditSink{}
	}
	if opts.Executions == nil {
		opts.Executions = DBExecutionStore{}
	}
	if opts.Locker == nil {
		opts.Locker = NewLocalLocker()
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = model.ModeLive
	}
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = DuplicateWait
	}
	if opts.DuplicateWait <= 0 {
		opts.DuplicateWait = 10 * time.Second
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 30 * time.Second
	}
	if opts.Ceiling <= 0 {
		opts.Ceiling = 2 * time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	return &Engine{
		registry:    opts.Registry,
		adapters:    opts.Adapters,
		simulator:   opts.Simulator,
		store:       opts.Store,
		audit:       opts.Audit,
		execs:       opts.Executions,
		locker:      opts.Locker,
		policy:      opts.Policy,
		defaultMode: opts.DefaultMode,
		dupPolicy:   opts.DuplicatePolicy,
		dupWait:     opts.DuplicateWait,
		stepTimeout: opts.StepTimeout,
		ceiling:     opts.Ceiling,
		staleAfter:  opts.StaleAfter,
	}
}

// Handle runs one alert through every matching playbook and returns the
// resulting execution contexts, all of them in a terminal state. Step-level
// failures never escape as errors; they land in the audit trail and status.
func (e *Engine) Handle(ctx context.Context, alert model.Alert, mode model.ExecutionMode) []*model.ExecutionContext {
	if mode == "" {
		mode = e.defaultMode
	}
	matched := e.registry.Snapshot().Resolve(alert)
	if len(matched) == 0 {
		e.record(&model.AuditEntry{
			ExecutionID: uuid.NewString(),
			AlertID:     alert.AlertID,
			StepIndex:   -1,
			Decision:    model.DecisionNoPlaybook,
			Detail:      fmt.Sprintf("no playbook matched alert %s from %s", alert.AlertID, alert.Source),
		})
		logrus.Infof("no playbook matched alert %s", alert.AlertID)
		return nil
	}

	contexts := make([]*model.ExecutionContext, 0, len(matched))
	for _, pb := range matched {
		ec := e.newExecution(alert, pb, mode)
		e.runFrom(ctx, ec, pb, alert)
		contexts = append(contexts, ec)
	}
	return contexts
}

func (e *Engine) newExecution(alert model.Alert, pb *playbook.Playbook, mode model.ExecutionMode) *model.ExecutionContext {
	ec := &model.ExecutionContext{
		ExecutionID:     uuid.NewString(),
		AlertID:         alert.AlertID,
		EntityRef:       alert.EntityRef,
		PlaybookID:      pb.PlaybookID,
		PlaybookVersion: pb.Version,
		Mode:            mode,
		Status:          model.StatusPending,
		CreatedAt:       time.Now(),
	}
	if err := ec.ComposeData(alert); err != nil {
		logrus.Errorf("compose execution data is err: %v", err)
	}
	e.saveExecution(ec)
	return ec
}

// Approve attaches an out-of-band approval token to a blocked execution and
// resumes it from the step that required approval.
func (e *Engine) Approve(ctx context.Context, executionID, token string) error {
	if token == "" {
		return fmt.Errorf("approval token must not be empty")
	}
	ec, err := e.execs.Get(executionID)
	if err != nil {
		return fmt.Errorf("load execution %s is err: %v", executionID, err)
	}
	if ec.Status != model.StatusBlocked || ec.StatusReason != model.ReasonApprovalRequired {
		return fmt.Errorf("execution %s is %s (%s), not awaiting approval", executionID, ec.Status, ec.StatusReason)
	}
	pb, ok := e.registry.Lookup(ec.PlaybookID, ec.PlaybookVersion)
	if !ok {
		return fmt.Errorf("playbook %s is no longer registered", ec.PlaybookID)
	}
	alert, err := ec.Alert()
	if err != nil {
		return err
	}
	ec.ApprovalToken = token
	e.runFrom(ctx, ec, pb, alert)
	return nil
}

// Cancel requests cooperative cancellation; it takes effect at the next step
// boundary, never mid-adapter-call.
func (e *Engine) Cancel(executionID string) error {
	flag, ok := e.cancels.Load(executionID)
	if !ok {
		return fmt.Errorf("execution %s is not running", executionID)
	}
	flag.(*atomic.Bool).Store(true)
	return nil
}

// Status loads an execution by id.
func (e *Engine) Status(executionID string) (*model.ExecutionContext, error) {
	return e.execs.Get(executionID)
}

func (e *Engine) saveExecution(ec *model.ExecutionContext) {
	if err := e.execs.Save(ec); err != nil {
		logrus.Errorf("persist execution %s is err: %v", ec.ExecutionID, err)
	}
}

func (e *Engine) record(entry *model.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if err := e.audit.Record(entry); err != nil {
		logrus.Errorf("write audit entry for execution %s is err: %v", entry.ExecutionID, err)
	}
}

func (e *Engine) finish(ec *model.ExecutionContext, status model.ExecutionStatus, reason string) {
	ec.Status = status
	ec.StatusReason = reason
	e.saveExecution(ec)
	logrus.Infof("execution %s for alert %s finished %s %s", ec.ExecutionID, ec.AlertID, status, reason)
}
