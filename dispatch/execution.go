package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chainsentry/reactor/adapter"
	"github.com/chainsentry/reactor/guardrail"
	"github.com/chainsentry/reactor/idempotency"
	"github.com/chainsentry/reactor/model"
	"github.com/chainsentry/reactor/playbook"
	"github.com/chainsentry/reactor/utils"
)

type stepDisposition int

const (
	stepOK stepDisposition = iota
	stepBlocked
	stepFailed
)

type stepOutcome struct {
	disposition stepDisposition
	result      model.StepResult
	reason      string
}

// runFrom drives the execution from its current step index to a terminal
// state. Steps run strictly sequentially; rollback steps are compensation
// and are skipped in the forward pass.
func (e *Engine) runFrom(ctx context.Context, ec *model.ExecutionContext, pb *playbook.Playbook, alert model.Alert) {
	flag := &atomic.Bool{}
	e.cancels.Store(ec.ExecutionID, flag)
	defer e.cancels.Delete(ec.ExecutionID)

	ec.Status = model.StatusRunning
	e.saveExecution(ec)

	ceiling := e.ceiling
	if pb.CeilingSeconds > 0 {
		ceiling = time.Duration(pb.CeilingSeconds) * time.Second
	}
	deadline := time.Now().Add(ceiling)

	for i := ec.CurrentStepIndex; i < len(pb.Steps); i++ {
		ec.CurrentStepIndex = i
		step := pb.Steps[i]
		if step.Kind == playbook.KindRollback {
			continue
		}
		if flag.Load() {
			e.record(&model.AuditEntry{
				ExecutionID: ec.ExecutionID, AlertID: ec.AlertID, PlaybookID: pb.PlaybookID,
				StepIndex: i, StepKind: string(step.Kind), Decision: model.DecisionCancelled,
			})
			e.finish(ec, model.StatusFailed, model.ReasonCancelled)
			return
		}
		if !time.Now().Before(deadline) {
			e.record(&model.AuditEntry{
				ExecutionID: ec.ExecutionID, AlertID: ec.AlertID, PlaybookID: pb.PlaybookID,
				StepIndex: i, StepKind: string(step.Kind), Decision: model.DecisionCeiling,
				Detail: fmt.Sprintf("ceiling of %s exceeded, remaining steps force-failed", ceiling),
			})
			e.finish(ec, model.StatusFailed, model.ReasonCeilingExceeded)
			return
		}

		outcome := e.runStep(ctx, ec, pb, alert, step, i, deadline)
		switch outcome.disposition {
		case stepOK:
			ec.StepResults = append(ec.StepResults, outcome.result)
			e.saveExecution(ec)
		case stepBlocked:
			e.finish(ec, model.StatusBlocked, outcome.reason)
			return
		case stepFailed:
			ec.StepResults = append(ec.StepResults, outcome.result)
			if rbStep, rbIndex, ok := pb.RollbackStep(i); ok {
				rbOutcome := e.runStep(ctx, ec, pb, alert, rbStep, rbIndex, deadline)
				ec.StepResults = append(ec.StepResults, rbOutcome.result)
				if rbOutcome.disposition == stepOK {
					e.finish(ec, model.StatusCompleted, fmt.Sprintf("step %d compensated by rollback", i))
					return
				}
			}
			e.finish(ec, model.StatusFailed, outcome.reason)
			return
		}
	}
	e.finish(ec, model.StatusCompleted, "")
}

func (e *Engine) runStep(ctx context.Context, ec *model.ExecutionContext, pb *playbook.Playbook, alert model.Alert, step playbook.Step, index int, deadline time.Time) stepOutcome {
	target := step.ResolveTarget(alert)
	summary := composeSummary(alert, pb, step)

	result := model.StepResult{
		StepIndex: index,
		Kind:      string(step.Kind),
		Target:    target,
	}

	// Dry runs never touch the idempotency ledger: committing simulated
	// fingerprints would make a later live run replay them.
	if ec.Mode == model.ModeDryRun {
		verdict := guardrail.Evaluate(step, ec, e.policy)
		out, _ := e.simulator.Invoke(ctx, step.Kind, target, alert.EntityRef, summary)
		e.record(&model.AuditEntry{
			ExecutionID: ec.ExecutionID, AlertID: ec.AlertID, PlaybookID: pb.PlaybookID,
			StepIndex: index, StepKind: string(step.Kind), Decision: model.DecisionSimulated,
			GuardRailResult: verdict.String(), AdapterResult: out, Attempts: 1, Simulated: true,
		})
		result.Outcome = out
		result.Attempts = 1
		result.Simulated = true
		result.CompletedAt = time.Now()
		return stepOutcome{disposition: stepOK, result: result}
	}

	fingerprint := utils.Fingerprint(alert.AlertID, pb.PlaybookID, index, target)
	meta := idempotency.Meta{AlertID: alert.AlertID, EntityRef: alert.EntityRef, StepKind: string(step.Kind)}

	check, err := e.store.CheckAndReserve(ctx, fingerprint, meta)
	if err != nil {
		return e.failStep(ec, pb, step, index, result, 0, fmt.Sprintf("reserve step is err: %v", err))
	}

	if check.State == idempotency.InFlightByOther {
		check, err = e.awaitDuplicate(ctx, fingerprint, meta, deadline)
		if err != nil {
			if errors.Is(err, errDuplicateSkipped) {
				e.record(&model.AuditEntry{
					ExecutionID: ec.ExecutionID, AlertID: ec.AlertID, PlaybookID: pb.PlaybookID,
					StepIndex: index, StepKind: string(step.Kind), Decision: model.DecisionSkippedDuplicate,
				})
				result.Outcome = model.DecisionSkippedDuplicate
				result.CompletedAt = time.Now()
				return stepOutcome{disposition: stepOK, result: result}
			}
			return e.failStep(ec, pb, step, index, result, 0, fmt.Sprintf("wait for duplicate is err: %v", err))
		}
	}

	// Replay safety: a completed fingerprint short-circuits without any
	// adapter call, no matter how often the alert is redelivered.
	if check.State == idempotency.AlreadyCompleted {
		e.record(&model.AuditEntry{
			ExecutionID: ec.ExecutionID, AlertID: ec.AlertID, PlaybookID: pb.PlaybookID,
			StepIndex: index, StepKind: string(step.Kind), Decision: model.DecisionReplayed,
			AdapterResult: check.Outcome,
		})
		result.Outcome = check.Outcome
		result.Detail = "reused prior outcome"
		result.CompletedAt = time.Now()
		return stepOutcome{disposition: stepOK, result: result}
	}

	verdict := guardrail.Evaluate(step, ec, e.policy)
	switch verdict.Verdict {
	case guardrail.Deny:
		e.releaseQuietly(ctx, fingerprint)
		e.record(&model.AuditEntry{
			ExecutionID: ec.ExecutionID, AlertID: ec.AlertID, PlaybookID: pb.PlaybookID,
			StepIndex: index, StepKind: string(step.Kind), Decision: model.DecisionDenied,
			GuardRailResult: verdict.String(),
		})
		return stepOutcome{disposition: stepBlocked, reason: verdict.String()}
	case guardrail.RequireApproval:
		e.releaseQuietly(ctx, fingerprint)
		e.record(&model.AuditEntry{
			ExecutionID: ec.ExecutionID, AlertID: ec.AlertID, PlaybookID: pb.PlaybookID,
			StepIndex: index, StepKind: string(step.Kind), Decision: model.DecisionApprovalRequired,
			GuardRailResult: verdict.String(),
		})
		return stepOutcome{disposition: stepBlocked, reason: model.ReasonApprovalRequired}
	}

	var release func()
	if step.Irreversible {
		release, err = e.locker.Acquire(ctx, alert.EntityRef)
		if err != nil {
			e.releaseQuietly(ctx, fingerprint)
			return e.failStep(ec, pb, step, index, result, 0, err.Error())
		}
	}

	outcome, attempts, err := e.invokeWithRetry(ctx, step, target, alert.EntityRef, summary, deadline)
	if err != nil {
		e.releaseQuietly(ctx, fingerprint)
		if release != nil {
			release()
		}
		return e.failStep(ec, pb, step, index, result, attempts, err.Error())
	}

	if err := e.store.Commit(ctx, fingerprint, outcome); err != nil {
		logrus.Errorf("commit fingerprint for execution %s step %d is err: %v", ec.ExecutionID, index, err)
	}
	if release != nil {
		release()
	}

	e.record(&model.AuditEntry{
		ExecutionID: ec.ExecutionID, AlertID: ec.AlertID, PlaybookID: pb.PlaybookID,
		StepIndex: index, StepKind: string(step.Kind), Decision: model.DecisionExecuted,
		GuardRailResult: verdict.String(), AdapterResult: outcome, Attempts: attempts,
	})
	result.Outcome = outcome
	result.Attempts = attempts
	result.CompletedAt = time.Now()
	return stepOutcome{disposition: stepOK, result: result}
}

var errDuplicateSkipped = errors.New("duplicate execution skipped")

// awaitDuplicate handles a fingerprint held by a concurrent execution. In
// wait mode it polls until the winner commits, releases, or the budget
// lapses; in fail-fast mode it short-circuits immediately.
func (e *Engine) awaitDuplicate(ctx context.Context, fingerprint string, meta idempotency.Meta, deadline time.Time) (idempotency.CheckResult, error) {
	if e.dupPolicy == DuplicateFailFast {
		return idempotency.CheckResult{}, errDuplicateSkipped
	}
	waitDeadline := time.Now().Add(e.dupWait)
	if waitDeadline.After(deadline) {
		waitDeadline = deadline
	}
	for {
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return idempotency.CheckResult{}, ctx.Err()
		}
		check, err := e.store.CheckAndReserve(ctx, fingerprint, meta)
		if err != nil {
			return idempotency.CheckResult{}, err
		}
		if check.State != idempotency.InFlightByOther {
			return check, nil
		}
		if !time.Now().Before(waitDeadline) {
			return idempotency.CheckResult{}, fmt.Errorf("fingerprint %s still in flight after %s", fingerprint, e.dupWait)
		}
	}
}

// invokeWithRetry applies the step's bounded backoff. Every attempt reuses
// the same fingerprint; only transient failures are retried.
func (e *Engine) invokeWithRetry(ctx context.Context, step playbook.Step, target, entityRef, summary string, deadline time.Time) (string, int, error) {
	timeout := e.stepTimeout
	if step.TimeoutSeconds > 0 {
		timeout = time.Duration(step.TimeoutSeconds) * time.Second
	}

	attempts := 0
	for {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		outcome, err := e.adapters.Invoke(callCtx, step.Kind, target, entityRef, summary)
		cancel()
		if err == nil {
			return outcome, attempts, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && !adapter.IsTransient(err) {
			err = adapter.Transient("adapter call timed out after %s", timeout)
		}
		if !adapter.IsTransient(err) || attempts >= step.Retry.MaxAttempts {
			return "", attempts, err
		}
		delay := backoffDelay(step.Retry, attempts)
		if time.Now().Add(delay).After(deadline) {
			return "", attempts, fmt.Errorf("retry budget exceeded the execution ceiling: %w", err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", attempts, ctx.Err()
		}
	}
}

func (e *Engine) failStep(ec *model.ExecutionContext, pb *playbook.Playbook, step playbook.Step, index int, result model.StepResult, attempts int, detail string) stepOutcome {
	e.record(&model.AuditEntry{
		ExecutionID: ec.ExecutionID, AlertID: ec.AlertID, PlaybookID: pb.PlaybookID,
		StepIndex: index, StepKind: string(step.Kind), Decision: model.DecisionStepFailed,
		Attempts: attempts, Detail: detail,
	})
	result.Outcome = model.DecisionStepFailed
	result.Detail = detail
	result.Attempts = attempts
	result.CompletedAt = time.Now()
	return stepOutcome{
		disposition: stepFailed,
		result:      result,
		reason:      fmt.Sprintf("step %d (%s) failed: %s", index, step.Kind, detail),
	}
}

func (e *Engine) releaseQuietly(ctx context.Context, fingerprint string) {
	if err := e.store.Release(ctx, fingerprint); err != nil {
		logrus.Errorf("release fingerprint %s is err: %v", fingerprint, err)
	}
}

func composeSummary(alert model.Alert, pb *playbook.Playbook, step playbook.Step) string {
	return fmt.Sprintf("alert %s (%s, %s) on entity %s: %s per playbook %s",
		alert.AlertID, alert.Source, alert.Severity, alert.EntityRef, step.Kind, pb.PlaybookID)
}
