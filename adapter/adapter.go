package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainsentry/reactor/playbook"
)

// TransientError marks failures worth retrying (timeouts, rate limits).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks failures that retrying cannot fix (target not found,
// malformed request, rejected action).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

func Permanent(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

type FreezeStatus string

const (
	FreezeConfirmed FreezeStatus = "confirmed"
	FreezeRejected  FreezeStatus = "rejected"
)

type ReconcileState string

const (
	ReconcileApplied ReconcileState = "applied"
	ReconcileAbsent  ReconcileState = "absent"
)

type Notifier interface {
	Notify(ctx context.Context, target, message string) error
}

type Freezer interface {
	Freeze(ctx context.Context, entityRef, reason string) (FreezeStatus, error)
}

type Escalator interface {
	Escalate(ctx context.Context, entityRef, summary string) (string, error)
}

type RollbackHandler interface {
	Rollback(ctx context.Context, entityRef, reason string) error
}

// Reconciler re-queries the target system's actual state after an unknown
// outcome, so an irreversible action is never blindly retried.
type Reconciler interface {
	Reconcile(ctx context.Context, entityRef string, kind playbook.StepKind) (ReconcileState, error)
}

// Registry is the capability lookup table for step kinds. A nil field means
// the deployment does not carry that capability.
type Registry struct {
	Notify    Notifier
	Freeze    Freezer
	Escalate  Escalator
	Rollback  RollbackHandler
	Reconcile Reconciler
}

func (r *Registry) Supports(kind playbook.StepKind) bool {
	switch kind {
	case playbook.KindNotify:
		return r.Notify != nil
	case playbook.KindFreeze:
		return r.Freeze != nil
	case playbook.KindEscalate:
		return r.Escalate != nil
	case playbook.KindRollback:
		return r.Rollback != nil
	}
	return false
}

// Invoke dispatches one step to its adapter and maps the response onto an
// outcome string. Errors are classified transient or permanent by the
// adapters themselves.
func (r *Registry) Invoke(ctx context.Context, kind playbook.StepKind, target, entityRef, summary string) (string, error) {
	switch kind {
	case playbook.KindNotify:
		if r.Notify == nil {
			return "", Permanent("no notify adapter wired")
		}
		if err := r.Notify.Notify(ctx, target, summary); err != nil {
			return "", err
		}
		return "acked", nil
	case playbook.KindFreeze:
		if r.Freeze == nil {
			return "", Permanent("no freeze adapter wired")
		}
		status, err := r.Freeze.Freeze(ctx, entityRef, summary)
		if err != nil {
			return "", err
		}
		if status == FreezeRejected {
			return "", Permanent("freeze of %s was rejected by the target", entityRef)
		}
		return string(FreezeConfirmed), nil
	case playbook.KindEscalate:
		if r.Escalate == nil {
			return "", Permanent("no escalate adapter wired")
		}
		ticket, err := r.Escalate.Escalate(ctx, entityRef, summary)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ticket:%s", ticket), nil
	case playbook.KindRollback:
		if r.Rollback == nil {
			return "", Permanent("no rollback adapter wired")
		}
		if err := r.Rollback.Rollback(ctx, entityRef, summary); err != nil {
			return "", err
		}
		return "rolled_back", nil
	}
	return "", Permanent("unknown step kind %s", kind)
}
