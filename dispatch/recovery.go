package dispatch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/chainsentry/reactor/adapter"
	"github.com/chainsentry/reactor/idempotency"
	"github.com/chainsentry/reactor/model"
	"github.com/chainsentry/reactor/playbook"
)

// Recover resolves reservations left behind by a crash between the adapter
// call and the commit. The target system is re-queried before deciding;
// an uncertain irreversible action is never blindly retried.
func (e *Engine) Recover(ctx context.Context) error {
	stale, err := e.store.StaleReservations(ctx, e.staleAfter)
	if err != nil {
		return fmt.Errorf("list stale reservations is err: %v", err)
	}
	if len(stale) == 0 {
		return nil
	}
	logrus.Warnf("found %d reservations with unknown outcome", len(stale))

	for _, rec := range stale {
		if err := e.reconcile(ctx, rec); err != nil {
			logrus.Errorf("reconcile fingerprint %s is err: %v", rec.Fingerprint, err)
		}
	}
	return nil
}

func (e *Engine) reconcile(ctx context.Context, rec idempotency.Record) error {
	if e.adapters == nil || e.adapters.Reconcile == nil {
		return fmt.Errorf("no reconcile adapter wired, fingerprint %s stays unresolved", rec.Fingerprint)
	}
	state, err := e.adapters.Reconcile.Reconcile(ctx, rec.EntityRef, playbook.StepKind(rec.StepKind))
	if err != nil {
		return err
	}
	entry := &model.AuditEntry{
		AlertID:  rec.AlertID,
		StepKind: rec.StepKind,
		Decision: model.DecisionReconciled,
	}
	switch state {
	case adapter.ReconcileApplied:
		if err := e.store.Commit(ctx, rec.Fingerprint, "reconciled_applied"); err != nil {
			return err
		}
		entry.Detail = fmt.Sprintf("target confirmed %s was applied to %s, outcome committed", rec.StepKind, rec.EntityRef)
	case adapter.ReconcileAbsent:
		if err := e.store.Release(ctx, rec.Fingerprint); err != nil {
			return err
		}
		entry.Detail = fmt.Sprintf("target shows no %s on %s, reservation released for retry", rec.StepKind, rec.EntityRef)
	}
	e.record(entry)
	return nil
}
