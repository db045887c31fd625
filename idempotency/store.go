package idempotency

import (
	"context"
	"time"
)

type State string

const (
	// Reserved grants exclusive right to execute the step.
	Reserved State = "reserved"
	// AlreadyCompleted means the outcome must be reused without an adapter call.
	AlreadyCompleted State = "already_completed"
	// InFlightByOther means another execution holds the reservation.
	InFlightByOther State = "in_flight_by_other"
)

type CheckResult struct {
	State   State
	Outcome string
}

// Meta travels with the reservation so stale rows can be reconciled against
// the right target after a crash.
type Meta struct {
	AlertID   string
	EntityRef string
	StepKind  string
}

type Record struct {
	Fingerprint string
	Status      string
	AlertID     string
	EntityRef   string
	StepKind    string
	Outcome     string
	ReservedAt  time.Time
	CompletedAt time.Time
}

// Store is the keyed execution ledger. Reservations are durable: a crash
// mid-step must not allow a second live execution after recovery.
type Store interface {
	CheckAndReserve(ctx context.Context, fingerprint string, meta Meta) (CheckResult, error)
	Commit(ctx context.Context, fingerprint, outcome string) error
	Release(ctx context.Context, fingerprint string) error
	StaleReservations(ctx context.Context, olderThan time.Duration) ([]Record, error)
}
