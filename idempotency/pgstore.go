package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainsentry/reactor/datastore"
	"github.com/chainsentry/reactor/utils"
)

const (
	statusReserved  = "reserved"
	statusCompleted = "completed"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore() *PGStore {
	return &PGStore{pool: datastore.PGX()}
}

func tableName() string {
	return utils.ComposeTableName(datastore.SchemaPublic, datastore.TableIdempotencyRecords)
}

// CheckAndReserve is one atomic round trip: the insert wins the reservation
// or reveals the existing record.
func (s *PGStore) CheckAndReserve(ctx context.Context, fingerprint string, meta Meta) (CheckResult, error) {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (fingerprint, status, alert_id, entity_ref, step_kind, reserved_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (fingerprint) DO NOTHING`, tableName()),
		fingerprint, statusReserved, meta.AlertID, meta.EntityRef, meta.StepKind)
	if err != nil {
		return CheckResult{}, fmt.Errorf("reserve fingerprint %s is err: %v", fingerprint, err)
	}
	if tag.RowsAffected() == 1 {
		return CheckResult{State: Reserved}, nil
	}

	var status, outcome string
	err = s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT status, COALESCE(outcome, '') FROM %s WHERE fingerprint = $1`, tableName()),
		fingerprint).Scan(&status, &outcome)
	if err != nil {
		return CheckResult{}, fmt.Errorf("query fingerprint %s is err: %v", fingerprint, err)
	}
	if status == statusCompleted {
		return CheckResult{State: AlreadyCompleted, Outcome: outcome}, nil
	}
	return CheckResult{State: InFlightByOther}, nil
}

func (s *PGStore) Commit(ctx context.Context, fingerprint, outcome string) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $2, outcome = $3, completed_at = now() WHERE fingerprint = $1`, tableName()),
		fingerprint, statusCompleted, outcome)
	if err != nil {
		return fmt.Errorf("commit fingerprint %s is err: %v", fingerprint, err)
	}
	return nil
}

func (s *PGStore) Release(ctx context.Context, fingerprint string) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE fingerprint = $1 AND status = $2`, tableName()),
		fingerprint, statusReserved)
	if err != nil {
		return fmt.Errorf("release fingerprint %s is err: %v", fingerprint, err)
	}
	return nil
}

// StaleReservations surfaces rows whose adapter call may or may not have
// happened before a crash. They must be reconciled, never blindly retried.
func (s *PGStore) StaleReservations(ctx context.Context, olderThan time.Duration) ([]Record, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT fingerprint, alert_id, entity_ref, step_kind, reserved_at
			FROM %s WHERE status = $1 AND reserved_at < $2`, tableName()),
		statusReserved, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale reservations is err: %v", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec := Record{Status: statusReserved}
		if err := rows.Scan(&rec.Fingerprint, &rec.AlertID, &rec.EntityRef, &rec.StepKind, &rec.ReservedAt); err != nil {
			return nil, fmt.Errorf("scan stale reservation is err: %v", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
