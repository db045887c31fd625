package model

import (
	"fmt"

	"github.com/chainsentry/reactor/datastore"
	"github.com/chainsentry/reactor/utils"
)

// Migrate creates the executor tables. Idempotency records are managed with
// raw sql because pgx owns that table, not gorm.
func Migrate() error {
	if err := datastore.DB().AutoMigrate(&ExecutionContext{}, &AuditEntry{}); err != nil {
		return fmt.Errorf("migrate executor tables is err: %v", err)
	}
	tableName := utils.ComposeTableName(datastore.SchemaPublic, datastore.TableIdempotencyRecords)
	return datastore.DB().Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		fingerprint text PRIMARY KEY,
		status text NOT NULL,
		alert_id text NOT NULL DEFAULT '',
		entity_ref text NOT NULL DEFAULT '',
		step_kind text NOT NULL DEFAULT '',
		outcome text,
		reserved_at timestamptz NOT NULL DEFAULT now(),
		completed_at timestamptz
	)`, tableName)).Error
}
