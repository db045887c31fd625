package model

import (
	"time"

	"github.com/chainsentry/reactor/datastore"
	"github.com/chainsentry/reactor/utils"
)

const (
	DecisionExecuted         = "executed"
	DecisionReplayed         = "replayed"
	DecisionSimulated        = "simulated"
	DecisionDenied           = "guard_rail_denied"
	DecisionApprovalRequired = "approval_required"
	DecisionStepFailed       = "step_failed"
	DecisionSkippedDuplicate = "skipped_duplicate"
	DecisionNoPlaybook       = "no_playbook_matched"
	DecisionCancelled        = "cancelled"
	DecisionCeiling          = "ceiling_exceeded"
	DecisionReconciled       = "reconciled"
)

// AuditEntry is append-only: rows are inserted and never updated or deleted.
type AuditEntry struct {
	ID              int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ExecutionID     string    `json:"execution_id" gorm:"column:execution_id"`
	AlertID         string    `json:"alert_id" gorm:"column:alert_id"`
	PlaybookID      string    `json:"playbook_id" gorm:"column:playbook_id"`
	StepIndex       int       `json:"step_index" gorm:"column:step_index"`
	StepKind        string    `json:"step_kind" gorm:"column:step_kind"`
	Decision        string    `json:"decision" gorm:"column:decision"`
	GuardRailResult string    `json:"guard_rail_result" gorm:"column:guard_rail_result"`
	AdapterResult   string    `json:"adapter_result" gorm:"column:adapter_result"`
	Attempts        int       `json:"attempts" gorm:"column:attempts"`
	Simulated       bool      `json:"simulated" gorm:"column:simulated"`
	Detail          string    `json:"detail,omitempty" gorm:"column:detail"`
	Timestamp       time.Time `json:"timestamp" gorm:"column:timestamp"`
}

func (a *AuditEntry) TableName() string {
	return utils.ComposeTableName(datastore.SchemaPublic, datastore.TableAuditEntries)
}

func (a *AuditEntry) Insert() error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	return datastore.DB().Table(a.TableName()).Create(a).Error
}

type AuditEntries []AuditEntry

func (as *AuditEntries) ListByExecution(executionID string) error {
	tableName := utils.ComposeTableName(datastore.SchemaPublic, datastore.TableAuditEntries)
	return datastore.DB().
		Table(tableName).
		Where("execution_id = ?", executionID).
		Order("step_index asc, id asc").
		Find(as).Error
}

func (as *AuditEntries) ListByRange(start, end time.Time) error {
	tableName := utils.ComposeTableName(datastore.SchemaPublic, datastore.TableAuditEntries)
	return datastore.DB().
		Table(tableName).
		Where("timestamp >= ? AND timestamp < ?", start, end).
		Order("timestamp asc, id asc").
		Find(as).Error
}
