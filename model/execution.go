package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainsentry/reactor/datastore"
	"github.com/chainsentry/reactor/utils"
)

type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusBlocked   ExecutionStatus = "blocked"
)

func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusBlocked
}

type ExecutionMode string

const (
	ModeDryRun ExecutionMode = "dry_run"
	ModeLive   ExecutionMode = "live"
)

const (
	ReasonApprovalRequired = "approval_required"
	ReasonCancelled        = "cancelled"
	ReasonCeilingExceeded  = "execution ceiling exceeded"
)

type StepResult struct {
	StepIndex   int       `json:"step_index"`
	Kind        string    `json:"kind"`
	Target      string    `json:"target"`
	Outcome     string    `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	Attempts    int       `json:"attempts"`
	Simulated   bool      `json:"simulated"`
	CompletedAt time.Time `json:"completed_at"`
}

// ExecutionContext tracks one (alert, playbook) pairing through the dispatch
// state machine. The terminal state is persisted for audit and deduplication.
type ExecutionContext struct {
	ExecutionID      string          `json:"execution_id" gorm:"column:execution_id;primaryKey"`
	AlertID          string          `json:"alert_id" gorm:"column:alert_id"`
	EntityRef        string          `json:"entity_ref" gorm:"column:entity_ref"`
	PlaybookID       string          `json:"playbook_id" gorm:"column:playbook_id"`
	PlaybookVersion  string          `json:"playbook_version" gorm:"column:playbook_version"`
	Mode             ExecutionMode   `json:"mode" gorm:"column:mode"`
	CurrentStepIndex int             `json:"current_step_index" gorm:"column:current_step_index"`
	Status           ExecutionStatus `json:"status" gorm:"column:status"`
	StatusReason     string          `json:"status_reason,omitempty" gorm:"column:status_reason"`
	ApprovalToken    string          `json:"-" gorm:"column:approval_token"`
	AlertData        []byte          `json:"-" gorm:"column:alert_data"`
	StepResults      []StepResult    `json:"step_results" gorm:"-"`
	StepResultsData  []byte          `json:"-" gorm:"column:step_results"`
	CreatedAt        time.Time       `json:"created_at" gorm:"column:created_at"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"column:updated_at"`
}

func (ec *ExecutionContext) TableName() string {
	return utils.ComposeTableName(datastore.SchemaPublic, datastore.TableExecutionContexts)
}

func (ec *ExecutionContext) Alert() (Alert, error) {
	alert := Alert{}
	if err := json.Unmarshal(ec.AlertData, &alert); err != nil {
		return alert, fmt.Errorf("unmarshal alert data of execution %s is err: %v", ec.ExecutionID, err)
	}
	return alert, nil
}

func (ec *ExecutionContext) ComposeData(alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert %s is err: %v", alert.AlertID, err)
	}
	ec.AlertData = data
	return ec.ComposeStepResults()
}

func (ec *ExecutionContext) ComposeStepResults() error {
	data, err := json.Marshal(ec.StepResults)
	if err != nil {
		return fmt.Errorf("marshal step results of execution %s is err: %v", ec.ExecutionID, err)
	}
	ec.StepResultsData = data
	return nil
}

func (ec *ExecutionContext) ParseStepResults() error {
	if len(ec.StepResultsData) == 0 {
		ec.StepResults = nil
		return nil
	}
	if err := json.Unmarshal(ec.StepResultsData, &ec.StepResults); err != nil {
		return fmt.Errorf("unmarshal step results of execution %s is err: %v", ec.ExecutionID, err)
	}
	return nil
}

func (ec *ExecutionContext) Save() error {
	if err := ec.ComposeStepResults(); err != nil {
		return err
	}
	ec.UpdatedAt = time.Now()
	return datastore.DB().Table(ec.TableName()).Save(ec).Error
}

func GetExecutionContext(executionID string) (*ExecutionContext, error) {
	ec := ExecutionContext{}
	if err := datastore.DB().
		Table(ec.TableName()).
		Where("execution_id = ?", executionID).
		First(&ec).Error; err != nil {
		return nil, err
	}
	if err := ec.ParseStepResults(); err != nil {
		return nil, err
	}
	return &ec, nil
}
