package playbook

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/chainsentry/reactor/model"
)

type StepKind string

const (
	KindNotify   StepKind = "notify"
	KindFreeze   StepKind = "freeze"
	KindEscalate StepKind = "escalate"
	KindRollback StepKind = "rollback"
)

var knownKinds = map[StepKind]bool{
	KindNotify:   true,
	KindFreeze:   true,
	KindEscalate: true,
	KindRollback: true,
}

// TargetEntity selects the alert's entity_ref as the step target.
const TargetEntity = "entity"

type RetryPolicy struct {
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms" json:"max_delay_ms"`
}

type Step struct {
	Kind           StepKind    `yaml:"kind" json:"kind"`
	Target         string      `yaml:"target" json:"target"`
	Irreversible   bool        `yaml:"irreversible" json:"irreversible"`
	TimeoutSeconds int         `yaml:"timeout_seconds" json:"timeout_seconds"`
	Retry          RetryPolicy `yaml:"retry" json:"retry"`
}

// ResolveTarget maps the step's target selector onto a concrete target ref.
func (st Step) ResolveTarget(alert model.Alert) string {
	if st.Target == "" || st.Target == TargetEntity {
		return alert.EntityRef
	}
	return st.Target
}

type Match struct {
	MinSeverity model.Severity `yaml:"min_severity" json:"min_severity"`
	Source      string         `yaml:"source" json:"source"`
	EntityType  string         `yaml:"entity_type" json:"entity_type"`
	MinValue    string         `yaml:"min_value" json:"min_value"`
}

func (m Match) Matches(alert model.Alert) bool {
	if m.MinSeverity != "" && alert.Severity.Rank() < m.MinSeverity.Rank() {
		return false
	}
	if m.Source != "" && m.Source != alert.Source {
		return false
	}
	if m.EntityType != "" && m.EntityType != alert.EntityType {
		return false
	}
	if m.MinValue != "" {
		threshold, err := decimal.NewFromString(m.MinValue)
		if err != nil {
			return false
		}
		value, ok := alert.Value()
		if !ok || value.LessThan(threshold) {
			return false
		}
	}
	return true
}

// Specificity counts populated predicate fields; more specific playbooks are
// dispatched first.
func (m Match) Specificity() int {
	count := 0
	if m.MinSeverity != "" {
		count++
	}
	if m.Source != "" {
		count++
	}
	if m.EntityType != "" {
		count++
	}
	if m.MinValue != "" {
		count++
	}
	return count
}

// Playbook is immutable configuration; a new version supersedes the old,
// nothing is ever mutated in place.
type Playbook struct {
	PlaybookID     string `yaml:"playbook_id" json:"playbook_id"`
	Version        string `yaml:"version" json:"version"`
	CeilingSeconds int    `yaml:"ceiling_seconds" json:"ceiling_seconds"`
	Match          Match  `yaml:"match" json:"match"`
	Steps          []Step `yaml:"steps" json:"steps"`
}

func (pb *Playbook) Key() string {
	return fmt.Sprintf("%s@%s", pb.PlaybookID, pb.Version)
}

// RollbackStep returns the first rollback step after the given index, if any.
func (pb *Playbook) RollbackStep(after int) (Step, int, bool) {
	for i := after + 1; i < len(pb.Steps); i++ {
		if pb.Steps[i].Kind == KindRollback {
			return pb.Steps[i], i, true
		}
	}
	return Step{}, 0, false
}

type SchemaError struct {
	PlaybookID string
	Reason     string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("playbook %s failed schema validation: %s", e.PlaybookID, e.Reason)
}

// Validate rejects playbooks whose steps reference an unknown adapter
// capability or carry a malformed retry policy. A failed version never
// replaces the running one.
func Validate(pb *Playbook, supports func(StepKind) bool) error {
	if pb.PlaybookID == "" {
		return &SchemaError{PlaybookID: "(unnamed)", Reason: "missing playbook_id"}
	}
	if pb.Version == "" {
		return &SchemaError{PlaybookID: pb.PlaybookID, Reason: "missing version"}
	}
	if len(pb.Steps) == 0 {
		return &SchemaError{PlaybookID: pb.PlaybookID, Reason: "playbook has no steps"}
	}
	if pb.Match.MinSeverity != "" && !pb.Match.MinSeverity.Valid() {
		return &SchemaError{PlaybookID: pb.PlaybookID, Reason: fmt.Sprintf("unknown severity %s", pb.Match.MinSeverity)}
	}
	if pb.Match.MinValue != "" {
		if _, err := decimal.NewFromString(pb.Match.MinValue); err != nil {
			return &SchemaError{PlaybookID: pb.PlaybookID, Reason: fmt.Sprintf("malformed min_value %s", pb.Match.MinValue)}
		}
	}
	for i, step := range pb.Steps {
		if !knownKinds[step.Kind] {
			return &SchemaError{PlaybookID: pb.PlaybookID, Reason: fmt.Sprintf("step %d has unknown kind %s", i, step.Kind)}
		}
		if supports != nil && !supports(step.Kind) {
			return &SchemaError{PlaybookID: pb.PlaybookID, Reason: fmt.Sprintf("step %d references unsupported capability %s", i, step.Kind)}
		}
		if err := validateRetry(step.Retry); err != nil {
			return &SchemaError{PlaybookID: pb.PlaybookID, Reason: fmt.Sprintf("step %d has malformed retry policy: %v", i, err)}
		}
	}
	return nil
}

func validateRetry(rp RetryPolicy) error {
	if rp.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts %d is negative", rp.MaxAttempts)
	}
	if rp.BaseDelayMS < 0 || rp.MaxDelayMS < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if rp.MaxAttempts > 1 && rp.BaseDelayMS == 0 {
		return fmt.Errorf("base_delay_ms is required when max_attempts > 1")
	}
	if rp.MaxDelayMS != 0 && rp.MaxDelayMS < rp.BaseDelayMS {
		return fmt.Errorf("max_delay_ms %d is lower than base_delay_ms %d", rp.MaxDelayMS, rp.BaseDelayMS)
	}
	return nil
}

// normalize fills defaults the yaml may omit. Freeze steps are irreversible
// whether or not the file says so.
func (pb *Playbook) normalize() {
	for i := range pb.Steps {
		if pb.Steps[i].Kind == KindFreeze {
			pb.Steps[i].Irreversible = true
		}
		if pb.Steps[i].Retry.MaxAttempts == 0 {
			pb.Steps[i].Retry.MaxAttempts = 1
		}
	}
}
