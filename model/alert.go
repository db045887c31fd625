package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainsentry/reactor/utils"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

func (s Severity) Rank() int {
	rank, ok := severityRanks[s]
	if !ok {
		return -1
	}
	return rank
}

func (s Severity) Valid() bool {
	_, ok := severityRanks[s]
	return ok
}

// Alert is the upstream detection signal. Delivery is at-least-once, so the
// same alert id may arrive more than once and out of order.
type Alert struct {
	AlertID    string            `json:"alert_id"`
	Source     string            `json:"source"`
	Severity   Severity          `json:"severity"`
	EntityRef  string            `json:"entity_ref"`
	EntityType string            `json:"entity_type"`
	DetectedAt time.Time         `json:"detected_at"`
	Payload    map[string]string `json:"payload"`
}

func (a *Alert) Validate() error {
	if a.AlertID == "" {
		return fmt.Errorf("alert is missing alert_id")
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("alert %s has unknown severity %s", a.AlertID, a.Severity)
	}
	if a.EntityRef == "" {
		return fmt.Errorf("alert %s is missing entity_ref", a.AlertID)
	}
	return nil
}

// Value exposes the monetary amount carried in the payload, when present.
func (a *Alert) Value() (decimal.Decimal, bool) {
	raw, ok := a.Payload["amount"]
	if !ok {
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}

// DecodeAlert parses one message off the alert stream. The producer writes
// the whole alert as a json blob under the "alert" field.
func DecodeAlert(values map[string]any) (Alert, error) {
	alert := Alert{}
	raw, ok := values["alert"]
	if !ok {
		return alert, fmt.Errorf("stream message is missing the alert field")
	}
	rawString, ok := raw.(string)
	if !ok {
		return alert, fmt.Errorf("stream message alert field is not a string")
	}
	if err := json.Unmarshal([]byte(rawString), &alert); err != nil {
		return alert, fmt.Errorf("unmarshal alert from stream message is err: %v", err)
	}
	alert.EntityRef = utils.NormalizeEntityRef(alert.EntityRef)
	if err := alert.Validate(); err != nil {
		return alert, err
	}
	return alert, nil
}
