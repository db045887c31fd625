package model

import (
	"testing"

	"github.com/magiconair/properties/assert"
)

func TestSeverityRanking(t *testing.T) {
	assert.Equal(t, SeverityHigh.Rank() > SeverityMedium.Rank(), true)
	assert.Equal(t, SeverityCritical.Rank() > SeverityHigh.Rank(), true)
	assert.Equal(t, Severity("bogus").Rank(), -1)
}

func TestDecodeAlert(t *testing.T) {
	values := map[string]any{
		"alert": `{"alert_id":"a1","source":"compliance","severity":"high","entity_ref":"0xDAC17F958D2EE523A2206206994597C13D831EC7","payload":{"amount":"25000"}}`,
	}
	alert, err := DecodeAlert(values)
	if err != nil {
		t.Fatalf("decode alert is err: %v", err)
	}
	assert.Equal(t, alert.AlertID, "a1")
	assert.Equal(t, alert.EntityRef, "0xdac17f958d2ee523a2206206994597c13d831ec7")

	value, ok := alert.Value()
	assert.Equal(t, ok, true)
	assert.Equal(t, value.String(), "25000")
}

func TestDecodeAlertRejectsMalformed(t *testing.T) {
	_, err := DecodeAlert(map[string]any{"alert": `{"source":"compliance"}`})
	assert.Equal(t, err != nil, true)

	_, err = DecodeAlert(map[string]any{})
	assert.Equal(t, err != nil, true)
}
