package utils

import (
	"testing"

	"github.com/magiconair/properties/assert"
)

func TestFingerprintIsDeterministic(t *testing.T) {
	first := Fingerprint("a1", "freeze-high-risk", 1, "0xabc")
	second := Fingerprint("a1", "freeze-high-risk", 1, "0xabc")
	assert.Equal(t, first, second)
}

func TestFingerprintChangesPerStep(t *testing.T) {
	first := Fingerprint("a1", "freeze-high-risk", 0, "0xabc")
	second := Fingerprint("a1", "freeze-high-risk", 1, "0xabc")
	assert.Equal(t, first != second, true)
}

func TestNormalizeEntityRef(t *testing.T) {
	assert.Equal(t,
		NormalizeEntityRef("0xDAC17F958D2EE523A2206206994597C13D831EC7"),
		"0xdac17f958d2ee523a2206206994597c13d831ec7")
	assert.Equal(t, NormalizeEntityRef("acct:main-treasury"), "acct:main-treasury")
}
