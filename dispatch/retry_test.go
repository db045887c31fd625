package dispatch

import (
	"testing"
	"time"

	"github.com/magiconair/properties/assert"

	"github.com/chainsentry/reactor/playbook"
)

func TestBackoffGrowsExponentially(t *testing.T) {
	rp := playbook.RetryPolicy{MaxAttempts: 5, BaseDelayMS: 100, MaxDelayMS: 10000}

	first := backoffDelay(rp, 1)
	third := backoffDelay(rp, 3)
	// jitter adds at most 25%
	assert.Equal(t, first >= 100*time.Millisecond && first <= 125*time.Millisecond, true)
	assert.Equal(t, third >= 400*time.Millisecond && third <= 500*time.Millisecond, true)
}

func TestBackoffIsCapped(t *testing.T) {
	rp := playbook.RetryPolicy{MaxAttempts: 10, BaseDelayMS: 100, MaxDelayMS: 300}
	delay := backoffDelay(rp, 8)
	assert.Equal(t, delay <= 375*time.Millisecond, true)
}

func TestBackoffZeroBase(t *testing.T) {
	assert.Equal(t, backoffDelay(playbook.RetryPolicy{MaxAttempts: 1}, 1), time.Duration(0))
}
