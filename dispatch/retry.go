package dispatch

import (
	"math/rand"
	"time"

	"github.com/chainsentry/reactor/playbook"
)

// backoffDelay returns the exponential delay before the given retry attempt
// (1-based), capped at max_delay_ms, with up to 25% jitter on top.
func backoffDelay(rp playbook.RetryPolicy, attempt int) time.Duration {
	base := time.Duration(rp.BaseDelayMS) * time.Millisecond
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if rp.MaxDelayMS > 0 && delay >= time.Duration(rp.MaxDelayMS)*time.Millisecond {
			delay = time.Duration(rp.MaxDelayMS) * time.Millisecond
			break
		}
	}
	if rp.MaxDelayMS > 0 && delay > time.Duration(rp.MaxDelayMS)*time.Millisecond {
		delay = time.Duration(rp.MaxDelayMS) * time.Millisecond
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
