// Package backoff computes retry and reconnect delays.
package backoff

import (
	"math/rand"
	"time"
)

// Policy computes exponential backoff delays with additive jitter.
type Policy struct {
	Base   time.Duration // delay for attempt 0
	Max    time.Duration // upper bound on any returned delay (0 = no cap)
	Jitter time.Duration // max random addition, uniform in [0, Jitter)
}

// Delay returns the wait before retry number attempt (0-based).
// The deterministic part is Base doubled per attempt and capped at Max;
// jitter is added afterwards and the result is capped at Max again.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			d = p.Max
			break
		}
	}

	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}
