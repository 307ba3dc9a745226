package sampler

import (
	"time"

	"github.com/sureshkrishnan-v/idsagent/internal/constants"
)

// RateTracker turns a cumulative CPU counter into a cores-used rate.
// Not safe for concurrent use; the sampler loop is its only caller.
type RateTracker struct {
	lastCPU int64
	lastAt  time.Time
	primed  bool
}

// Observe records a reading and returns the rate since the previous one.
// The first reading, a non-advancing clock and a counter that went
// backwards all yield 0. The baseline is replaced on every call.
func (r *RateTracker) Observe(cpuMicros int64, at time.Time) float64 {
	prevCPU, prevAt, primed := r.lastCPU, r.lastAt, r.primed
	r.lastCPU, r.lastAt, r.primed = cpuMicros, at, true

	if !primed {
		return 0
	}
	elapsed := at.Sub(prevAt).Seconds()
	delta := cpuMicros - prevCPU
	if elapsed <= 0 || delta < 0 {
		return 0
	}
	return float64(delta) / (elapsed * constants.MicrosPerSecond)
}

// Reset forgets the baseline.
func (r *RateTracker) Reset() {
	*r = RateTracker{}
}
