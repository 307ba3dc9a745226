package sampler

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/sureshkrishnan-v/idsagent/internal/constants"
)

// processReader sums counters over every process visible to the agent.
// Useful where the cgroup files are not mounted, e.g. a plain VM sensor.
// The CPU total drops when a process exits; RateTracker reports 0 for
// that interval.
type processReader struct {
	list func(ctx context.Context) ([]*process.Process, error)
}

// NewProcessReader returns a CounterReader backed by the process table.
func NewProcessReader() CounterReader {
	return processReader{list: process.ProcessesWithContext}
}

func (r processReader) CPUMicros() (int64, error) {
	ctx := context.Background()
	procs, err := r.list(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing processes: %w", err)
	}
	var seconds float64
	for _, p := range procs {
		t, err := p.TimesWithContext(ctx)
		if err != nil {
			// Exited between listing and reading, or not ours to inspect.
			continue
		}
		seconds += t.User + t.System
	}
	return int64(seconds * constants.MicrosPerSecond), nil
}

func (r processReader) MemoryBytes() (int64, error) {
	ctx := context.Background()
	procs, err := r.list(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing processes: %w", err)
	}
	var rss uint64
	for _, p := range procs {
		m, err := p.MemoryInfoWithContext(ctx)
		if err != nil {
			continue
		}
		rss += m.RSS
	}
	return int64(rss), nil
}
