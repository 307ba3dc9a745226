// Package sampler measures the container's CPU and memory usage from cgroup
// counters (or the process table) and pushes a sample to the backend on a
// fixed cadence.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/idsagent/internal/constants"
	"github.com/sureshkrishnan-v/idsagent/internal/event"
	"github.com/sureshkrishnan-v/idsagent/internal/module"
	"github.com/sureshkrishnan-v/idsagent/internal/reporter"
)

// Pusher delivers samples. Implemented by *reporter.Reporter.
type Pusher interface {
	PushMetrics(ctx context.Context, sample reporter.MetricSample) bool
}

// Sampler implements module.Module.
type Sampler struct {
	pusher Pusher
	reader CounterReader
	now    func() time.Time

	logger        *zap.Logger
	bus           *event.Bus
	interval      time.Duration
	layout        Layout
	source        string
	identity      func() int
	containerName string

	rate RateTracker

	mu      sync.Mutex
	stopped chan struct{}
	cancel  context.CancelFunc
}

var _ module.Module = (*Sampler)(nil)

// Option configures a Sampler.
type Option func(*Sampler)

// WithReader replaces the cgroup reader chosen by Init.
func WithReader(r CounterReader) Option {
	return func(s *Sampler) { s.reader = r }
}

// WithIdentity reads the container id on every sample so that an id
// assigned at runtime is picked up. Defaults to the configured id.
func WithIdentity(containerID func() int) Option {
	return func(s *Sampler) { s.identity = containerID }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// New creates a Sampler that delivers through pusher.
func New(pusher Pusher, opts ...Option) *Sampler {
	s := &Sampler{
		pusher:   pusher,
		now:      time.Now,
		logger:   zap.NewNop(),
		interval: constants.DefaultSampleInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sampler) Name() string { return constants.ModuleSampler }

// Init picks the counter source and, for cgroups, detects the layout once.
func (s *Sampler) Init(_ context.Context, deps module.Dependencies) error {
	cfg := deps.Config
	s.logger = deps.Logger
	s.bus = deps.EventBus
	s.interval = cfg.Sampler.Interval
	s.source = cfg.Sampler.Source
	s.containerName = cfg.Agent.ContainerName
	if s.identity == nil {
		id := cfg.Agent.ContainerID
		s.identity = func() int { return id }
	}

	if s.interval <= 0 {
		return fmt.Errorf("sampler interval must be positive, got %s", s.interval)
	}

	if s.source == constants.SamplerSourceProcess {
		if s.reader == nil {
			s.reader = NewProcessReader()
		}
		s.logger.Info("Sampling from the process table")
		return nil
	}

	layout, detected := DetectLayout(cfg.Sampler.CgroupRoot)
	s.layout = layout
	if !detected {
		s.logger.Warn("Could not detect cgroup layout, assuming v2",
			zap.String("root", cfg.Sampler.CgroupRoot))
	} else {
		s.logger.Info("Detected cgroup layout",
			zap.Stringer("layout", layout),
			zap.String("root", cfg.Sampler.CgroupRoot))
	}
	if s.reader == nil {
		s.reader = NewCounterReader(layout, cfg.Sampler.CgroupRoot)
	}
	return nil
}

// Sample reads both counters and computes one MetricSample.
func (s *Sampler) Sample() (reporter.MetricSample, error) {
	cpu, err := s.reader.CPUMicros()
	if err != nil {
		return reporter.MetricSample{}, fmt.Errorf("cpu: %w", err)
	}
	mem, err := s.reader.MemoryBytes()
	if err != nil {
		return reporter.MetricSample{}, fmt.Errorf("memory: %w", err)
	}

	cores := s.rate.Observe(cpu, s.now())
	return reporter.MetricSample{
		ContainerID:   s.identity(),
		ContainerName: s.containerName,
		CPUUsage:      round(cores, 4),
		MemoryUsage:   round(float64(mem)/constants.BytesPerMB, 2),
	}, nil
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// Start samples immediately and then once per interval until ctx is
// cancelled or Stop is called. Ticks are sequential: the next wait starts
// after the previous push has returned.
func (s *Sampler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.stopped = done
	s.mu.Unlock()
	defer close(done)
	defer cancel()

	s.logger.Info("Resource sampler started",
		zap.Duration("interval", s.interval),
		zap.String("source", s.source),
		zap.String("container", s.containerName))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Resource sampler stopped")
			return nil
		case <-timer.C:
		}
		s.tick(ctx)
		timer.Reset(s.interval)
	}
}

func (s *Sampler) tick(ctx context.Context) {
	sample, err := s.Sample()
	switch {
	case errors.Is(err, ErrCounterUnavailable):
		s.logger.Warn("Could not read cgroup metrics", zap.Error(err))
		return
	case err != nil:
		s.logger.Error("Error collecting metrics", zap.Error(err))
		return
	}

	s.bus.Publish(event.New(event.TypeResourceSample, sample.ContainerID).
		SetLabel(constants.KeyContainerName, sample.ContainerName).
		SetNumeric(constants.KeyCPUCores, sample.CPUUsage).
		SetNumeric(constants.KeyMemoryMB, sample.MemoryUsage))

	if s.pusher.PushMetrics(ctx, sample) {
		s.logger.Debug("Pushed metrics",
			zap.Float64("cpu_cores", sample.CPUUsage),
			zap.Float64("memory_mb", sample.MemoryUsage))
	}
}

// Stop cancels the loop and waits for it to return.
func (s *Sampler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.stopped
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
