// Package analysis implements the analysis lifecycle: a single session that
// moves between Idle, static and network analysis, owns the OS resources
// acquired for a run and releases all of them when the run ends.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/idsagent/internal/alert"
	"github.com/sureshkrishnan-v/idsagent/internal/config"
	"github.com/sureshkrishnan-v/idsagent/internal/constants"
	"github.com/sureshkrishnan-v/idsagent/internal/engine"
	"github.com/sureshkrishnan-v/idsagent/internal/event"
	"github.com/sureshkrishnan-v/idsagent/internal/reporter"
)

// ErrAnalysisRunning is returned when an operation requires an idle session.
var ErrAnalysisRunning = errors.New("analysis already running")

// Mode is the session state.
type Mode uint8

const (
	ModeIdle Mode = iota
	ModeStatic
	ModeNetwork
)

func (m Mode) String() string {
	switch m {
	case ModeStatic:
		return "static"
	case ModeNetwork:
		return "network"
	default:
		return "idle"
	}
}

// Supervisor terminates and awaits processes.
type Supervisor interface {
	Terminate(ctx context.Context, pid int)
	AwaitExit(ctx context.Context, pid int) (int, bool)
}

// Network manages the tap interface and traffic mirroring.
type Network interface {
	CreateAndActivate(ctx context.Context, name string) error
	Destroy(ctx context.Context, name string) error
	DefaultInterface(ctx context.Context) (string, error)
	StartMirroring(ctx context.Context, src, dst string) (int, error)
}

// Reporter delivers alert batches and finished notifications.
type Reporter interface {
	PublishAlerts(ctx context.Context, batch reporter.AlertBatch) bool
	AnalysisFinished(ctx context.Context, notice reporter.FinishedNotice) bool
}

// StaticRequest starts a one-shot analysis of a capture file.
type StaticRequest struct {
	DatasetID  int
	FilePath   string
	EnsembleID *int
}

// NetworkRequest starts continuous analysis of mirrored traffic.
type NetworkRequest struct {
	EnsembleID *int
}

// Status is a point-in-time view of the session.
type Status struct {
	Mode         string `json:"mode"`
	ContainerID  int    `json:"container_id"`
	EnsembleID   *int   `json:"ensemble_id"`
	DatasetID    *int   `json:"dataset_id"`
	PIDs         []int  `json:"pids"`
	TapInterface string `json:"tap_interface,omitempty"`
}

type session struct {
	containerID int
	ensembleID  *int
	datasetID   *int
	mode        Mode
	pids        map[int]struct{}
	tap         string
	periodic    *task
	startedAt   time.Time

	// run increments on every start and stop so a background waiter can
	// tell whether the run it belongs to is still current.
	run uint64
}

// Controller owns the analysis session.
//
// opMu serializes transitions and is held for the whole transition. mu
// guards the session fields and is only held for short reads and writes,
// so background readers never wait on a transition.
type Controller struct {
	engine engine.Adapter
	sup    Supervisor
	net    Network
	rep    Reporter
	bus    *event.Bus
	logger *zap.Logger
	period time.Duration
	tasks  *taskGroup

	opMu sync.Mutex

	mu sync.Mutex
	s  session
}

// Option configures a Controller.
type Option func(*Controller)

// WithReportPeriod sets the alert collection period during network analysis.
func WithReportPeriod(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.period = d
		}
	}
}

// WithEventBus publishes lifecycle events to bus.
func WithEventBus(bus *event.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// NewController creates an idle Controller for containerID.
func NewController(containerID int, adapter engine.Adapter, sup Supervisor, netw Network, rep Reporter, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		engine: adapter,
		sup:    sup,
		net:    netw,
		rep:    rep,
		logger: logger,
		period: constants.DefaultReportPeriod,
		tasks:  newTaskGroup(logger),
		s: session{
			containerID: containerID,
			pids:        make(map[int]struct{}),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartStatic launches a static scan of req.FilePath and returns once the
// engine process is running. Completion is handled in the background.
func (c *Controller) StartStatic(ctx context.Context, req StaticRequest) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.s.mode != ModeIdle {
		c.mu.Unlock()
		return ErrAnalysisRunning
	}
	prevEnsemble := c.s.ensembleID
	if req.EnsembleID != nil {
		c.s.ensembleID = intPtr(*req.EnsembleID)
	}
	c.s.datasetID = intPtr(req.DatasetID)
	c.s.mode = ModeStatic
	c.s.startedAt = time.Now()
	c.s.run++
	run := c.s.run
	c.mu.Unlock()

	pid, err := c.engine.StartStaticScan(ctx, req.FilePath)
	if err != nil {
		c.resetToIdle(prevEnsemble)
		return fmt.Errorf("starting static scan: %w", err)
	}
	c.track(pid)

	c.tasks.Go("static-waiter", func(tctx context.Context) {
		c.awaitStatic(tctx, run, pid)
	})

	c.logger.Info("Static analysis started",
		zap.Int("pid", pid),
		zap.Int("dataset_id", req.DatasetID),
		zap.String("file", req.FilePath))
	c.emitStarted(constants.AnalysisStatic)
	return nil
}

// awaitStatic waits for the static scanner and, unless the run was stopped
// in the meantime, forwards its alerts and ends the run. It holds the
// transition lock from the moment the process exited until the session is
// Idle again, so a concurrent Stop waits for it.
func (c *Controller) awaitStatic(ctx context.Context, run uint64, pid int) {
	if _, ok := c.sup.AwaitExit(ctx, pid); !ok {
		return
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.s.run != run || c.s.mode != ModeStatic {
		c.mu.Unlock()
		c.logger.Debug("Static scanner exited after the run was stopped", zap.Int("pid", pid))
		return
	}
	delete(c.s.pids, pid)
	tracked := len(c.s.pids)
	batch := reporter.AlertBatch{
		ContainerID:  c.s.containerID,
		EnsembleID:   c.s.ensembleID,
		AnalysisType: constants.AnalysisStatic,
		DatasetID:    c.s.datasetID,
	}
	c.mu.Unlock()
	c.emitTracked(tracked)

	sendCtx := context.WithoutCancel(ctx)
	batch.Alerts = c.collect(sendCtx)
	c.forward(sendCtx, batch)

	c.mu.Lock()
	c.s.datasetID = nil
	c.mu.Unlock()

	c.finish(sendCtx, constants.AnalysisStatic, constants.OutcomeCompleted)
}

// StartNetwork creates the tap interface, mirrors the default interface into
// it, starts the engine on it and begins periodic alert reporting. On any
// failure everything acquired so far is released again.
func (c *Controller) StartNetwork(ctx context.Context, req NetworkRequest) (err error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.s.mode != ModeIdle {
		c.mu.Unlock()
		return ErrAnalysisRunning
	}
	prevEnsemble := c.s.ensembleID
	if req.EnsembleID != nil {
		c.s.ensembleID = intPtr(*req.EnsembleID)
	}
	tap := config.TapName(c.s.containerID)
	c.s.mode = ModeNetwork
	c.s.startedAt = time.Now()
	c.s.run++
	c.mu.Unlock()

	var undo []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		c.resetToIdle(prevEnsemble)
		c.logger.Warn("Network analysis start failed, resources released", zap.Error(err))
	}()

	cleanupCtx := context.WithoutCancel(ctx)

	if err := c.net.CreateAndActivate(ctx, tap); err != nil {
		return fmt.Errorf("creating tap interface: %w", err)
	}
	undo = append(undo, func() {
		if err := c.net.Destroy(cleanupCtx, tap); err != nil {
			c.logger.Warn("Failed to remove tap interface", zap.String("interface", tap), zap.Error(err))
		}
	})

	src, err := c.net.DefaultInterface(ctx)
	if err != nil {
		return err
	}

	mirrorPID, err := c.net.StartMirroring(ctx, src, tap)
	if err != nil {
		return err
	}
	c.track(mirrorPID)
	undo = append(undo, func() { c.release(cleanupCtx, mirrorPID) })

	scanPID, err := c.engine.StartNetworkScan(ctx, tap)
	if err != nil {
		return fmt.Errorf("starting network scan: %w", err)
	}
	c.track(scanPID)

	periodic := c.tasks.Go("periodic-report", c.reportPeriodically)
	c.mu.Lock()
	c.s.tap = tap
	c.s.periodic = periodic
	c.mu.Unlock()

	c.logger.Info("Network analysis started",
		zap.String("interface", tap),
		zap.String("mirrored_from", src),
		zap.Int("mirror_pid", mirrorPID),
		zap.Int("scanner_pid", scanPID),
		zap.Duration("report_period", c.period))
	c.emitStarted(constants.AnalysisNetwork)
	return nil
}

// reportPeriodically collects and forwards alerts right away and then once
// per period. Cancellation is only observed between ticks.
func (c *Controller) reportPeriodically(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		c.reportOnce(context.WithoutCancel(ctx))
		timer.Reset(c.period)
	}
}

func (c *Controller) reportOnce(ctx context.Context) {
	alerts, err := c.engine.CollectAlerts(ctx)
	if err != nil {
		c.logger.Warn("Collecting alerts failed, retrying next period", zap.Error(err))
		return
	}

	c.mu.Lock()
	batch := reporter.AlertBatch{
		ContainerID:  c.s.containerID,
		EnsembleID:   c.s.ensembleID,
		Alerts:       alerts,
		AnalysisType: constants.AnalysisNetwork,
	}
	c.mu.Unlock()

	c.forward(ctx, batch)
}

// Stop ends any running analysis. It is a no-op on an idle session.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopLocked(ctx)
}

func (c *Controller) stopLocked(ctx context.Context) error {
	c.mu.Lock()
	if c.s.mode == ModeIdle {
		c.mu.Unlock()
		return nil
	}
	mode := c.s.mode
	c.s.run++
	pids := c.sortedPIDs()
	clear(c.s.pids)
	periodic := c.s.periodic
	c.s.periodic = nil
	tap := c.s.tap
	c.s.tap = ""
	c.mu.Unlock()

	cleanupCtx := context.WithoutCancel(ctx)

	for _, pid := range pids {
		c.sup.Terminate(cleanupCtx, pid)
	}
	c.emitTracked(0)

	if periodic != nil && !periodic.stop(ctx) {
		c.logger.Warn("Periodic reporter still sending, not waiting for it")
	}

	if tap != "" {
		if err := c.net.Destroy(cleanupCtx, tap); err != nil {
			c.logger.Warn("Failed to remove tap interface", zap.String("interface", tap), zap.Error(err))
		}
	}

	c.logger.Info("Analysis stopped", zap.Stringer("mode", mode), zap.Ints("terminated", pids))
	c.finish(cleanupCtx, mode.String(), constants.OutcomeStopped)
	return nil
}

// finish sends the single finished notification for the run, then clears
// the ensemble and returns the session to Idle. Callers hold opMu.
func (c *Controller) finish(ctx context.Context, analysisType, outcome string) {
	c.mu.Lock()
	notice := reporter.FinishedNotice{
		ContainerID: c.s.containerID,
		EnsembleID:  c.s.ensembleID,
	}
	startedAt := c.s.startedAt
	c.mu.Unlock()

	if !c.rep.AnalysisFinished(ctx, notice) {
		c.logger.Warn("Backend was not told the analysis finished",
			zap.String("endpoint", reporter.FinishedPath(notice.EnsembleID)))
	}

	c.mu.Lock()
	c.s.ensembleID = nil
	c.s.datasetID = nil
	c.s.mode = ModeIdle
	c.mu.Unlock()

	c.bus.Publish(event.New(event.TypeAnalysisFinished, notice.ContainerID).
		SetLabel(constants.KeyAnalysisType, analysisType).
		SetLabel(constants.KeyOutcome, outcome).
		SetNumeric(constants.KeyDurationSec, time.Since(startedAt).Seconds()))
}

func (c *Controller) collect(ctx context.Context) []alert.Alert {
	alerts, err := c.engine.CollectAlerts(ctx)
	if err != nil {
		c.logger.Error("Collecting alerts failed", zap.Error(err))
		return []alert.Alert{}
	}
	return alerts
}

func (c *Controller) forward(ctx context.Context, batch reporter.AlertBatch) {
	if !c.rep.PublishAlerts(ctx, batch) {
		return
	}
	c.logger.Info("Alerts forwarded",
		zap.String("analysis_type", batch.AnalysisType),
		zap.Int("alerts", len(batch.Alerts)))
	c.bus.Publish(event.New(event.TypeAlertsForwarded, batch.ContainerID).
		SetLabel(constants.KeyAnalysisType, batch.AnalysisType).
		SetNumeric(constants.KeyAlerts, float64(len(batch.Alerts))))
}

func (c *Controller) track(pid int) {
	c.mu.Lock()
	c.s.pids[pid] = struct{}{}
	n := len(c.s.pids)
	c.mu.Unlock()
	c.emitTracked(n)
}

// release terminates pid and forgets it.
func (c *Controller) release(ctx context.Context, pid int) {
	c.sup.Terminate(ctx, pid)
	c.mu.Lock()
	delete(c.s.pids, pid)
	n := len(c.s.pids)
	c.mu.Unlock()
	c.emitTracked(n)
}

// resetToIdle abandons a start that acquired nothing the caller has not
// already released.
func (c *Controller) resetToIdle(ensemble *int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.mode = ModeIdle
	c.s.ensembleID = ensemble
	c.s.datasetID = nil
	c.s.tap = ""
	c.s.periodic = nil
	clear(c.s.pids)
	c.s.run++
}

func (c *Controller) emitStarted(analysisType string) {
	c.mu.Lock()
	e := event.New(event.TypeAnalysisStarted, c.s.containerID).
		SetLabel(constants.KeyAnalysisType, analysisType)
	if c.s.ensembleID != nil {
		e.SetLabel(constants.KeyEnsemble, strconv.Itoa(*c.s.ensembleID))
	}
	if c.s.tap != "" {
		e.SetLabel(constants.KeyInterface, c.s.tap)
	}
	c.mu.Unlock()
	c.bus.Publish(e)
}

func (c *Controller) emitTracked(n int) {
	c.bus.Publish(event.New(event.TypeProcessesTracked, c.ContainerID()).
		SetNumeric(constants.KeyTracked, float64(n)))
}

// Configure hands an uploaded configuration file to the engine.
func (c *Controller) Configure(ctx context.Context, path string) (string, error) {
	return c.engine.Configure(ctx, path)
}

// ConfigureRuleset hands an uploaded ruleset to the engine.
func (c *Controller) ConfigureRuleset(ctx context.Context, path string) (string, error) {
	return c.engine.ConfigureRuleset(ctx, path)
}

// SetContainerID changes the sensor identity used in every backend payload.
func (c *Controller) SetContainerID(id int) error {
	return c.whileIdle(func(s *session) { s.containerID = id })
}

// JoinEnsemble makes subsequent runs report to the ensemble endpoints.
func (c *Controller) JoinEnsemble(id int) error {
	return c.whileIdle(func(s *session) { s.ensembleID = intPtr(id) })
}

// LeaveEnsemble clears the ensemble membership and returns the former ID.
func (c *Controller) LeaveEnsemble() (*int, error) {
	var former *int
	err := c.whileIdle(func(s *session) {
		former = s.ensembleID
		s.ensembleID = nil
	})
	return former, err
}

func (c *Controller) whileIdle(fn func(*session)) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.mode != ModeIdle {
		return ErrAnalysisRunning
	}
	fn(&c.s)
	return nil
}

// ContainerID returns the current sensor identity.
func (c *Controller) ContainerID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.containerID
}

// Status returns a snapshot of the session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Mode:         c.s.mode.String(),
		ContainerID:  c.s.containerID,
		PIDs:         c.sortedPIDs(),
		TapInterface: c.s.tap,
	}
	if c.s.ensembleID != nil {
		st.EnsembleID = intPtr(*c.s.ensembleID)
	}
	if c.s.datasetID != nil {
		st.DatasetID = intPtr(*c.s.datasetID)
	}
	return st
}

// Close stops any running analysis and joins all background tasks.
func (c *Controller) Close(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}
	return c.tasks.Shutdown(ctx)
}

// sortedPIDs requires mu.
func (c *Controller) sortedPIDs() []int {
	pids := slices.Sorted(maps.Keys(c.s.pids))
	if pids == nil {
		pids = []int{}
	}
	return pids
}

func intPtr(v int) *int { return &v }
