// Package agent provides the sensor runtime orchestrator.
// It wires the analysis controller to its process, network and reporting
// collaborators and manages the lifecycle of modules, exporters and the
// event bus.
package agent

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/idsagent/internal/analysis"
	"github.com/sureshkrishnan-v/idsagent/internal/api"
	"github.com/sureshkrishnan-v/idsagent/internal/config"
	"github.com/sureshkrishnan-v/idsagent/internal/constants"
	"github.com/sureshkrishnan-v/idsagent/internal/engine/command"
	"github.com/sureshkrishnan-v/idsagent/internal/event"
	"github.com/sureshkrishnan-v/idsagent/internal/export"
	"github.com/sureshkrishnan-v/idsagent/internal/module"
	"github.com/sureshkrishnan-v/idsagent/internal/netif"
	"github.com/sureshkrishnan-v/idsagent/internal/reporter"
	"github.com/sureshkrishnan-v/idsagent/internal/sampler"
	"github.com/sureshkrishnan-v/idsagent/internal/supervisor"
)

// Runtime is the central orchestrator for the agent.
//
// Design pattern: Facade. Run is the single entry point; everything it
// manages is built and registered by NewRuntime.
type Runtime struct {
	cfg        *config.Config
	logger     *zap.Logger
	bus        *event.Bus
	controller *analysis.Controller
	modules    []module.Module
	exporters  []export.Exporter
}

// NewRuntime builds the full component graph from cfg.
// The EventBus is created first so exporters subscribe before anything
// publishes.
func NewRuntime(cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	bus := event.NewBus(constants.DefaultEventBusBuffer, logger.Named("eventbus"))

	// The container id can change via POST /configuration; everything that
	// labels output with it reads the controller's current value.
	var ctrl *analysis.Controller
	identity := func() int { return ctrl.ContainerID() }

	rep := reporter.New(cfg.Agent.CoreURL, reporter.Timeouts{
		StaticAlerts:  cfg.Reporter.StaticAlertsTimeout,
		NetworkAlerts: cfg.Reporter.NetworkAlertsTimeout,
		Notify:        cfg.Reporter.NotifyTimeout,
		Metrics:       cfg.Reporter.MetricsTimeout,
	}, logger.Named("reporter"), reporter.WithEventBus(bus), reporter.WithIdentity(identity))

	sup := supervisor.New(logger.Named("supervisor"))

	driver, err := netif.NewDriver(cfg.Network.Driver, cfg.Network.IPBinary)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("link driver: %w", err)
	}
	netw := netif.NewManager(driver, sup, logger.Named("netif"),
		netif.WithMirrorBinary(cfg.Network.MirrorBinary),
		netif.WithReadyTimeout(cfg.Network.ReadyTimeout))

	eng := command.New(cfg.Engine, sup, logger.Named("engine"))

	ctrl = analysis.NewController(cfg.Agent.ContainerID, eng, sup, netw, rep,
		logger.Named("analysis"),
		analysis.WithReportPeriod(cfg.Analysis.ReportPeriod),
		analysis.WithEventBus(bus))

	rt := &Runtime{
		cfg:        cfg,
		logger:     logger,
		bus:        bus,
		controller: ctrl,
	}

	rt.RegisterModule(api.NewServer(ctrl))
	if cfg.Sampler.Enabled {
		rt.RegisterModule(sampler.New(rep, sampler.WithIdentity(identity)))
	}

	if cfg.Exporters.Prometheus.Enabled {
		rt.RegisterExporter(export.NewPrometheus(cfg.Exporters.Prometheus.Addr, bus, logger.Named("prometheus")))
	}
	if cfg.Exporters.NATS.Enabled {
		rt.RegisterExporter(export.NewNATSExporter(cfg.Exporters.NATS, bus, logger.Named("nats")))
	}

	return rt, nil
}

// RegisterModule adds a module to the runtime. Must be called before Run.
func (rt *Runtime) RegisterModule(m module.Module) {
	rt.modules = append(rt.modules, m)
}

// RegisterExporter adds an exporter to the runtime. Must be called before Run.
func (rt *Runtime) RegisterExporter(e export.Exporter) {
	rt.exporters = append(rt.exporters, e)
}

// EventBus returns the event bus for exporter subscription.
func (rt *Runtime) EventBus() *event.Bus {
	return rt.bus
}

// Run starts the full runtime lifecycle:
//  1. Init all modules (failures are skipped)
//  2. Start exporters
//  3. Start all initialized modules
//  4. Wait for shutdown signal
//  5. Stop modules → close the controller → close bus → stop exporters
func (rt *Runtime) Run(ctx context.Context) error {
	if os.Geteuid() != 0 {
		rt.logger.Warn("Not running as root, network analysis will fail to create the tap interface")
	}

	rt.logger.Info("IDS agent runtime starting",
		zap.Int("modules_registered", len(rt.modules)),
		zap.Int("exporters_registered", len(rt.exporters)),
		zap.Int("container_id", rt.cfg.Agent.ContainerID),
		zap.String("core_url", rt.cfg.Agent.CoreURL))

	var initialized []module.Module
	for _, m := range rt.modules {
		deps := module.NewDependencies(rt.logger.Named(m.Name()), rt.cfg, rt.bus)

		rt.logger.Info("Initializing module", zap.String("module", m.Name()))
		if err := m.Init(ctx, deps); err != nil {
			rt.logger.Error("Module init failed, skipping",
				zap.String("module", m.Name()), zap.Error(err))
			continue
		}
		initialized = append(initialized, m)
	}

	if len(initialized) == 0 {
		return fmt.Errorf("no modules initialized successfully")
	}

	var wg sync.WaitGroup
	for _, e := range rt.exporters {
		wg.Add(1)
		go func(e export.Exporter) {
			defer wg.Done()
			rt.logger.Info("Starting exporter", zap.String("exporter", e.Name()))
			if err := e.Start(ctx); err != nil && ctx.Err() == nil {
				rt.logger.Error("Exporter error",
					zap.String("exporter", e.Name()), zap.Error(err))
			}
		}(e)
	}

	for _, m := range initialized {
		wg.Add(1)
		go func(m module.Module) {
			defer wg.Done()
			rt.logger.Info("Starting module", zap.String("module", m.Name()))
			if err := m.Start(ctx); err != nil && ctx.Err() == nil {
				rt.logger.Error("Module error",
					zap.String("module", m.Name()), zap.Error(err))
			}
		}(m)
	}

	names := make([]string, len(initialized))
	for i, m := range initialized {
		names[i] = m.Name()
	}
	exporterNames := make([]string, len(rt.exporters))
	for i, e := range rt.exporters {
		exporterNames[i] = e.Name()
	}
	rt.logger.Info("IDS agent running",
		zap.Strings("modules", names),
		zap.Strings("exporters", exporterNames))

	<-ctx.Done()
	rt.logger.Info("Shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer stopCancel()

	for _, m := range initialized {
		rt.logger.Debug("Stopping module", zap.String("module", m.Name()))
		if err := m.Stop(stopCtx); err != nil {
			rt.logger.Warn("Error stopping module",
				zap.String("module", m.Name()), zap.Error(err))
		}
	}

	// Terminates engine and mirror processes and tells the backend the
	// running analysis is over.
	if err := rt.controller.Close(stopCtx); err != nil {
		rt.logger.Warn("Error closing analysis controller", zap.Error(err))
	}

	// Close event bus (triggers exporter channel close)
	rt.bus.Close()

	for _, e := range rt.exporters {
		rt.logger.Debug("Stopping exporter", zap.String("exporter", e.Name()))
		if err := e.Stop(stopCtx); err != nil {
			rt.logger.Warn("Error stopping exporter",
				zap.String("exporter", e.Name()), zap.Error(err))
		}
	}

	wg.Wait()

	rt.logger.Info("IDS agent stopped",
		zap.Int("modules_stopped", len(initialized)),
		zap.Uint64("events_published", rt.bus.Published()),
		zap.Uint64("events_dropped", rt.bus.Dropped()))

	return nil
}
