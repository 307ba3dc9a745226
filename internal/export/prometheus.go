package export

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/idsagent/internal/constants"
	"github.com/sureshkrishnan-v/idsagent/internal/event"
)

// Prometheus is an Exporter that consumes events from the EventBus
// and updates Prometheus metrics on its own registry.
type Prometheus struct {
	addr     string
	logger   *zap.Logger
	bus      *event.Bus
	events   <-chan *event.Event
	registry *prometheus.Registry
	server   *http.Server
	ready    atomic.Bool

	// Analysis lifecycle
	analysesStarted  *prometheus.CounterVec
	analysesFinished *prometheus.CounterVec
	analysisRunning  prometheus.Gauge
	trackedProcesses prometheus.Gauge
	alertsForwarded  *prometheus.CounterVec
	alertBatchSize   *prometheus.HistogramVec

	// Backend reporting
	reportFailures *prometheus.CounterVec
	reportLatency  *prometheus.HistogramVec

	// Container resources
	cpuCores *prometheus.GaugeVec
	memoryMB *prometheus.GaugeVec

	// Self-observability
	eventsProcessed *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	busQueueDepth   *prometheus.GaugeVec
	lastDropped     map[string]uint64
}

// NewPrometheus creates a Prometheus exporter that subscribes to the EventBus.
func NewPrometheus(addr string, bus *event.Bus, logger *zap.Logger) *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	p := &Prometheus{
		addr:        addr,
		logger:      logger,
		bus:         bus,
		registry:    reg,
		lastDropped: make(map[string]uint64),

		// --- Analysis Lifecycle ---
		analysesStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricAnalysesStarted,
			Help: "Total analyses started.",
		}, constants.LabelsAnalysisType),

		analysesFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricAnalysesFinished,
			Help: "Total analyses finished, by how they ended.",
		}, constants.LabelsAnalysisTypeOutcome),

		analysisRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: constants.MetricAnalysisRunning,
			Help: "1 while an analysis is running.",
		}),

		trackedProcesses: f.NewGauge(prometheus.GaugeOpts{
			Name: constants.MetricTrackedProcesses,
			Help: "External processes owned by the current analysis.",
		}),

		alertsForwarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricAlertsForwarded,
			Help: "Total alerts accepted by the backend.",
		}, constants.LabelsAnalysisType),

		alertBatchSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    constants.MetricAlertBatchSize,
			Help:    "Alerts per forwarded batch.",
			Buckets: constants.AlertBatchBuckets,
		}, constants.LabelsAnalysisType),

		// --- Backend Reporting ---
		reportFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricReportFailures,
			Help: "Total failed backend calls.",
		}, constants.LabelsEndpoint),

		reportLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    constants.MetricReportLatency,
			Help:    "Backend call duration.",
			Buckets: constants.ReportLatencyBuckets,
		}, constants.LabelsEndpoint),

		// --- Container Resources ---
		cpuCores: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: constants.MetricCPUCores,
			Help: "CPU cores used by the sensor container.",
		}, constants.LabelsContainer),

		memoryMB: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: constants.MetricMemoryMB,
			Help: "Memory used by the sensor container in MB.",
		}, constants.LabelsContainer),

		// --- Self-Observability ---
		eventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricEventsProcessed,
			Help: "Total events processed by the exporter.",
		}, constants.LabelsEventType),

		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricEventsDropped,
			Help: "Total events dropped due to backpressure.",
		}, constants.LabelsSubscriber),

		busQueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: constants.MetricBusQueueDepth,
			Help: "Current event bus queue depth per subscriber.",
		}, constants.LabelsSubscriber),
	}

	p.events = bus.Subscribe(constants.ExporterPrometheus)
	return p
}

func (p *Prometheus) Name() string { return constants.ExporterPrometheus }

// Handler serves /metrics, /healthz and /readyz.
func (p *Prometheus) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(constants.PathMetrics, promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc(constants.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc(constants.PathReadyz, func(w http.ResponseWriter, r *http.Request) {
		if p.ready.Load() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready\n"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready\n"))
		}
	})
	return mux
}

func (p *Prometheus) Start(ctx context.Context) error {
	p.server = &http.Server{
		Addr:         p.addr,
		Handler:      p.Handler(),
		ReadTimeout:  constants.MetricsReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
	}

	go func() {
		p.logger.Info("Prometheus exporter listening",
			zap.String("addr", p.addr),
			zap.String("path", constants.PathMetrics))
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("Prometheus HTTP server error", zap.Error(err))
		}
	}()

	go p.collectBusStats(ctx)

	p.ready.Store(true)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-p.events:
			if !ok {
				return nil
			}
			p.processEvent(evt)
		}
	}
}

func (p *Prometheus) Stop(ctx context.Context) error {
	p.ready.Store(false)
	if p.server != nil {
		return p.server.Shutdown(ctx)
	}
	return nil
}

// processEvent dispatches an event to the matching metrics.
func (p *Prometheus) processEvent(e *event.Event) {
	p.eventsProcessed.WithLabelValues(e.Type.String()).Inc()

	switch e.Type {
	case event.TypeAnalysisStarted:
		p.analysesStarted.WithLabelValues(e.Label(constants.KeyAnalysisType)).Inc()
		p.analysisRunning.Set(1)

	case event.TypeAnalysisFinished:
		p.analysesFinished.WithLabelValues(
			e.Label(constants.KeyAnalysisType),
			e.Label(constants.KeyOutcome)).Inc()
		p.analysisRunning.Set(0)

	case event.TypeProcessesTracked:
		p.trackedProcesses.Set(e.NumericVal(constants.KeyTracked))

	case event.TypeAlertsForwarded:
		kind := e.Label(constants.KeyAnalysisType)
		n := e.NumericVal(constants.KeyAlerts)
		p.alertsForwarded.WithLabelValues(kind).Add(n)
		p.alertBatchSize.WithLabelValues(kind).Observe(n)

	case event.TypeReportSent:
		p.reportLatency.WithLabelValues(e.Label(constants.KeyEndpoint)).
			Observe(e.NumericVal(constants.KeyDurationSec))

	case event.TypeReportFailed:
		endpoint := e.Label(constants.KeyEndpoint)
		p.reportFailures.WithLabelValues(endpoint).Inc()
		p.reportLatency.WithLabelValues(endpoint).Observe(e.NumericVal(constants.KeyDurationSec))

	case event.TypeResourceSample:
		container := strconv.Itoa(e.ContainerID)
		p.cpuCores.WithLabelValues(container).Set(e.NumericVal(constants.KeyCPUCores))
		p.memoryMB.WithLabelValues(container).Set(e.NumericVal(constants.KeyMemoryMB))
	}
}

// collectBusStats periodically updates event bus self-observability metrics.
func (p *Prometheus) collectBusStats(ctx context.Context) {
	ticker := time.NewTicker(constants.StatsCollectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.recordBusStats(p.bus.Stats())
		}
	}
}

// recordBusStats converts the bus's cumulative drop counts into counter
// increments. Only the stats goroutine calls it.
func (p *Prometheus) recordBusStats(stats event.Stats) {
	for name, depth := range stats.QueueDepth {
		p.busQueueDepth.WithLabelValues(name).Set(float64(depth))
	}
	for name, drops := range stats.DroppedBySubscriber {
		if delta := drops - p.lastDropped[name]; delta > 0 {
			p.eventsDropped.WithLabelValues(name).Add(float64(delta))
		}
		p.lastDropped[name] = drops
	}
}
