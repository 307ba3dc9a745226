// Package constants provides all named constants for the IDS agent.
// Eliminates magic numbers and hardcoded values throughout the codebase.
// All tuning parameters, sizes, timeouts, paths and keys are defined here.
package constants

import "time"

// ─── Agent Defaults ────────────────────────────────────────────────
const (
	// DefaultListenAddr is the default HTTP listen address for operator commands.
	DefaultListenAddr = ":8000"

	// DefaultMetricsAddr is the default HTTP listen address for metrics/health.
	DefaultMetricsAddr = ":9090"

	// DefaultLogLevel is the default structured logging level.
	DefaultLogLevel = "info"

	// DefaultConfigPath is the default YAML config file path.
	DefaultConfigPath = "idsagent.yaml"

	// Version is the current agent version.
	Version = "1.2.0"
)

// ─── Environment Variable Keys ─────────────────────────────────────
const (
	EnvCoreURL        = "CORE_URL"
	EnvContainerID    = "IDSAGENT_CONTAINER_ID"
	EnvContainerName  = "IDSAGENT_CONTAINER_NAME"
	EnvListenAddr     = "IDSAGENT_LISTEN_ADDR"
	EnvMetricsAddr    = "IDSAGENT_METRICS_ADDR"
	EnvLogLevel       = "IDSAGENT_LOG_LEVEL"
	EnvSampleInterval = "IDSAGENT_SAMPLE_INTERVAL"
	EnvReportPeriod   = "IDSAGENT_REPORT_PERIOD"
)

// ─── Backend Endpoints ─────────────────────────────────────────────
const (
	PathSoloAlerts       = "/ids/publish/alerts"
	PathEnsembleAlerts   = "/ensemble/publish/alerts"
	PathSoloFinished     = "/ids/analysis/finished"
	PathEnsembleFinished = "/ensemble/analysis/finished"
	PathMetricsPush      = "/metrics/push"
)

// ─── Backend Timeouts ──────────────────────────────────────────────
// Sized to the expected payload: notifications are tiny, a static
// capture can produce a very large alert batch.
const (
	StaticAlertsTimeout  = 300 * time.Second
	NetworkAlertsTimeout = 90 * time.Second
	NotifyTimeout        = 10 * time.Second
	MetricsPushTimeout   = 5 * time.Second
)

// ─── Analysis ──────────────────────────────────────────────────────
const (
	// DefaultReportPeriod is how often alerts are collected during network analysis.
	DefaultReportPeriod = 300 * time.Second

	// MinReportPeriod guards against hammering the backend.
	MinReportPeriod = time.Second

	// TapPrefix prefixes the container ID to form the tap interface name.
	TapPrefix = "tap"

	// MaxInterfaceNameLen is IFNAMSIZ minus the trailing NUL.
	MaxInterfaceNameLen = 15

	// DefaultUploadDir is where uploaded datasets and configs are written.
	DefaultUploadDir = "/tmp"

	// DatasetFilePattern names uploaded static datasets; each upload gets
	// its own file so a running scan's input is never overwritten.
	DatasetFilePattern = "dataset-*.pcap"

	// ConfigUploadFileName is the file name used for uploaded configs and rulesets.
	ConfigUploadFileName = "temporary.txt"
)

// ─── Analysis Types ────────────────────────────────────────────────
const (
	AnalysisStatic  = "static"
	AnalysisNetwork = "network"
)

// ─── Engine ────────────────────────────────────────────────────────
const (
	// PlaceholderFile is replaced with the dataset path in static commands.
	PlaceholderFile = "{file}"

	// PlaceholderIface is replaced with the tap name in network commands.
	PlaceholderIface = "{iface}"

	AlertFormatJSON = "json" // one normalized alert per line
	AlertFormatEVE  = "eve"  // Suricata EVE JSON

	// EVESeverityLevels is the number of Suricata priority levels.
	EVESeverityLevels = 3

	// MaxAlertLineBytes bounds a single alert log line.
	MaxAlertLineBytes = 16 * 1024 * 1024
)

// ─── Sampler ───────────────────────────────────────────────────────
const (
	// DefaultSampleInterval is the in-container sampling cadence.
	DefaultSampleInterval = 2 * time.Second

	// MinSampleInterval is the smallest accepted sampling cadence.
	MinSampleInterval = 100 * time.Millisecond

	// DefaultCgroupRoot is where the container's cgroup hierarchy is mounted.
	DefaultCgroupRoot = "/sys/fs/cgroup"

	// SamplerSourceCgroup reads the container's cgroup counters.
	SamplerSourceCgroup = "cgroup"
	// SamplerSourceProcess sums CPU time and RSS over every visible process.
	SamplerSourceProcess = "process"

	// MicrosPerSecond converts wall seconds into counter units.
	MicrosPerSecond float64 = 1e6

	// NanosPerMicro converts cgroup v1 nanosecond counters to microseconds.
	NanosPerMicro = 1000

	// BytesPerMB converts byte counters to megabytes.
	BytesPerMB float64 = 1024 * 1024
)

// ─── Cgroup Files ──────────────────────────────────────────────────
const (
	CgroupV2Marker     = "cgroup.controllers"
	CgroupV2CPUStat    = "cpu.stat"
	CgroupV2MemCurrent = "memory.current"
	CgroupV2UsageKey   = "usage_usec"

	CgroupV1CPUDir      = "cpu"
	CgroupV1MemoryDir   = "memory"
	CgroupV1CPUUsage    = "cpu/cpuacct.usage"
	CgroupV1CPUUsageAlt = "cpu,cpuacct/cpuacct.usage"
	CgroupV1MemUsage    = "memory/memory.usage_in_bytes"
)

// ─── Process Supervision ───────────────────────────────────────────
const (
	// ProcessPollInterval bounds how often a foreign PID is checked for exit.
	ProcessPollInterval = time.Second
)

// ─── Network Interfaces ────────────────────────────────────────────
const (
	DriverNetlink  = "netlink"
	DriverIPRoute2 = "iproute2"

	// DefaultLinkReadyTimeout bounds the wait for a new link to become visible.
	DefaultLinkReadyTimeout = 2 * time.Second

	// LinkReadyPollInterval is the readiness poll step after link creation.
	LinkReadyPollInterval = 50 * time.Millisecond

	// DefaultMirrorBinary copies traffic from one interface to another.
	DefaultMirrorBinary = "daemonlogger"

	// DefaultIPBinary is the iproute2 entry point.
	DefaultIPBinary = "ip"
)

// ─── HTTP Server Timeouts ──────────────────────────────────────────
const (
	HTTPReadTimeout  = 5 * time.Minute // dataset uploads can be large
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 120 * time.Second

	// MetricsReadTimeout bounds scrape request reads.
	MetricsReadTimeout = 10 * time.Second

	// HTTPBodyLimit caps uploaded datasets.
	HTTPBodyLimit = 4 * 1024 * 1024 * 1024
)

// ─── Shutdown ──────────────────────────────────────────────────────
const (
	// ShutdownTimeout is the max time allowed for graceful shutdown.
	ShutdownTimeout = 30 * time.Second
)

// ─── Self-Observability ────────────────────────────────────────────
const (
	// StatsCollectInterval is how often the Prometheus exporter collects bus stats.
	StatsCollectInterval = 5 * time.Second

	// DefaultEventBusBuffer is the default per-subscriber channel size.
	DefaultEventBusBuffer = 1024

	// MinEventBusBuffer is the minimum allowed event bus buffer size.
	MinEventBusBuffer = 16
)

// ─── HTTP Paths ────────────────────────────────────────────────────
const (
	PathMetrics = "/metrics"
	PathHealthz = "/healthz"
	PathReadyz  = "/readyz"
)

// ─── Prometheus Metric Names ───────────────────────────────────────
const (
	MetricPrefix = "idsagent_"

	MetricAnalysesStarted  = MetricPrefix + "analyses_started_total"
	MetricAnalysesFinished = MetricPrefix + "analyses_finished_total"
	MetricAnalysisRunning  = MetricPrefix + "analysis_running"
	MetricAlertsForwarded  = MetricPrefix + "alerts_forwarded_total"
	MetricAlertBatchSize   = MetricPrefix + "alert_batch_size"
	MetricReportFailures   = MetricPrefix + "report_failures_total"
	MetricReportLatency    = MetricPrefix + "report_duration_seconds"
	MetricTrackedProcesses = MetricPrefix + "tracked_processes"
	MetricCPUCores         = MetricPrefix + "container_cpu_cores"
	MetricMemoryMB         = MetricPrefix + "container_memory_megabytes"

	MetricEventsProcessed = MetricPrefix + "events_processed_total"
	MetricEventsDropped   = MetricPrefix + "events_dropped_total"
	MetricBusQueueDepth   = MetricPrefix + "eventbus_queue_depth"
)

// ─── Prometheus Label Names ────────────────────────────────────────
const (
	LabelAnalysisType = "analysis_type"
	LabelOutcome      = "outcome"
	LabelEndpoint     = "endpoint"
	LabelSubscriber   = "subscriber"
	LabelContainer    = "container"
	LabelEventType    = "event_type"
)

// ─── Finish Outcomes ───────────────────────────────────────────────
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
)

// ─── Event Label / Numeric Keys ────────────────────────────────────
// Used as keys in Event.Labels and Event.Numeric maps.
const (
	KeyAnalysisType  = "analysis_type"
	KeyOutcome       = "outcome"
	KeyEndpoint      = "endpoint"
	KeyEnsemble      = "ensemble"
	KeyContainerName = "container_name"
	KeyInterface     = "interface"
	KeyAlerts        = "alerts"
	KeyDurationSec   = "duration_sec"
	KeyCPUCores      = "cpu_cores"
	KeyMemoryMB      = "memory_mb"
	KeyTracked       = "tracked"
)

// ─── Exporter Names ───────────────────────────────────────────────
const (
	ExporterPrometheus = "prometheus"
	ExporterNATS       = "nats"
)

// ─── Module Names ──────────────────────────────────────────────────
const (
	ModuleSampler = "sampler"
	ModuleAPI     = "api"
)

// ─── NATS ──────────────────────────────────────────────────────────
const (
	NATSDefaultURL           = "nats://localhost:4222"
	NATSStream               = "IDSAGENT"
	NATSSubjectPrefix        = "idsagent.events"
	NATSBatchSize            = 64
	NATSFlushInterval        = 500 * time.Millisecond
	NATSStreamMaxBytes int64 = 64 * 1024 * 1024 // 64 MB
)
