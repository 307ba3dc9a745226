// Package config provides YAML-based configuration for the IDS agent.
// Supports validation, defaults, and environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sureshkrishnan-v/idsagent/internal/constants"
	"github.com/sureshkrishnan-v/idsagent/internal/event"
)

// Config is the top-level configuration for the IDS agent.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Reporter  ReporterConfig  `yaml:"reporter"`
	Network   NetworkConfig   `yaml:"network"`
	Engine    EngineConfig    `yaml:"engine"`
	Exporters ExportersConfig `yaml:"exporters"`
}

// AgentConfig holds the sensor identity and global agent settings.
type AgentConfig struct {
	ContainerID   int    `yaml:"container_id"`
	ContainerName string `yaml:"container_name"`
	CoreURL       string `yaml:"core_url"`
	ListenAddr    string `yaml:"listen_addr"`
	LogLevel      string `yaml:"log_level"`
	UploadDir     string `yaml:"upload_dir"`
}

// AnalysisConfig holds analysis lifecycle settings.
type AnalysisConfig struct {
	ReportPeriod time.Duration `yaml:"report_period"`
}

// SamplerConfig holds resource sampler settings.
type SamplerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	CgroupRoot string        `yaml:"cgroup_root"`
	Source     string        `yaml:"source"`
}

// ReporterConfig holds per-payload backend timeouts.
type ReporterConfig struct {
	StaticAlertsTimeout  time.Duration `yaml:"static_alerts_timeout"`
	NetworkAlertsTimeout time.Duration `yaml:"network_alerts_timeout"`
	NotifyTimeout        time.Duration `yaml:"notify_timeout"`
	MetricsTimeout       time.Duration `yaml:"metrics_timeout"`
}

// NetworkConfig holds tap interface and mirroring settings.
type NetworkConfig struct {
	Driver       string        `yaml:"driver"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	MirrorBinary string        `yaml:"mirror_binary"`
	IPBinary     string        `yaml:"ip_binary"`
}

// EngineConfig describes the scanning engine driven by the agent.
// Commands are argv templates; "{file}" and "{iface}" are substituted.
type EngineConfig struct {
	Name           string   `yaml:"name"`
	StaticCommand  []string `yaml:"static_command"`
	NetworkCommand []string `yaml:"network_command"`
	ConfigPath     string   `yaml:"config_path"`
	RulesetPath    string   `yaml:"ruleset_path"`
	AlertLog       string   `yaml:"alert_log"`
	AlertFormat    string   `yaml:"alert_format"`
}

// ExportersConfig holds exporter settings.
type ExportersConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	NATS       NATSConfig       `yaml:"nats"`
}

// PrometheusConfig holds Prometheus exporter settings.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// NATSConfig holds NATS exporter settings.
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Stream        string        `yaml:"stream"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// EventTypes restricts what is exported. Empty exports everything.
	EventTypes    []string      `yaml:"event_types"`
}

// Default returns a Config with sensible production defaults.
func Default() *Config {
	hostname, _ := os.Hostname()

	return &Config{
		Agent: AgentConfig{
			ContainerName: hostname,
			ListenAddr:    constants.DefaultListenAddr,
			LogLevel:      constants.DefaultLogLevel,
			UploadDir:     constants.DefaultUploadDir,
		},
		Analysis: AnalysisConfig{
			ReportPeriod: constants.DefaultReportPeriod,
		},
		Sampler: SamplerConfig{
			Enabled:    true,
			Interval:   constants.DefaultSampleInterval,
			CgroupRoot: constants.DefaultCgroupRoot,
			Source:     constants.SamplerSourceCgroup,
		},
		Reporter: ReporterConfig{
			StaticAlertsTimeout:  constants.StaticAlertsTimeout,
			NetworkAlertsTimeout: constants.NetworkAlertsTimeout,
			NotifyTimeout:        constants.NotifyTimeout,
			MetricsTimeout:       constants.MetricsPushTimeout,
		},
		Network: NetworkConfig{
			Driver:       constants.DriverNetlink,
			ReadyTimeout: constants.DefaultLinkReadyTimeout,
			MirrorBinary: constants.DefaultMirrorBinary,
			IPBinary:     constants.DefaultIPBinary,
		},
		Engine: EngineConfig{
			AlertFormat: constants.AlertFormatJSON,
		},
		Exporters: ExportersConfig{
			Prometheus: PrometheusConfig{Enabled: true, Addr: constants.DefaultMetricsAddr},
			NATS: NATSConfig{
				Enabled:       false,
				URL:           constants.NATSDefaultURL,
				Stream:        constants.NATSStream,
				SubjectPrefix: constants.NATSSubjectPrefix,
				BatchSize:     constants.NATSBatchSize,
				FlushInterval: constants.NATSFlushInterval,
			},
		},
	}
}

// Load reads a YAML config file and merges with defaults.
// If the file doesn't exist, defaults plus environment overrides are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No config file: defaults + env overrides
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides allows environment variables to override config values.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(constants.EnvCoreURL); v != "" {
		c.Agent.CoreURL = v
	}
	if v := os.Getenv(constants.EnvContainerID); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", constants.EnvContainerID, err)
		}
		c.Agent.ContainerID = id
	}
	if v := os.Getenv(constants.EnvContainerName); v != "" {
		c.Agent.ContainerName = v
	}
	if v := os.Getenv(constants.EnvListenAddr); v != "" {
		c.Agent.ListenAddr = v
	}
	if v := os.Getenv(constants.EnvMetricsAddr); v != "" {
		c.Exporters.Prometheus.Addr = v
	}
	if v := os.Getenv(constants.EnvLogLevel); v != "" {
		c.Agent.LogLevel = v
	}
	if v := os.Getenv(constants.EnvSampleInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", constants.EnvSampleInterval, err)
		}
		c.Sampler.Interval = d
	}
	if v := os.Getenv(constants.EnvReportPeriod); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", constants.EnvReportPeriod, err)
		}
		c.Analysis.ReportPeriod = d
	}
	return nil
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Agent.CoreURL == "" {
		errs = append(errs, "agent.core_url is required (or set "+constants.EnvCoreURL+")")
	} else if u, err := url.Parse(c.Agent.CoreURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("agent.core_url %q is not an absolute URL", c.Agent.CoreURL))
	}
	if c.Agent.ContainerID < 0 {
		errs = append(errs, "agent.container_id must be >= 0")
	}
	if c.Agent.ListenAddr == "" {
		errs = append(errs, "agent.listen_addr is required")
	}
	if c.Analysis.ReportPeriod < constants.MinReportPeriod {
		errs = append(errs, fmt.Sprintf("analysis.report_period must be >= %s", constants.MinReportPeriod))
	}
	if c.Sampler.Enabled && c.Sampler.Interval < constants.MinSampleInterval {
		errs = append(errs, fmt.Sprintf("sampler.interval must be >= %s", constants.MinSampleInterval))
	}
	switch c.Sampler.Source {
	case constants.SamplerSourceCgroup, constants.SamplerSourceProcess:
	default:
		errs = append(errs, fmt.Sprintf("sampler.source must be %q or %q", constants.SamplerSourceCgroup, constants.SamplerSourceProcess))
	}
	for name, d := range map[string]time.Duration{
		"static_alerts_timeout":  c.Reporter.StaticAlertsTimeout,
		"network_alerts_timeout": c.Reporter.NetworkAlertsTimeout,
		"notify_timeout":         c.Reporter.NotifyTimeout,
		"metrics_timeout":        c.Reporter.MetricsTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("reporter.%s must be > 0", name))
		}
	}
	switch c.Network.Driver {
	case constants.DriverNetlink, constants.DriverIPRoute2:
	default:
		errs = append(errs, fmt.Sprintf("network.driver must be %q or %q", constants.DriverNetlink, constants.DriverIPRoute2))
	}
	if c.Network.MirrorBinary == "" {
		errs = append(errs, "network.mirror_binary is required")
	}
	if len(c.Engine.StaticCommand) == 0 {
		errs = append(errs, "engine.static_command is required")
	}
	if len(c.Engine.NetworkCommand) == 0 {
		errs = append(errs, "engine.network_command is required")
	}
	if c.Engine.AlertLog == "" {
		errs = append(errs, "engine.alert_log is required")
	}
	switch c.Engine.AlertFormat {
	case constants.AlertFormatJSON, constants.AlertFormatEVE:
	default:
		errs = append(errs, fmt.Sprintf("engine.alert_format must be %q or %q", constants.AlertFormatJSON, constants.AlertFormatEVE))
	}
	if c.Exporters.NATS.Enabled && c.Exporters.NATS.BatchSize < 1 {
		errs = append(errs, "exporters.nats.batch_size must be >= 1")
	}
	if _, err := event.ParseTypes(c.Exporters.NATS.EventTypes); err != nil {
		errs = append(errs, "exporters.nats.event_types: "+err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// TapInterfaceName returns the deterministic tap name for this sensor.
func (c *Config) TapInterfaceName() string {
	return TapName(c.Agent.ContainerID)
}

// TapName derives a tap interface name from a container ID, truncated to
// the kernel's interface name limit.
func TapName(containerID int) string {
	name := constants.TapPrefix + strconv.Itoa(containerID)
	if len(name) > constants.MaxInterfaceNameLen {
		name = name[:constants.MaxInterfaceNameLen]
	}
	return name
}
