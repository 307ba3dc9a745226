package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
agent:
  container_id: 12
  container_name: suricata-12
  core_url: http://172.28.0.1:8000
analysis:
  report_period: 30s
sampler:
  interval: 5s
  source: process
network:
  driver: iproute2
engine:
  name: suricata
  static_command: ["suricata", "-r", "{file}"]
  network_command: ["suricata", "-i", "{iface}"]
  alert_log: /var/log/suricata/alerts.jsonl
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idsagent.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Agent.ContainerID != 12 {
		t.Errorf("container_id = %d, want 12", cfg.Agent.ContainerID)
	}
	if cfg.Analysis.ReportPeriod != 30*time.Second {
		t.Errorf("report_period = %s, want 30s", cfg.Analysis.ReportPeriod)
	}
	if cfg.Sampler.Interval != 5*time.Second {
		t.Errorf("sampler.interval = %s, want 5s", cfg.Sampler.Interval)
	}
	if cfg.Sampler.Source != "process" {
		t.Errorf("sampler.source = %q, want process", cfg.Sampler.Source)
	}
	if cfg.Network.Driver != "iproute2" {
		t.Errorf("network.driver = %q, want iproute2", cfg.Network.Driver)
	}
	// Untouched sections keep defaults.
	if cfg.Reporter.NotifyTimeout != 10*time.Second {
		t.Errorf("notify_timeout = %s, want default 10s", cfg.Reporter.NotifyTimeout)
	}
	if cfg.Network.MirrorBinary != "daemonlogger" {
		t.Errorf("mirror_binary = %q, want daemonlogger", cfg.Network.MirrorBinary)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CORE_URL", "http://core:9000")
	t.Setenv("IDSAGENT_CONTAINER_ID", "7")
	t.Setenv("IDSAGENT_REPORT_PERIOD", "1m")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.CoreURL != "http://core:9000" {
		t.Errorf("core_url = %q", cfg.Agent.CoreURL)
	}
	if cfg.Agent.ContainerID != 7 {
		t.Errorf("container_id = %d, want 7", cfg.Agent.ContainerID)
	}
	if cfg.Analysis.ReportPeriod != time.Minute {
		t.Errorf("report_period = %s, want 1m", cfg.Analysis.ReportPeriod)
	}
}

func TestLoad_InvalidEnvContainerID(t *testing.T) {
	t.Setenv("IDSAGENT_CONTAINER_ID", "abc")
	if _, err := Load(writeConfig(t, validYAML)); err == nil {
		t.Fatal("expected error for non-numeric container id")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CORE_URL", "http://core:8000")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	// Defaults carry no engine commands, so validation must complain about them.
	if err == nil || !strings.Contains(err.Error(), "engine.static_command") {
		t.Fatalf("expected engine validation error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing core url", func(c *Config) { c.Agent.CoreURL = "" }, "agent.core_url is required"},
		{"relative core url", func(c *Config) { c.Agent.CoreURL = "core:8000/x" }, "not an absolute URL"},
		{"report period too short", func(c *Config) { c.Analysis.ReportPeriod = time.Millisecond }, "analysis.report_period"},
		{"sample interval too short", func(c *Config) { c.Sampler.Interval = time.Millisecond }, "sampler.interval"},
		{"sampler disabled ignores interval", func(c *Config) { c.Sampler.Enabled = false; c.Sampler.Interval = 0 }, ""},
		{"unknown driver", func(c *Config) { c.Network.Driver = "ovs" }, "network.driver"},
		{"unknown exported event type", func(c *Config) { c.Exporters.NATS.EventTypes = []string{"alerts_forwarded", "bogus"} }, "exporters.nats.event_types"},
		{"known exported event types", func(c *Config) { c.Exporters.NATS.EventTypes = []string{"analysis_finished", "report_failed"} }, ""},
		{"unknown sampler source", func(c *Config) { c.Sampler.Source = "psutil" }, "sampler.source"},
		{"zero timeout", func(c *Config) { c.Reporter.NotifyTimeout = 0 }, "reporter.notify_timeout"},
		{"unknown alert format", func(c *Config) { c.Engine.AlertFormat = "csv" }, "engine.alert_format"},
		{"nats batch", func(c *Config) { c.Exporters.NATS.Enabled = true; c.Exporters.NATS.BatchSize = 0 }, "batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Agent.CoreURL = "http://core:8000"
			cfg.Engine.StaticCommand = []string{"ids", "{file}"}
			cfg.Engine.NetworkCommand = []string{"ids", "{iface}"}
			cfg.Engine.AlertLog = "/tmp/alerts.jsonl"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTapName(t *testing.T) {
	tests := []struct {
		id   int
		want string
	}{
		{0, "tap0"},
		{42, "tap42"},
		{1234567890123, "tap123456789012"},
	}
	for _, tt := range tests {
		if got := TapName(tt.id); got != tt.want {
			t.Errorf("TapName(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
