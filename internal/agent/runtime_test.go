package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sureshkrishnan-v/idsagent/internal/config"
	"github.com/sureshkrishnan-v/idsagent/internal/constants"
	"github.com/sureshkrishnan-v/idsagent/internal/event"
	"github.com/sureshkrishnan-v/idsagent/internal/module"
	"github.com/sureshkrishnan-v/idsagent/internal/sampler"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Agent.CoreURL = "http://127.0.0.1:1"
	cfg.Agent.ListenAddr = "127.0.0.1:0"
	cfg.Agent.UploadDir = t.TempDir()
	cfg.Sampler.CgroupRoot = t.TempDir()
	cfg.Network.Driver = constants.DriverIPRoute2
	cfg.Engine.StaticCommand = []string{"true", "{file}"}
	cfg.Engine.NetworkCommand = []string{"true", "{iface}"}
	cfg.Engine.AlertLog = t.TempDir() + "/alerts.jsonl"
	cfg.Exporters.Prometheus.Addr = "127.0.0.1:0"
	return cfg
}

func names[T interface{ Name() string }](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name()
	}
	return out
}

func TestNewRuntime_Wiring(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*config.Config)
		wantModules   []string
		wantExporters []string
	}{
		{"defaults", func(*config.Config) {}, []string{"api", "sampler"}, []string{"prometheus"}},
		{"sampler disabled", func(c *config.Config) { c.Sampler.Enabled = false }, []string{"api"}, []string{"prometheus"}},
		{"nats enabled", func(c *config.Config) { c.Exporters.NATS.Enabled = true }, []string{"api", "sampler"}, []string{"prometheus", "nats"}},
		{"no exporters", func(c *config.Config) { c.Exporters.Prometheus.Enabled = false }, []string{"api", "sampler"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			rt, err := NewRuntime(cfg, zaptest.NewLogger(t))
			require.NoError(t, err)
			t.Cleanup(rt.EventBus().Close)

			assert.Equal(t, tt.wantModules, names(rt.modules))
			assert.Equal(t, tt.wantExporters, names(rt.exporters))
		})
	}
}

func TestNewRuntime_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.Driver = "ovs"

	_, err := NewRuntime(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestRuntime_RunUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Exporters.Prometheus.Enabled = false

	rt, err := NewRuntime(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRuntime_ContainerIDChangeReachesSamplesAndReports(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.ContainerID = 1
	cfg.Sampler.Interval = time.Hour
	root := cfg.Sampler.CgroupRoot
	for name, content := range map[string]string{
		"cgroup.controllers": "cpu memory\n",
		"cpu.stat":           "usage_usec 100\n",
		"memory.current":     "1048576\n",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}

	rt, err := NewRuntime(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(rt.EventBus().Close)
	events := rt.EventBus().Subscribe("test")

	require.NoError(t, rt.controller.SetContainerID(5))

	var s *sampler.Sampler
	for _, m := range rt.modules {
		if sm, ok := m.(*sampler.Sampler); ok {
			s = sm
		}
	}
	require.NotNil(t, s)
	require.NoError(t, s.Init(context.Background(),
		module.NewDependencies(zaptest.NewLogger(t), cfg, rt.EventBus())))

	sample, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, 5, sample.ContainerID)

	// One tick pushes to the unreachable backend and reports the failure.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Start(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case e := <-events:
			assert.Equal(t, 5, e.ContainerID, "event %s", e.Type)
			if e.Type == event.TypeReportFailed {
				return
			}
		case <-deadline:
			t.Fatal("no report_failed event")
		}
	}
}
