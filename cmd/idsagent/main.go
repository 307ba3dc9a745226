// idsagent runs inside an IDS sensor container. It drives the scanning
// engine on behalf of the core backend and reports alerts and resource
// usage back to it.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sureshkrishnan-v/idsagent/internal/agent"
	"github.com/sureshkrishnan-v/idsagent/internal/config"
	"github.com/sureshkrishnan-v/idsagent/internal/constants"
	"github.com/sureshkrishnan-v/idsagent/internal/sampler"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "idsagent: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:           "idsagent",
		Short:         "IDS sensor agent",
		Version:       constants.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Agent.LogLevel = logLevel
			}

			logger, err := newLogger(cfg.Agent.LogLevel)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			defer logger.Sync()

			logger.Info("IDS agent starting",
				zap.String("version", constants.Version),
				zap.String("config", configPath),
				zap.String("engine", cfg.Engine.Name))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := agent.NewRuntime(cfg, logger)
			if err != nil {
				return err
			}
			return rt.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", constants.DefaultConfigPath, "Path to the YAML config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	cmd.AddCommand(versionCmd(), detectCgroupCmd())
	return cmd
}

// newLogger builds the production JSON logger at the given level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	logConfig.EncoderConfig.TimeKey = "ts"
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return logConfig.Build()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), constants.Version)
		},
	}
}

// detectCgroupCmd reports which counter layout the sampler would use and
// whether the counters are readable.
func detectCgroupCmd() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "detect-cgroup",
		Short: "Print the detected cgroup counter layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			layout, detected := sampler.DetectLayout(root)
			fmt.Fprintf(out, "root:     %s\nlayout:   %s\ndetected: %t\n", root, layout, detected)

			reader := sampler.NewCounterReader(layout, root)
			if cpu, err := reader.CPUMicros(); err != nil {
				fmt.Fprintf(out, "cpu:      %v\n", err)
			} else {
				fmt.Fprintf(out, "cpu:      %d usec\n", cpu)
			}
			if mem, err := reader.MemoryBytes(); err != nil {
				fmt.Fprintf(out, "memory:   %v\n", err)
			} else {
				fmt.Fprintf(out, "memory:   %d bytes\n", mem)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "cgroup-root", constants.DefaultCgroupRoot, "cgroup hierarchy mount point")
	return cmd
}
