// Package command implements engine.Adapter for engines driven entirely by
// command-line templates, a config file location and a JSON-lines alert log.
package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/idsagent/internal/alert"
	"github.com/sureshkrishnan-v/idsagent/internal/config"
	"github.com/sureshkrishnan-v/idsagent/internal/constants"
	"github.com/sureshkrishnan-v/idsagent/internal/engine"
)

// Parser maps one alert log line to an Alert. Lines that fail to parse are
// skipped.
type Parser func(line string) (alert.Alert, error)

// Engine is a template-driven engine adapter.
type Engine struct {
	cfg     config.EngineConfig
	spawner engine.Spawner
	parser  Parser
	logger  *zap.Logger

	// logMu serializes collections so a line is never read twice.
	logMu sync.Mutex
}

var _ engine.Adapter = (*Engine)(nil)

// New creates an Engine. The alert parser follows cfg.AlertFormat.
func New(cfg config.EngineConfig, spawner engine.Spawner, logger *zap.Logger) *Engine {
	parser := Parser(alert.Parse)
	if cfg.AlertFormat == constants.AlertFormatEVE {
		parser = ParseEVE
	}
	return &Engine{cfg: cfg, spawner: spawner, parser: parser, logger: logger}
}

// WithParser replaces the alert log parser.
func (e *Engine) WithParser(p Parser) *Engine {
	e.parser = p
	return e
}

func (e *Engine) Name() string {
	if e.cfg.Name == "" {
		return "engine"
	}
	return e.cfg.Name
}

// Configure installs the uploaded file as the engine configuration.
func (e *Engine) Configure(_ context.Context, path string) (string, error) {
	if e.cfg.ConfigPath == "" {
		return fmt.Sprintf("%s reads no configuration file", e.Name()), nil
	}
	if err := copyFile(path, e.cfg.ConfigPath); err != nil {
		return "", fmt.Errorf("installing configuration: %w", err)
	}
	e.logger.Info("Configuration installed", zap.String("path", e.cfg.ConfigPath))
	return fmt.Sprintf("configured %s", e.Name()), nil
}

// ConfigureRuleset installs the uploaded file as the engine ruleset.
func (e *Engine) ConfigureRuleset(_ context.Context, path string) (string, error) {
	if e.cfg.RulesetPath == "" {
		return fmt.Sprintf("no ruleset required for %s", e.Name()), nil
	}
	if err := copyFile(path, e.cfg.RulesetPath); err != nil {
		return "", fmt.Errorf("installing ruleset: %w", err)
	}
	e.logger.Info("Ruleset installed", zap.String("path", e.cfg.RulesetPath))
	return fmt.Sprintf("ruleset installed for %s", e.Name()), nil
}

func (e *Engine) StartStaticScan(ctx context.Context, datasetPath string) (int, error) {
	argv := engine.Expand(e.cfg.StaticCommand, map[string]string{constants.PlaceholderFile: datasetPath})
	return e.spawner.Spawn(ctx, argv)
}

func (e *Engine) StartNetworkScan(ctx context.Context, iface string) (int, error) {
	argv := engine.Expand(e.cfg.NetworkCommand, map[string]string{constants.PlaceholderIface: iface})
	return e.spawner.Spawn(ctx, argv)
}

// CollectAlerts parses the alert log and truncates it. A missing log yields
// an empty batch.
func (e *Engine) CollectAlerts(_ context.Context) ([]alert.Alert, error) {
	e.logMu.Lock()
	defer e.logMu.Unlock()

	f, err := os.Open(e.cfg.AlertLog)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []alert.Alert{}, nil
		}
		return nil, fmt.Errorf("opening alert log: %w", err)
	}
	defer f.Close()

	alerts := []alert.Alert{}
	skipped, oversized := 0, 0
	br := bufio.NewReaderSize(f, 64*1024)
	for {
		line, tooLong, err := readLine(br, constants.MaxAlertLineBytes)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading alert log: %w", err)
		}
		if tooLong {
			oversized++
			skipped++
			continue
		}
		if len(line) == 0 {
			continue
		}
		a, err := e.parser(string(line))
		if err != nil {
			skipped++
			continue
		}
		alerts = append(alerts, a)
	}
	if oversized > 0 {
		e.logger.Warn("Skipped oversized alert log lines",
			zap.Int("lines", oversized),
			zap.Int("limit_bytes", constants.MaxAlertLineBytes))
	}

	if err := os.Truncate(e.cfg.AlertLog, 0); err != nil {
		return nil, fmt.Errorf("clearing alert log: %w", err)
	}

	e.logger.Debug("Collected alerts",
		zap.Int("alerts", len(alerts)),
		zap.Int("skipped_lines", skipped))
	return alerts, nil
}

// readLine returns the next line without its terminator. Lines longer than
// limit are consumed in full and reported as tooLong with no content.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		frag, more, err := r.ReadLine()
		if err != nil {
			return nil, false, err
		}
		if !tooLong {
			if len(line)+len(frag) > limit {
				tooLong, line = true, nil
			} else {
				line = append(line, frag...)
			}
		}
		if !more {
			return line, tooLong, nil
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
