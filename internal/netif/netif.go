// Package netif manages the tap interface used for network analysis and the
// traffic mirror that feeds it.
package netif

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/idsagent/internal/constants"
)

var (
	// ErrLinkExists is returned by a driver when the link is already present.
	ErrLinkExists = errors.New("netif: link already exists")

	// ErrNoDefaultRoute is returned when no default route is configured.
	ErrNoDefaultRoute = errors.New("netif: no default route")

	// ErrLinkNotReady is returned when a created link never became visible.
	ErrLinkNotReady = errors.New("netif: link not ready")
)

// LinkDriver performs the raw link operations.
type LinkDriver interface {
	// AddDummy creates a dummy link. Returns ErrLinkExists if present.
	AddDummy(ctx context.Context, name string) error
	SetUp(ctx context.Context, name string) error
	// Delete removes a link. A missing link is not an error.
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	DefaultRouteInterface(ctx context.Context) (string, error)
}

// Spawner starts the mirroring process.
type Spawner interface {
	Spawn(ctx context.Context, argv []string) (int, error)
}

// NewDriver returns the driver registered under name.
func NewDriver(name, ipBinary string) (LinkDriver, error) {
	switch name {
	case constants.DriverNetlink:
		return newNetlinkDriver()
	case constants.DriverIPRoute2:
		return NewIPRoute2Driver(ipBinary), nil
	default:
		return nil, fmt.Errorf("netif: unknown driver %q", name)
	}
}

// Manager creates, activates and destroys interfaces and starts mirroring.
type Manager struct {
	driver       LinkDriver
	spawner      Spawner
	logger       *zap.Logger
	mirrorBinary string
	readyTimeout time.Duration
	pollInterval time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithMirrorBinary sets the traffic mirroring executable.
func WithMirrorBinary(bin string) Option {
	return func(m *Manager) { m.mirrorBinary = bin }
}

// WithReadyTimeout bounds the wait for a new link to become visible.
func WithReadyTimeout(d time.Duration) Option {
	return func(m *Manager) { m.readyTimeout = d }
}

// WithPollInterval sets the readiness poll step.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// NewManager creates a Manager.
func NewManager(driver LinkDriver, spawner Spawner, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		driver:       driver,
		spawner:      spawner,
		logger:       logger,
		mirrorBinary: constants.DefaultMirrorBinary,
		readyTimeout: constants.DefaultLinkReadyTimeout,
		pollInterval: constants.LinkReadyPollInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateAndActivate creates a dummy link named name and brings it up.
// An existing link is reused. If the link cannot be activated it is removed
// again, so a failed call leaves nothing behind.
func (m *Manager) CreateAndActivate(ctx context.Context, name string) error {
	err := m.driver.AddDummy(ctx, name)
	switch {
	case err == nil:
		m.logger.Debug("Created dummy link", zap.String("interface", name))
	case errors.Is(err, ErrLinkExists):
		m.logger.Info("Reusing existing link", zap.String("interface", name))
	default:
		return fmt.Errorf("creating %s: %w", name, err)
	}

	if err := m.waitReady(ctx, name); err != nil {
		m.cleanup(name)
		return err
	}
	if err := m.driver.SetUp(ctx, name); err != nil {
		m.cleanup(name)
		return fmt.Errorf("activating %s: %w", name, err)
	}

	m.logger.Info("Interface up", zap.String("interface", name))
	return nil
}

func (m *Manager) waitReady(ctx context.Context, name string) error {
	deadline := time.Now().Add(m.readyTimeout)
	for {
		ok, err := m.driver.Exists(ctx, name)
		if err != nil {
			return fmt.Errorf("checking %s: %w", name, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s after %s: %w", name, m.readyTimeout, ErrLinkNotReady)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// cleanup runs detached from the caller's context, which may already be done.
func (m *Manager) cleanup(name string) {
	if err := m.driver.Delete(context.Background(), name); err != nil {
		m.logger.Warn("Failed to remove link after activation failure",
			zap.String("interface", name), zap.Error(err))
	}
}

// Destroy removes the link. A missing link is not an error.
func (m *Manager) Destroy(ctx context.Context, name string) error {
	if err := m.driver.Delete(ctx, name); err != nil {
		return fmt.Errorf("destroying %s: %w", name, err)
	}
	m.logger.Info("Interface removed", zap.String("interface", name))
	return nil
}

// DefaultInterface returns the interface carrying the default route.
func (m *Manager) DefaultInterface(ctx context.Context) (string, error) {
	iface, err := m.driver.DefaultRouteInterface(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving default interface: %w", err)
	}
	return iface, nil
}

// StartMirroring copies traffic from src to dst and returns the mirror PID.
func (m *Manager) StartMirroring(ctx context.Context, src, dst string) (int, error) {
	pid, err := m.spawner.Spawn(ctx, []string{m.mirrorBinary, "-i", src, "-o", dst})
	if err != nil {
		return 0, fmt.Errorf("mirroring %s to %s: %w", src, dst, err)
	}
	m.logger.Info("Mirroring traffic",
		zap.String("from", src),
		zap.String("to", dst),
		zap.Int("pid", pid))
	return pid, nil
}
