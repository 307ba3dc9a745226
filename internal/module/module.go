// Package module defines the Module interface implemented by the agent's
// long-running components (resource sampler, command API).
package module

import (
	"context"

	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/idsagent/internal/config"
	"github.com/sureshkrishnan-v/idsagent/internal/event"
)

// Module defines the lifecycle contract for a runtime-managed component.
//
// Lifecycle: Init(ctx, deps) → Start(ctx) → Stop(ctx)
type Module interface {
	// Name returns a unique identifier for this module, used in logs.
	Name() string

	// Init prepares the module. Dependencies are injected here and stored
	// for later use.
	Init(ctx context.Context, deps Dependencies) error

	// Start runs the module. Must block until ctx is cancelled or an
	// unrecoverable error occurs.
	Start(ctx context.Context) error

	// Stop shuts the module down within the deadline carried by ctx.
	Stop(ctx context.Context) error
}

// Dependencies provides the shared resources a module needs.
type Dependencies struct {
	Logger   *zap.Logger
	Config   *config.Config
	EventBus *event.Bus
}

// NewDependencies creates a Dependencies struct.
func NewDependencies(logger *zap.Logger, cfg *config.Config, bus *event.Bus) Dependencies {
	return Dependencies{
		Logger:   logger,
		Config:   cfg,
		EventBus: bus,
	}
}
