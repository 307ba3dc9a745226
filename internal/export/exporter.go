// Package export provides the exporter interface and implementations.
// Exporters subscribe to the EventBus and turn agent lifecycle events into
// Prometheus metrics or NATS messages.
package export

import "context"

// Exporter defines the interface for event export backends.
type Exporter interface {
	// Name returns a unique identifier for this exporter.
	Name() string

	// Start begins consuming events. Blocks until ctx is cancelled or the
	// bus is closed.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the exporter.
	Stop(ctx context.Context) error
}
