// Package collector defines the plugin interface every fact collector
// implements and a registry for managing their lifecycle, grounded on
// original_source/fact/src/monitor.rs's Monitor trait and MonitorRegistry.
package collector

import (
	"context"

	"github.com/kylape/fact/pkg/fact/eventbus"
)

// Collector is implemented by each telemetry source fact can run (the file
// monitor and the package monitor).
type Collector interface {
	// Name is the collector's unique identifier.
	Name() string
	// Description is a human-readable summary of what the collector does.
	Description() string
	// CanRun reports whether the collector is able to run on the current
	// system (permissions, required binaries, kernel features).
	CanRun(ctx context.Context) (bool, error)
	// Start begins producing events onto bus. It must return once startup
	// has either succeeded or definitively failed; ongoing work continues
	// in the background until Stop is called.
	Start(ctx context.Context, bus eventbus.Bus) error
	// Stop gracefully halts the collector. Idempotent.
	Stop(ctx context.Context) error
	// IsRunning reports the collector's current status.
	IsRunning() bool
}
