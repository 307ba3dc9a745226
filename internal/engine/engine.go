// Package engine defines the capability set the analysis controller needs
// from a concrete intrusion detection engine.
package engine

import (
	"context"
	"strings"

	"github.com/sureshkrishnan-v/idsagent/internal/alert"
)

// Adapter drives one scanning engine.
//
// Scan methods return the PID of the spawned engine process; the caller
// owns that process from then on. CollectAlerts returns everything logged
// since the previous collection and clears the engine's log so no alert is
// reported twice.
type Adapter interface {
	Name() string
	Configure(ctx context.Context, path string) (string, error)
	ConfigureRuleset(ctx context.Context, path string) (string, error)
	StartStaticScan(ctx context.Context, datasetPath string) (int, error)
	StartNetworkScan(ctx context.Context, iface string) (int, error)
	CollectAlerts(ctx context.Context) ([]alert.Alert, error)
}

// Spawner starts engine processes.
type Spawner interface {
	Spawn(ctx context.Context, argv []string) (int, error)
}

// Expand returns a copy of tmpl with every placeholder in vars replaced.
func Expand(tmpl []string, vars map[string]string) []string {
	out := make([]string, len(tmpl))
	for i, arg := range tmpl {
		for k, v := range vars {
			arg = strings.ReplaceAll(arg, k, v)
		}
		out[i] = arg
	}
	return out
}
