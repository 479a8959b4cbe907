// Package metrics provides Prometheus metrics collection for branchfs.
//
// Metrics are optional. Until InitRegistry is called the constructors return
// nil and the engine keeps its built-in no-op implementation.
//
// Usage:
//
//	metrics.InitRegistry()
//	fsys, err := branchfs.New(
//	    branchfs.WithBranch("/srv/rw", true),
//	    branchfs.WithMetrics(metrics.NewBranchMetrics()),
//	)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Subsequent calls
// are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
