package branchfs

import "time"

// Metrics receives engine events. Implementations must be safe for
// concurrent use. A nil Metrics passed to WithMetrics keeps the no-op.
type Metrics interface {
	// ObservePromotion is called once per CowRequest with the source entry
	// kind ("file", "symlink", "dir", "fifo", "device", "socket") and
	// the outcome.
	ObservePromotion(kind string, duration time.Duration, err error)

	// ObserveWhiteout is called when a marker is created ("hide") or
	// deleted ("unhide").
	ObserveWhiteout(op string)

	// ObserveListing is called per merged listing with the number of names
	// returned.
	ObserveListing(entries int)
}

type noopMetrics struct{}

func (noopMetrics) ObservePromotion(string, time.Duration, error) {}
func (noopMetrics) ObserveWhiteout(string)                        {}
func (noopMetrics) ObserveListing(int)                            {}
