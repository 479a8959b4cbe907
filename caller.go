package branchfs

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Caller is the identity a write-path operation acts on behalf of. It
// decides ownership of new entries and which privileged mode bits survive a
// promotion.
type Caller struct {
	UID   uint32
	GID   uint32
	Umask uint32
}

var (
	processUmask     uint32
	processUmaskOnce sync.Once
)

// ProcessCaller returns the identity of the running process. The umask is
// read once; reading it requires setting it, so later reads would race with
// file creation elsewhere in the process.
func ProcessCaller() Caller {
	processUmaskOnce.Do(func() {
		old := unix.Umask(0)
		unix.Umask(old)
		processUmask = uint32(old)
	})
	return Caller{
		UID:   uint32(os.Getuid()),
		GID:   uint32(os.Getgid()),
		Umask: processUmask,
	}
}

// isProcess reports whether c is the identity the process already runs as,
// in which case new entries need no ownership fix-up.
func (c Caller) isProcess() bool {
	return c.UID == uint32(os.Getuid()) && c.GID == uint32(os.Getgid())
}
