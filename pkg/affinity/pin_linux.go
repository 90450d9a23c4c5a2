//go:build linux

package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type schedPinner struct{}

func (schedPinner) Pin(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	// pid 0 is the calling thread
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: pin to core %d: %w", core, err)
	}
	return nil
}

// Default returns the platform pinner.
func Default() Pinner { return schedPinner{} }
