package affinity

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"

	"trustkv/pkg/dberrors"
)

// Strategy decides which core each worker index is pinned to.
type Strategy uint8

const (
	// Compact packs workers onto contiguous core ids starting at 0.
	Compact Strategy = iota
	// Spread spaces workers evenly across every available core.
	Spread
)

func (s Strategy) String() string {
	switch s {
	case Compact:
		return "compact"
	case Spread:
		return "spread"
	default:
		return fmt.Sprintf("Strategy(%d)", uint8(s))
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "compact":
		return Compact, nil
	case "spread":
		return Spread, nil
	default:
		return Compact, fmt.Errorf("%w: placement strategy %q", dberrors.ErrInvalidArgument, s)
	}
}

// AvailableCores reports the number of logical cores of the host.
func AvailableCores() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Plan maps worker indexes 0..workers-1 to distinct core ids out of cores.
func Plan(workers, cores int, s Strategy) ([]int, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: worker count %d", dberrors.ErrInvalidArgument, workers)
	}
	if workers > cores {
		return nil, fmt.Errorf("%w: %d workers on %d cores", dberrors.ErrNotEnoughCores, workers, cores)
	}

	plan := make([]int, workers)
	for i := range plan {
		switch s {
		case Spread:
			plan[i] = i * cores / workers
		default:
			plan[i] = i
		}
	}
	return plan, nil
}

// Pinner binds the calling OS thread to a core.
// Callers must hold runtime.LockOSThread for the pin to stick to a goroutine.
type Pinner interface {
	Pin(core int) error
}

type noopPinner struct{}

func (noopPinner) Pin(int) error { return nil }

// Noop returns a pinner that leaves scheduling to the OS.
func Noop() Pinner { return noopPinner{} }
