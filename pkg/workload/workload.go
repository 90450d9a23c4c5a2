// Package workload describes benchmark operation mixes and turns them into
// per-thread operation streams.
package workload

import (
	"fmt"

	"trustkv/pkg/dberrors"
)

const (
	DefaultCapLog2    = 25
	DefaultOpsFactor  = 0.75
	DefaultOpsStretch = 1
)

// Workload sizes a benchmark run relative to the initial table capacity.
type Workload struct {
	Mix Mix
	// InitialCapLog2 is the initial capacity as a power of two.
	InitialCapLog2 uint8
	// PrefillFraction of the capacity is inserted before the measured run.
	PrefillFraction float64
	// OpsFactor is the number of measured operations as a multiple of the capacity. It may exceed 1.
	OpsFactor float64
	// OpsPerRequest is the number of operations sent per batch.
	OpsPerRequest int
	Threads       int
	// Seed makes the streams reproducible; the run is only fully deterministic with one thread.
	Seed *[32]byte
}

func New(threads int, mix Mix) Workload {
	return Workload{
		Mix:            mix,
		InitialCapLog2: DefaultCapLog2,
		OpsFactor:      DefaultOpsFactor,
		OpsPerRequest:  DefaultOpsStretch,
		Threads:        threads,
	}
}

func (w Workload) Validate() error {
	if err := w.Mix.Validate(); err != nil {
		return err
	}
	switch {
	case w.Threads < 1:
		return fmt.Errorf("%w: threads must be positive", dberrors.ErrInvalidArgument)
	case w.OpsPerRequest < 1:
		return fmt.Errorf("%w: ops per request must be positive", dberrors.ErrInvalidArgument)
	case w.InitialCapLog2 > 40:
		return fmt.Errorf("%w: capacity exponent %d is too large", dberrors.ErrInvalidArgument, w.InitialCapLog2)
	case w.PrefillFraction < 0 || w.PrefillFraction > 1:
		return fmt.Errorf("%w: prefill fraction %v outside [0, 1]", dberrors.ErrInvalidArgument, w.PrefillFraction)
	case w.OpsFactor < 0:
		return fmt.Errorf("%w: negative operations factor", dberrors.ErrInvalidArgument)
	}
	return nil
}

// Capacity is 2^InitialCapLog2.
func (w Workload) Capacity() int {
	return 1 << w.InitialCapLog2
}

// PrefillPerThread is the number of keys each thread inserts before the run.
func (w Workload) PrefillPerThread() int {
	return int(w.PrefillFraction*float64(w.Capacity())) / w.Threads
}

// OpsPerThread is the number of measured operations each thread issues.
func (w Workload) OpsPerThread() int {
	return int(w.OpsFactor*float64(w.Capacity())) / w.Threads
}
