package workload

import (
	"fmt"

	"trustkv/pkg/dberrors"
)

// Mix is the percentage of each operation kind in a workload.
type Mix struct {
	Read   uint8 `yaml:"read"`
	Insert uint8 `yaml:"insert"`
	Remove uint8 `yaml:"remove"`
	Update uint8 `yaml:"update"`
	Upsert uint8 `yaml:"upsert"`
}

func (m Mix) Validate() error {
	sum := int(m.Read) + int(m.Insert) + int(m.Remove) + int(m.Update) + int(m.Upsert)
	if sum != 100 {
		return fmt.Errorf("%w: mix adds up to %d%%, want 100%%", dberrors.ErrInvalidArgument, sum)
	}
	return nil
}

func (m Mix) String() string {
	return fmt.Sprintf("read=%d insert=%d remove=%d update=%d upsert=%d", m.Read, m.Insert, m.Remove, m.Update, m.Upsert)
}

// Kind names a preset workload.
type Kind string

const (
	ReadHeavy Kind = "ReadHeavy"
	Exchange  Kind = "Exchange"
	RapidGrow Kind = "RapidGrow"
)

// ParseKind accepts the preset names exactly as spelled above.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case ReadHeavy, Exchange, RapidGrow:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown workload %q", dberrors.ErrInvalidArgument, s)
	}
}

// Preset builds the named workload.
func Preset(k Kind, threads int, capacityLog2 uint8) (Workload, error) {
	var (
		mix     Mix
		prefill float64
	)
	switch k {
	case ReadHeavy:
		mix = Mix{Read: 98, Insert: 1, Remove: 1}
		prefill = 0.8
	case Exchange:
		mix = Mix{Read: 10, Insert: 40, Remove: 40, Update: 10}
		prefill = 0.8
	case RapidGrow:
		mix = Mix{Read: 5, Insert: 80, Remove: 5, Update: 10}
		prefill = 0
	default:
		return Workload{}, fmt.Errorf("%w: unknown workload %q", dberrors.ErrInvalidArgument, k)
	}

	w := New(threads, mix)
	w.InitialCapLog2 = capacityLog2
	w.PrefillFraction = prefill
	return w, nil
}
