package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "Int"
	case KindString:
		return "String"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is the closed set of key and value kinds stored in a shard.
// It is comparable, so it can be used directly as a map key.
type Value struct {
	Kind Kind
	Int  uint64
	Str  string
}

// Key and Value share one representation.
type Key = Value

// Int builds an integer value.
func Int(v uint64) Value {
	return Value{Kind: KindInt, Int: v}
}

// String builds a string value.
func String(s string) Value {
	return Value{Kind: KindString, Str: s}
}

func (v Value) IsZero() bool {
	return v.Kind == 0
}

// Less orders values by kind first, then by payload.
func (v Value) Less(than Value) bool {
	if v.Kind != than.Kind {
		return v.Kind < than.Kind
	}
	if v.Kind == KindInt {
		return v.Int < than.Int
	}
	return v.Str < than.Str
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return "Int(" + strconv.FormatUint(v.Int, 10) + ")"
	case KindString:
		return "String(" + strconv.Quote(v.Str) + ")"
	default:
		return "<invalid>"
	}
}

// MarshalJSON encodes the value as an externally tagged object: {"Int":5} or {"String":"a"}.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindInt:
		return json.Marshal(map[string]uint64{"Int": v.Int})
	case KindString:
		return json.Marshal(map[string]string{"String": v.Str})
	default:
		return nil, fmt.Errorf("types: cannot encode value of %s", v.Kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("types: value must be a tagged object: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("types: value must carry exactly one tag, got %d", len(tagged))
	}

	for tag, raw := range tagged {
		switch tag {
		case "Int":
			var n uint64
			if err := json.Unmarshal(raw, &n); err != nil {
				return fmt.Errorf("types: Int payload: %w", err)
			}
			*v = Int(n)
		case "String":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("types: String payload: %w", err)
			}
			*v = String(s)
		default:
			return fmt.Errorf("types: unknown value tag %q", tag)
		}
	}

	return nil
}

// ShardID identifies a logical shard.
type ShardID uint32

// WorkerID is the stable index of a worker inside a pool.
type WorkerID int
