package wire

import (
	"encoding/json"
	"fmt"
	"io"

	"trustkv/pkg/types"
)

// Handshake fixes the topology of one experiment. It is sent once, as JSON,
// on the control connection.
type Handshake struct {
	ClientThreads int         `json:"client_threads"`
	ServerThreads int         `json:"server_threads"`
	OpsPerReq     int         `json:"ops_per_req"`
	Capacity      int         `json:"capacity"`
	KeyType       types.Value `json:"key_type"`
	ValueType     types.Value `json:"value_type"`
}

// Validate rejects handshakes that cannot describe a runnable experiment.
func (h Handshake) Validate() error {
	switch {
	case h.ClientThreads <= 0:
		return &DecodeError{Message: fmt.Sprintf("client_threads must be positive, got %d", h.ClientThreads)}
	case h.ServerThreads <= 0:
		return &DecodeError{Message: fmt.Sprintf("server_threads must be positive, got %d", h.ServerThreads)}
	case h.OpsPerReq <= 0:
		return &DecodeError{Message: fmt.Sprintf("ops_per_req must be positive, got %d", h.OpsPerReq)}
	case h.Capacity < 0:
		return &DecodeError{Message: fmt.Sprintf("capacity must not be negative, got %d", h.Capacity)}
	case h.KeyType.IsZero() || h.ValueType.IsZero():
		return &DecodeError{Message: "key_type and value_type are required"}
	}
	return nil
}

// KeyKind is the kind every key of the experiment must have.
func (h Handshake) KeyKind() types.Kind {
	return h.KeyType.Kind
}

// ValueKind is the kind every inserted value must have.
func (h Handshake) ValueKind() types.Kind {
	return h.ValueType.Kind
}

// ShardCapacity is the sizing hint for one shard.
func (h Handshake) ShardCapacity() int {
	if h.ClientThreads <= 0 {
		return h.Capacity
	}
	return h.Capacity / h.ClientThreads
}

// ReadHandshake blocks until one handshake object has been read from r.
func ReadHandshake(r io.Reader) (Handshake, error) {
	var h Handshake
	if err := json.NewDecoder(r).Decode(&h); err != nil {
		return Handshake{}, &DecodeError{Message: "handshake", Err: err}
	}
	if err := h.Validate(); err != nil {
		return Handshake{}, err
	}
	return h, nil
}

// WriteHandshake sends h on w.
func WriteHandshake(w io.Writer, h Handshake) error {
	data, err := json.Marshal(h)
	if err != nil {
		return &EncodeError{Message: err.Error()}
	}
	_, err = w.Write(data)
	return err
}
