package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"trustkv/pkg/types"
)

// Request is the structured form of one batch.
type Request struct {
	Operations []Operation `json:"operations"`
}

// Reply is the structured form of a batch's results.
type Reply struct {
	Results []Result `json:"results"`
}

type keyBody struct {
	Key types.Key `json:"key"`
}

type keyValueBody struct {
	Key   types.Key   `json:"key"`
	Value types.Value `json:"value"`
}

// MarshalJSON encodes Close as the bare string "Close" and every other kind as
// a single-key object such as {"Read":{"key":{"Int":5}}}.
func (op Operation) MarshalJSON() ([]byte, error) {
	switch op.Kind {
	case OpClose:
		return []byte(`"Close"`), nil
	case OpRead:
		return json.Marshal(map[string]keyBody{"Read": {Key: op.Key}})
	case OpInsert:
		return json.Marshal(map[string]keyValueBody{"Insert": {Key: op.Key, Value: op.Value}})
	case OpRemove:
		return json.Marshal(map[string]keyBody{"Remove": {Key: op.Key}})
	case OpIncrement:
		return json.Marshal(map[string]keyBody{"Increment": {Key: op.Key}})
	default:
		return nil, &EncodeError{Message: "unknown operation " + op.Kind.String()}
	}
}

func (op *Operation) UnmarshalJSON(data []byte) error {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		if unit != "Close" {
			return fmt.Errorf("unknown unit operation %q", unit)
		}
		*op = Close()
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("operation must be a string or tagged object: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("operation must carry exactly one tag, got %d", len(tagged))
	}

	for tag, raw := range tagged {
		switch tag {
		case "Read", "Remove", "Increment":
			var body keyBody
			if err := json.Unmarshal(raw, &body); err != nil {
				return fmt.Errorf("%s body: %w", tag, err)
			}
			if body.Key.IsZero() {
				return fmt.Errorf("%s without key", tag)
			}
			switch tag {
			case "Read":
				*op = Read(body.Key)
			case "Remove":
				*op = Remove(body.Key)
			default:
				*op = Increment(body.Key)
			}
		case "Insert":
			var body keyValueBody
			if err := json.Unmarshal(raw, &body); err != nil {
				return fmt.Errorf("Insert body: %w", err)
			}
			if body.Key.IsZero() || body.Value.IsZero() {
				return errors.New("Insert without key or value")
			}
			*op = Insert(body.Key, body.Value)
		case "Close":
			*op = Close()
		default:
			return fmt.Errorf("unknown operation tag %q", tag)
		}
	}
	return nil
}

// MarshalJSON encodes {"Success":<value>} or {"Failure":"<reason>"}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.OK {
		return json.Marshal(map[string]types.Value{"Success": r.Value})
	}
	return json.Marshal(map[string]string{"Failure": r.Reason})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if raw, ok := tagged["Success"]; ok {
		var v types.Value
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		*r = Success(v)
		return nil
	}
	if raw, ok := tagged["Failure"]; ok {
		var reason string
		if err := json.Unmarshal(raw, &reason); err != nil {
			return err
		}
		*r = Failure(reason)
		return nil
	}
	return errors.New("result must be tagged Success or Failure")
}

// JSONCodec frames batches by JSON value boundaries. Replies are newline terminated.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) DecodeBatch(buf []byte) ([]Operation, int, error) {
	if len(bytes.TrimSpace(buf)) == 0 {
		return nil, 0, ErrIncomplete
	}

	dec := json.NewDecoder(bytes.NewReader(buf))
	var req Request
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, 0, ErrIncomplete
		}
		return nil, 0, &DecodeError{Message: "structured request", Err: err}
	}
	return req.Operations, int(dec.InputOffset()), nil
}

func (JSONCodec) EncodeReply(dst []byte, results []Result) ([]byte, error) {
	data, err := json.Marshal(Reply{Results: results})
	if err != nil {
		return dst, &EncodeError{Message: err.Error()}
	}
	dst = append(dst, data...)
	return append(dst, '\n'), nil
}

func (JSONCodec) EncodeBatch(dst []byte, ops []Operation) ([]byte, error) {
	data, err := json.Marshal(Request{Operations: ops})
	if err != nil {
		return dst, &EncodeError{Message: err.Error()}
	}
	dst = append(dst, data...)
	return append(dst, '\n'), nil
}

func (JSONCodec) DecodeReply(buf []byte, _ int) ([]Result, int, error) {
	if len(bytes.TrimSpace(buf)) == 0 {
		return nil, 0, ErrIncomplete
	}

	dec := json.NewDecoder(bytes.NewReader(buf))
	var rep Reply
	if err := dec.Decode(&rep); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, 0, ErrIncomplete
		}
		return nil, 0, &DecodeError{Message: "structured reply", Err: err}
	}
	return rep.Results, int(dec.InputOffset()), nil
}
