package wire

import "errors"

// ErrIncomplete reports that the buffer does not hold a whole batch yet.
var ErrIncomplete = errors.New("wire: incomplete batch")

type EncodeError struct {
	Message string
}

func (e *EncodeError) Error() string {
	return "wire: encode: " + e.Message
}

type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "wire: decode: " + e.Message + ": " + e.Err.Error()
	}
	return "wire: decode: " + e.Message
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
