package inference

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidImage is returned when an image cannot be decoded or has no
	// pixels. It is fatal to the call.
	ErrInvalidImage = errors.New("invalid image")
	// ErrMissingOutputTensor is reported when the runtime result does not
	// contain the expected output. The call returns an empty detection list.
	ErrMissingOutputTensor = errors.New("missing output tensor")
)

// RuntimeError is a failure of the inference runtime, carried verbatim.
type RuntimeError struct {
	// Model is the name of the model whose runtime failed.
	Model string
	// Err is the runtime's own error.
	Err error
}

// Error returns the runtime's message unchanged.
func (e *RuntimeError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the runtime's error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsRuntimeError reports whether err came from the inference runtime.
func IsRuntimeError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re)
}
