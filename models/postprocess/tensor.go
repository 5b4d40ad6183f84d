package postprocess

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// RawTensor is a flat float32 buffer with its dimensions, as produced by an
// inference runtime. It is read-only for the decoder.
type RawTensor struct {
	Data  []float32
	Shape tensor.Shape
}

// NewRawTensor wraps data with the given dimensions.
func NewRawTensor(data []float32, dims ...int) RawTensor {
	return RawTensor{Data: data, Shape: tensor.Shape(dims)}
}

// FromDense converts a gorgonia dense tensor into a RawTensor without copying.
//
// Arguments:
//   - d: A float32 dense tensor.
//
// Returns:
//   - RawTensor: The tensor sharing d's backing buffer.
//   - error: An error if d is nil or not float32.
func FromDense(d *tensor.Dense) (RawTensor, error) {
	if d == nil {
		return RawTensor{}, errors.New("nil tensor")
	}
	if d.Dtype() != tensor.Float32 {
		return RawTensor{}, errors.Errorf("expected float32 tensor, got %v", d.Dtype())
	}

	data, ok := d.Data().([]float32)
	if !ok {
		return RawTensor{}, errors.New("tensor backing is not a []float32")
	}

	return RawTensor{Data: data, Shape: d.Shape().Clone()}, nil
}

// Dense returns a gorgonia view of the tensor sharing the same buffer.
func (t RawTensor) Dense() *tensor.Dense {
	return tensor.New(tensor.WithShape(t.Shape.Clone()...), tensor.WithBacking(t.Data))
}

// Dims returns the tensor dimensions as plain ints.
func (t RawTensor) Dims() []int {
	return []int(t.Shape)
}

// Len returns the number of elements in the buffer.
func (t RawTensor) Len() int {
	return len(t.Data)
}
