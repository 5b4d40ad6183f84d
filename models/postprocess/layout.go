package postprocess

import (
	"github.com/pkg/errors"
)

// ErrUnsupportedTensorShape is reported when an output tensor matches none of
// the known detection layouts and a best-effort layout is used instead.
var ErrUnsupportedTensorShape = errors.New("unsupported tensor shape")

// Orientation says which tensor axis enumerates candidate detections.
type Orientation int

const (
	// DetectionsMajor stores each detection's values contiguously: [n, values].
	DetectionsMajor Orientation = iota
	// ValuesMajor stores each value across all detections contiguously: [values, n].
	ValuesMajor
)

// String returns the orientation name.
func (o Orientation) String() string {
	switch o {
	case DetectionsMajor:
		return "detections_major"
	case ValuesMajor:
		return "values_major"
	default:
		return "unknown"
	}
}

// TensorLayout describes how candidate detections are laid out in a raw
// output tensor.
type TensorLayout struct {
	DetectionCount     int
	ValuesPerDetection int
	Orientation        Orientation
}

// Strides returns the buffer offsets between consecutive detections and
// between consecutive values of one detection. Value k of detection i lives at
// data[i*detection + k*value].
func (l TensorLayout) Strides() (detection, value int) {
	if l.Orientation == ValuesMajor {
		return 1, l.DetectionCount
	}
	return l.ValuesPerDetection, 1
}

// Capacity returns how many detections can be read from a buffer of n
// elements without reading past its end.
func (l TensorLayout) Capacity(n int) int {
	if l.DetectionCount <= 0 || l.ValuesPerDetection <= 0 || n <= 0 {
		return 0
	}

	var c int
	if l.Orientation == ValuesMajor {
		c = n - (l.ValuesPerDetection-1)*l.DetectionCount
	} else {
		c = n / l.ValuesPerDetection
	}

	return max(0, min(c, l.DetectionCount))
}

// ResolveLayout infers the detection layout of an output tensor from its
// dimensions.
//
// Rank 3 tensors [batch, d1, d2] are DetectionsMajor when d2 holds
// numClasses+5 or numClasses+4 values and ValuesMajor when d1 does. Rank 2
// tensors [n, v] are DetectionsMajor. Anything else falls back to a
// best-effort layout.
//
// Arguments:
//   - dims: The tensor dimensions.
//   - elements: The number of elements in the tensor buffer.
//   - numClasses: The number of classes in the taxonomy.
//
// Returns:
//   - TensorLayout: The resolved layout. Always usable, even when err is set.
//   - error: A diagnostic wrapping ErrUnsupportedTensorShape when the layout is a guess.
func ResolveLayout(dims []int, elements, numClasses int) (TensorLayout, error) {
	expected := numClasses + 5

	switch len(dims) {
	case 3:
		d1, d2 := dims[1], dims[2]
		if d2 == expected || d2 == expected-1 {
			return TensorLayout{DetectionCount: d1, ValuesPerDetection: d2, Orientation: DetectionsMajor}, nil
		}
		if d1 == expected || d1 == expected-1 {
			return TensorLayout{DetectionCount: d2, ValuesPerDetection: d1, Orientation: ValuesMajor}, nil
		}
		return TensorLayout{DetectionCount: d2, ValuesPerDetection: d1, Orientation: ValuesMajor},
			errors.Wrapf(ErrUnsupportedTensorShape,
				"dims %v match neither %d nor %d values per detection", dims, expected, expected-1)
	case 2:
		return TensorLayout{DetectionCount: dims[0], ValuesPerDetection: dims[1], Orientation: DetectionsMajor}, nil
	default:
		return TensorLayout{DetectionCount: elements / expected, ValuesPerDetection: expected, Orientation: DetectionsMajor},
			errors.Wrapf(ErrUnsupportedTensorShape, "rank %d tensor %v", len(dims), dims)
	}
}
