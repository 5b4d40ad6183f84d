package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/marine-detect/images"
)

// DefaultConfidenceThreshold is the minimum confidence a candidate needs to
// survive decoding.
const DefaultConfidenceThreshold float32 = 0.25

// normalizedLimit is the largest raw coordinate magnitude treated as already
// normalized. Larger values are taken to be pixels.
const normalizedLimit float32 = 1.5

var (
	// ErrTaxonomyMismatch is reported when a tensor carries no class scores
	// usable with the taxonomy.
	ErrTaxonomyMismatch = errors.New("model output does not match taxonomy")
	// ErrTensorTooSmall is reported when a tensor buffer holds fewer values
	// than its layout describes.
	ErrTensorTooSmall = errors.New("tensor buffer smaller than layout")
)

// Decoder turns raw detection tensors into scored, normalized detections.
type Decoder struct {
	// Classes is the ordered taxonomy.
	Classes []string
	// InputWidth and InputHeight are the model input size, used to normalize
	// pixel-scale coordinates.
	InputWidth  int
	InputHeight int
	// ConfidenceThreshold drops candidates scoring below it.
	ConfidenceThreshold float32

	logger *zap.Logger
}

// NewDecoder creates a decoder for a taxonomy and model input size.
//
// Arguments:
//   - classes: The ordered taxonomy.
//   - inputWidth: The model input width in pixels.
//   - inputHeight: The model input height in pixels.
//   - threshold: The confidence threshold; DefaultConfidenceThreshold when negative.
//   - logger: Receives layout and taxonomy diagnostics; may be nil.
//
// Returns:
//   - *Decoder: The decoder.
func NewDecoder(classes []string, inputWidth, inputHeight int, threshold float32, logger *zap.Logger) *Decoder {
	if threshold < 0 {
		threshold = DefaultConfidenceThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Decoder{
		Classes:             classes,
		InputWidth:          inputWidth,
		InputHeight:         inputHeight,
		ConfidenceThreshold: threshold,
		logger:              logger,
	}
}

// Resolve resolves the layout of t, logging a warning when the layout is a
// best-effort guess.
func (d *Decoder) Resolve(t RawTensor) TensorLayout {
	layout, err := ResolveLayout(t.Dims(), t.Len(), len(d.Classes))
	if err != nil {
		d.log().Warn("using best-effort tensor layout",
			zap.Error(err),
			zap.Ints("dims", t.Dims()),
			zap.Int("num_classes", len(d.Classes)),
			zap.Stringer("orientation", layout.Orientation),
			zap.Int("detection_count", layout.DetectionCount),
			zap.Int("values_per_detection", layout.ValuesPerDetection),
		)
	}
	return layout
}

// DecodeTensor resolves the layout of t and decodes it.
func (d *Decoder) DecodeTensor(t RawTensor) []Detection {
	return d.Decode(t, d.Resolve(t))
}

// Decode extracts every candidate of t that clears the confidence threshold.
//
// Each candidate's confidence is the best clamped class score multiplied by
// the clamped objectness, when the layout carries an objectness channel.
// Coordinates are normalized to [0, 1]. The result is unordered and has not
// been through NMS.
//
// Arguments:
//   - t: The raw output tensor.
//   - layout: The layout of t.
//
// Returns:
//   - []Detection: The candidates, never nil.
func (d *Decoder) Decode(t RawTensor, layout TensorLayout) []Detection {
	numClasses := len(d.Classes)
	vpd := layout.ValuesPerDetection

	hasObjectness := vpd == numClasses+5 || vpd == numClasses+6
	base := 4
	if hasObjectness {
		base = 5
	}

	usable := min(numClasses, max(0, vpd-base))
	if usable == 0 {
		d.log().Warn("no usable class scores in model output",
			zap.Error(ErrTaxonomyMismatch),
			zap.Int("values_per_detection", vpd),
			zap.Int("num_classes", numClasses),
		)
		return []Detection{}
	}
	if usable != numClasses {
		d.log().Warn("model output covers part of the taxonomy",
			zap.Int("usable_classes", usable),
			zap.Int("num_classes", numClasses),
			zap.Int("values_per_detection", vpd),
		)
	}

	count := layout.Capacity(t.Len())
	if count < layout.DetectionCount {
		d.log().Warn("decoding a truncated tensor",
			zap.Error(ErrTensorTooSmall),
			zap.Int("elements", t.Len()),
			zap.Int("detection_count", layout.DetectionCount),
			zap.Int("readable", count),
		)
	}

	w, h := float32(d.InputWidth), float32(d.InputHeight)
	ds, vs := layout.Strides()
	data := t.Data

	detections := make([]Detection, 0, 16)
	for i := 0; i < count; i++ {
		off := i * ds

		objectness := float32(1)
		if hasObjectness {
			objectness = clamp01(data[off+4*vs])
		}

		var best float32
		bestClass := 0
		for j := 0; j < usable; j++ {
			score := clamp01(data[off+(base+j)*vs]) * objectness
			if score > best {
				best = score
				bestClass = j
			}
		}
		if best < d.ConfidenceThreshold {
			continue
		}

		detections = append(detections, Detection{
			ID: i,
			Box: images.Box{
				CenterX: normalize(data[off], w),
				CenterY: normalize(data[off+vs], h),
				Width:   normalize(data[off+2*vs], w),
				Height:  normalize(data[off+3*vs], h),
			},
			Class:      ClassName(d.Classes, bestClass),
			ClassIndex: bestClass,
			Confidence: best,
		})
	}

	return detections
}

// clamp01 clamps v to [0, 1], mapping NaN to 0.
func clamp01(v float32) float32 {
	switch {
	case math32.IsNaN(v), v <= 0:
		return 0
	case v >= 1:
		return 1
	default:
		return v
	}
}

// normalize maps a raw coordinate to [0, 1]. Finite values with magnitude up
// to 1.5 are taken as normalized already; anything else is divided by the
// model dimension first.
func normalize(v, dim float32) float32 {
	if !math32.IsInf(v, 0) && !math32.IsNaN(v) && math32.Abs(v) <= normalizedLimit {
		return clamp01(v)
	}
	if dim <= 0 {
		return clamp01(v)
	}
	return clamp01(v / dim)
}

func (d *Decoder) log() *zap.Logger {
	if d.logger == nil {
		return zap.NewNop()
	}
	return d.logger
}
