// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"fmt"

	"github.com/nvr-ai/marine-detect/images"
)

// Detection represents a single decoded detection.
type Detection struct {
	// Sequence index of the candidate within one decode call.
	ID int `json:"id"`
	// The normalized center-form bounding box.
	Box images.Box `json:"bbox"`
	// The class label.
	Class string `json:"class"`
	// The index of the class in the taxonomy.
	ClassIndex int `json:"class_index"`
	// The objectness-weighted class confidence in [0, 1].
	Confidence float32 `json:"confidence"`
}

// ClassName returns the taxonomy entry for idx, or a synthesized "class_N"
// placeholder when idx is outside the taxonomy.
func ClassName(classes []string, idx int) string {
	if idx >= 0 && idx < len(classes) {
		return classes[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}

// FilterByConfidence returns the detections whose confidence is at least threshold,
// preserving order. The input is not modified.
func FilterByConfidence(detections []Detection, threshold float32) []Detection {
	out := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}
