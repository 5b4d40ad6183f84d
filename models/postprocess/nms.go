// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/marine-detect/images"
)

const (
	// DefaultIoUThreshold is the overlap at which a lower scoring box is suppressed.
	DefaultIoUThreshold float32 = 0.5
	// DefaultMaxDetections caps the number of boxes NMS returns.
	DefaultMaxDetections = 300
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// Overlap threshold for suppression. Boxes with IoU >= threshold are removed.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// Maximum number of detections kept. Zero or less means DefaultMaxDetections.
	MaxDetections int `json:"max_detections" yaml:"max_detections"`
	// If true, suppress only within same class.
	ClassAware bool `json:"class_aware" yaml:"class_aware"`
}

// DefaultNMSConfig returns the class-agnostic defaults.
func DefaultNMSConfig() *NMSConfig {
	return &NMSConfig{
		IoUThreshold:  DefaultIoUThreshold,
		MaxDetections: DefaultMaxDetections,
	}
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Candidates are ordered by descending confidence, ties keeping their input
// order. The best remaining candidate is kept and every remaining candidate
// overlapping it with IoU >= threshold is dropped, until none remain or
// MaxDetections are kept. The input slice is not modified.
//
// Arguments:
//   - detections: Decoded candidates in any order.
//   - config: NMS configuration; nil means DefaultNMSConfig.
//
// Returns:
//   - []Detection: The kept detections sorted by descending confidence, never nil.
func ApplyGreedyNMS(detections []Detection, config *NMSConfig) []Detection {
	if config == nil {
		config = DefaultNMSConfig()
	}
	limit := config.MaxDetections
	if limit <= 0 {
		limit = DefaultMaxDetections
	}

	n := len(detections)
	if n == 0 {
		return []Detection{}
	}

	sorted := make([]Detection, n)
	copy(sorted, detections)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Confidence > sorted[b].Confidence
	})

	rects := make([]images.Rect, n)
	for i := range sorted {
		rects[i] = sorted[i].Box.Rect()
	}

	filtered := make([]Detection, 0, min(n, limit))
	used := make([]bool, n)

	for i := 0; i < n && len(filtered) < limit; i++ {
		if used[i] {
			continue
		}

		anchor := sorted[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if config.ClassAware && anchor.Class != sorted[j].Class {
				continue
			}

			if images.CalculateIoU(rects[i], rects[j]) >= config.IoUThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}
