// Package report summarizes and exports detection results.
package report

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nvr-ai/marine-detect/models/postprocess"
)

// ClassSummary aggregates the detections of one class.
type ClassSummary struct {
	Class          string  `json:"class"`
	Count          int     `json:"count"`
	MeanConfidence float64 `json:"mean_confidence"`
	MaxConfidence  float64 `json:"max_confidence"`
}

// Summary aggregates a detection list.
type Summary struct {
	Total          int            `json:"total"`
	MeanConfidence float64        `json:"mean_confidence"`
	Classes        []ClassSummary `json:"classes"`
}

// Summarize aggregates detections per class.
//
// Arguments:
//   - detections: The detections to summarize.
//   - taxonomy: Class order of the result. Classes outside it follow in
//     order of first appearance.
//
// Returns:
//   - Summary: Counts and confidences; classes without detections are omitted.
func Summarize(detections []postprocess.Detection, taxonomy []string) Summary {
	s := Summary{Total: len(detections), Classes: []ClassSummary{}}
	if len(detections) == 0 {
		return s
	}

	all := make([]float64, len(detections))
	byClass := make(map[string][]float64)
	var extra []string
	known := make(map[string]bool, len(taxonomy))
	for _, c := range taxonomy {
		known[c] = true
	}

	for i, d := range detections {
		all[i] = float64(d.Confidence)
		if _, seen := byClass[d.Class]; !seen && !known[d.Class] {
			extra = append(extra, d.Class)
		}
		byClass[d.Class] = append(byClass[d.Class], float64(d.Confidence))
	}
	s.MeanConfidence = stat.Mean(all, nil)

	for _, c := range append(append([]string(nil), taxonomy...), extra...) {
		scores, ok := byClass[c]
		if !ok {
			continue
		}
		s.Classes = append(s.Classes, ClassSummary{
			Class:          c,
			Count:          len(scores),
			MeanConfidence: stat.Mean(scores, nil),
			MaxConfidence:  floats.Max(scores),
		})
	}

	return s
}
