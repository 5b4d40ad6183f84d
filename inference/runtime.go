// Package inference - Detection pipeline from image to suppressed detections.
package inference

import (
	"context"
	"sort"

	"github.com/nvr-ai/marine-detect/models/postprocess"
)

// Runtime executes a model: given an input tensor it returns the named
// output tensors.
type Runtime interface {
	Infer(ctx context.Context, input postprocess.RawTensor) (map[string]postprocess.RawTensor, error)
}

// RuntimeFunc adapts a function to the Runtime interface.
type RuntimeFunc func(ctx context.Context, input postprocess.RawTensor) (map[string]postprocess.RawTensor, error)

// Infer calls f.
func (f RuntimeFunc) Infer(ctx context.Context, input postprocess.RawTensor) (map[string]postprocess.RawTensor, error) {
	return f(ctx, input)
}

// selectOutput picks the output tensor to decode: the named one when name is
// set, otherwise the first name in sorted order.
func selectOutput(outputs map[string]postprocess.RawTensor, name string) (postprocess.RawTensor, string, bool) {
	if name != "" {
		t, ok := outputs[name]
		return t, name, ok
	}
	if len(outputs) == 0 {
		return postprocess.RawTensor{}, "", false
	}

	names := outputNames(outputs)
	return outputs[names[0]], names[0], true
}

func outputNames(outputs map[string]postprocess.RawTensor) []string {
	names := make([]string, 0, len(outputs))
	for n := range outputs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
