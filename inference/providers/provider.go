// Package providers - onnxruntime execution providers and sessions.
package providers

import (
	"strings"

	"github.com/pkg/errors"
)

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

const (
	// CPUProviderBackend runs on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
	// CUDAProviderBackend uses NVIDIA CUDA for inference optimization.
	CUDAProviderBackend ProviderBackend = "cuda"
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// Backends lists every supported backend.
var Backends = []ProviderBackend{CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend}

// ParseBackend parses a backend name, case-insensitively. An empty name is
// the CPU backend.
func ParseBackend(s string) (ProviderBackend, error) {
	name := ProviderBackend(strings.ToLower(strings.TrimSpace(s)))
	if name == "" {
		return CPUProviderBackend, nil
	}
	for _, b := range Backends {
		if b == name {
			return b, nil
		}
	}
	return "", errors.Errorf("unsupported execution provider %q", s)
}

// Config configures the onnxruntime environment and the sessions it opens.
type Config struct {
	// Backend specifies the execution provider.
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	// LibraryPath is the onnxruntime shared library. Empty means GetSharedLibPath().
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// IntraOpThreads parallelizes work inside one node; 0 lets onnxruntime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// InterOpThreads parallelizes independent nodes; 0 lets onnxruntime decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
	// ParallelExecution runs independent nodes in parallel.
	ParallelExecution bool `json:"parallel_execution" yaml:"parallel_execution"`

	CUDA     CUDAOptions     `json:"cuda" yaml:"cuda"`
	CoreML   CoreMLOptions   `json:"coreml" yaml:"coreml"`
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// Validate checks the backend name and thread counts.
func (c Config) Validate() error {
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return errors.New("thread counts must not be negative")
	}
	return nil
}
