package providers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nvr-ai/marine-detect/models/postprocess"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in       string
		expected ProviderBackend
		wantErr  bool
	}{
		{"", CPUProviderBackend, false},
		{"cpu", CPUProviderBackend, false},
		{" CUDA ", CUDAProviderBackend, false},
		{"CoreML", CoreMLProviderBackend, false},
		{"openvino", OpenVINOProviderBackend, false},
		{"webgl", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Backend: CUDAProviderBackend, IntraOpThreads: 4}.Validate())
	assert.Error(t, Config{Backend: "tpu"}.Validate())
	assert.Error(t, Config{InterOpThreads: -1}.Validate())
}

func TestCUDAOptions_Values(t *testing.T) {
	v := CUDAOptions{DeviceID: 1, GPUMemLimit: 2 << 30, ArenaExtendStrategy: 1, DoCopyInDefaultStream: true}.values()

	assert.Equal(t, "1", v["device_id"])
	assert.Equal(t, "2147483648", v["gpu_mem_limit"])
	assert.Equal(t, "kSameAsRequested", v["arena_extend_strategy"])
	assert.Equal(t, "1", v["do_copy_in_default_stream"])
	assert.NotContains(t, v, "cudnn_conv_algo_search")
}

func TestOpenVINOOptions_Values(t *testing.T) {
	assert.Empty(t, OpenVINOOptions{}.values())

	v := OpenVINOOptions{DeviceType: "GPU", Precision: "FP16", NumOfThreads: 4}.values()
	assert.Equal(t, map[string]string{"device_type": "GPU", "precision": "FP16", "num_of_threads": "4"}, v)
}

func TestCoreMLOptions_Flags(t *testing.T) {
	assert.Equal(t, uint32(0), CoreMLOptions{}.Flags())
	assert.Equal(t, uint32(0x011), CoreMLOptions{CPUOnly: true, MLProgram: true}.Flags())
}

func TestResolveNames(t *testing.T) {
	in, out := resolveNames(NewSessionArgs{}, []string{"pixel_values", "mask"}, []string{"logits", "boxes"})
	assert.Equal(t, "pixel_values", in)
	assert.Equal(t, []string{"logits", "boxes"}, out)

	in, out = resolveNames(NewSessionArgs{InputName: "x", OutputNames: []string{"y"}}, []string{"a"}, []string{"b"})
	assert.Equal(t, "x", in)
	assert.Equal(t, []string{"y"}, out)

	in, _ = resolveNames(NewSessionArgs{}, nil, []string{"output0"})
	assert.Equal(t, "images", in)
}

func TestNewSession_MissingLibrary(t *testing.T) {
	_, err := NewSession(Config{LibraryPath: filepath.Join(t.TempDir(), "missing.so")}, NewSessionArgs{ModelPath: "model.onnx"})
	assert.Error(t, err)
}

func TestSession_ClosedInfer(t *testing.T) {
	s := &Session{}
	require.NoError(t, s.Close())

	_, err := s.Infer(context.Background(), postprocess.NewRawTensor([]float32{0}, 1))
	assert.True(t, errors.Is(err, ErrSessionClosed))
}

func TestShapeConversion(t *testing.T) {
	assert.Equal(t, []int64{1, 3, 640, 640}, toShape([]int{1, 3, 640, 640}))
	assert.Equal(t, []int{1, 11, 8400}, fromShape([]int64{1, 11, 8400}))
}

// TestFloatOutputs_SkipsOtherTypes validates that outputs which are not
// float32 tensors are skipped and logged instead of failing the run.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestFloatOutputs_SkipsOtherTypes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	var labels *ort.Tensor[int64]
	values := []ort.Value{labels, nil}
	out := floatOutputs([]string{"labels", "scores"}, values, zap.New(core))

	assert.Empty(t, out)
	entries := logs.FilterMessage("skipping non-float32 model output").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "labels", entries[0].ContextMap()["output"])
	assert.Contains(t, entries[0].ContextMap()["type"], "Tensor[int64]")
	assert.Equal(t, "scores", entries[1].ContextMap()["output"])
}
