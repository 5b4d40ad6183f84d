package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/marine-detect/inference/providers"
	"github.com/nvr-ai/marine-detect/logger"
	"github.com/nvr-ai/marine-detect/models/model"
	"github.com/nvr-ai/marine-detect/models/postprocess"
)

// clearEnv unsets every MARINE_* variable for the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvConfig, EnvAddr, EnvLogMode, EnvORTLib, EnvProvider, EnvModelsDir} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, logger.ModeProduction, cfg.LogMode)
	assert.Equal(t, providers.CPUProviderBackend, cfg.Provider.Backend)
	assert.Equal(t, "models", cfg.ModelsDir)
	assert.Equal(t, float32(0.5), cfg.DisplayConfidence)
	require.Len(t, cfg.Models, 3)
	assert.NoError(t, cfg.Validate())
}

// TestLoad_File validates that YAML values overlay the defaults.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "marine.yaml", `
log_mode: development
models_dir: /var/cache/marine
display_confidence: 0.4
server:
  addr: ":9000"
provider:
  backend: cuda
  cuda:
    device_id: 1
models:
  - name: yolov8
    path: weights/yolo.onnx
    confidence_threshold: 0.3
    nms:
      iou_threshold: 0.45
      class_aware: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, logger.ModeDevelopment, cfg.LogMode)
	assert.Equal(t, "/var/cache/marine", cfg.ModelsDir)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, providers.CUDAProviderBackend, cfg.Provider.Backend)
	assert.Equal(t, 1, cfg.Provider.CUDA.DeviceID)
	assert.InDelta(t, 0.4, cfg.DisplayConfidence, 1e-6)

	require.Len(t, cfg.Models, 1, "a models list replaces the defaults")
	m := cfg.Models[0]
	assert.Equal(t, model.ModelNameYOLOv8, m.Name)
	assert.Equal(t, "weights/yolo.onnx", m.Path)
	assert.InDelta(t, 0.3, m.ConfidenceThreshold, 1e-6)
	assert.Equal(t, model.DefaultInputSize, m.InputWidth, "model defaults are applied")
	require.NotNil(t, m.NMS)
	assert.InDelta(t, 0.45, m.NMS.IoUThreshold, 1e-6)
	assert.True(t, m.NMS.ClassAware)
	assert.Equal(t, postprocess.DefaultMaxDetections, m.NMS.MaxDetections)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "marine.yaml", "server:\n  addr: \":9000\"\n")

	t.Setenv(EnvConfig, path)
	t.Setenv(EnvAddr, ":7000")
	t.Setenv(EnvLogMode, "nop")
	t.Setenv(EnvORTLib, "/opt/onnxruntime/lib/libonnxruntime.so")
	t.Setenv(EnvProvider, "OpenVINO")
	t.Setenv(EnvModelsDir, "/tmp/weights")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr, "environment wins over the file")
	assert.Equal(t, logger.ModeNop, cfg.LogMode)
	assert.Equal(t, "/opt/onnxruntime/lib/libonnxruntime.so", cfg.Provider.LibraryPath)
	assert.Equal(t, providers.OpenVINOProviderBackend, cfg.Provider.Backend)
	assert.Equal(t, "/tmp/weights", cfg.ModelsDir)
	assert.Len(t, cfg.Models, 3)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{name: "bad yaml", content: "server: [unclosed"},
		{name: "display confidence", content: "display_confidence: 1.5"},
		{name: "backend", content: "provider:\n  backend: tpu\n"},
		{name: "log mode", content: "log_mode: chatty"},
		{name: "empty addr", content: "server:\n  addr: \"\"\n"},
		{name: "duplicate models", content: "models:\n  - name: a\n  - name: a\n"},
		{name: "model threshold", content: "models:\n  - name: a\n    confidence_threshold: 2\n"},
		{name: "input size", content: "models:\n  - name: a\n    input_width: -1\n"},
		{name: "env provider", env: map[string]string{EnvProvider: "tpu"}},
		{name: "env log mode", env: map[string]string{EnvLogMode: "chatty"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, "marine.yaml", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err, "an explicit path must exist")
}

func TestRegistry(t *testing.T) {
	r, err := Default().Registry()
	require.NoError(t, err)
	assert.Equal(t, []model.Name{model.ModelNameYOLOv8, model.ModelNameYOLOv8Transformer, model.ModelNameRTDETR}, r.Names())
}
