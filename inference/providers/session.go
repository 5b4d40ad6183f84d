// Package providers - Inference sessions.
package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/nvr-ai/marine-detect/models"
	"github.com/nvr-ai/marine-detect/models/model"
	"github.com/nvr-ai/marine-detect/models/postprocess"
)

// ErrSessionClosed is returned by a Session after Close.
var ErrSessionClosed = errors.New("session closed")

// NewSessionArgs represents the arguments for creating a new ONNX session.
type NewSessionArgs struct {
	// The path to the ONNX model file.
	ModelPath string
	// The input tensor name. Empty means the model's first input.
	InputName string
	// The output tensor names. Empty means every model output.
	OutputNames []string
	// Logger for session diagnostics. Nil means zap.L().
	Logger *zap.Logger
}

// Session runs one ONNX model. Tensors are allocated per call, so Infer may
// be called from several goroutines at once.
type Session struct {
	mu          sync.RWMutex
	session     *ort.DynamicAdvancedSession
	inputName   string
	outputNames []string
	logger      *zap.Logger
}

// NewSession opens an ONNX model.
//
// Order of operations:
//  1. Environment setup: loads the native library once per process.
//  2. Name discovery: reads the model's input and output names when not given.
//  3. Session options: threading, graph optimization and execution provider.
//  4. Session creation: loads the model and binds the names.
//
// Arguments:
//   - cfg: The provider configuration.
//   - args: The model path and tensor names.
//
// Returns:
//   - *Session: The session; the caller must Close it.
//   - error: An error if the runtime or model cannot be loaded.
func NewSession(cfg Config, args NewSessionArgs) (*Session, error) {
	if err := InitializeEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputName, outputNames := args.InputName, args.OutputNames
	if inputName == "" || len(outputNames) == 0 {
		inputs, outputs, err := ort.GetInputOutputInfo(args.ModelPath)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading inputs and outputs of %s", args.ModelPath)
		}
		inputName, outputNames = resolveNames(args, infoNames(inputs), infoNames(outputs))
	}
	if len(outputNames) == 0 {
		return nil, errors.Errorf("model %s has no outputs", args.ModelPath)
	}

	options, err := NewSessionOptions(cfg)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		args.ModelPath,
		[]string{inputName},
		outputNames,
		options,
	)
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	logger := args.Logger
	if logger == nil {
		logger = zap.L()
	}

	return &Session{
		session:     session,
		inputName:   inputName,
		outputNames: outputNames,
		logger:      logger,
	}, nil
}

// InputName returns the bound input tensor name.
func (s *Session) InputName() string { return s.inputName }

// OutputNames returns the bound output tensor names.
func (s *Session) OutputNames() []string { return append([]string(nil), s.outputNames...) }

// Infer runs the model on input and returns every bound output by name. The
// returned tensors own their data.
//
// Arguments:
//   - ctx: Checked before the run starts.
//   - input: The input tensor.
//
// Returns:
//   - map[string]postprocess.RawTensor: The outputs by name.
//   - error: The runtime error, if any.
func (s *Session) Infer(ctx context.Context, input postprocess.RawTensor) (map[string]postprocess.RawTensor, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, ErrSessionClosed
	}

	in, err := ort.NewTensor(ort.NewShape(toShape(input.Dims())...), input.Data)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	defer in.Destroy()

	outputs := make([]ort.Value, len(s.outputNames))
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	if err := s.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, errors.Wrap(err, "error running ORT session")
	}

	return floatOutputs(s.outputNames, outputs, s.logger), nil
}

// floatOutputs copies the float32 outputs of a run by name. Outputs of other
// element types, such as int64 labels, are skipped.
func floatOutputs(names []string, values []ort.Value, logger *zap.Logger) map[string]postprocess.RawTensor {
	result := make(map[string]postprocess.RawTensor, len(values))
	for i, v := range values {
		t, ok := v.(*ort.Tensor[float32])
		if !ok || t == nil {
			logger.Debug("skipping non-float32 model output",
				zap.String("output", names[i]),
				zap.String("type", fmt.Sprintf("%T", v)))
			continue
		}
		data := append([]float32(nil), t.GetData()...)
		result[names[i]] = postprocess.NewRawTensor(data, fromShape(t.GetShape())...)
	}
	return result
}

// Close releases the native session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return errors.Wrap(err, "error destroying ORT session")
	}
	return nil
}

// resolveNames fills the missing tensor names from the model's own.
func resolveNames(args NewSessionArgs, inputs, outputs []string) (string, []string) {
	inputName := args.InputName
	if inputName == "" {
		inputName = model.DefaultInputName
		if len(inputs) > 0 {
			inputName = inputs[0]
		}
	}

	outputNames := args.OutputNames
	if len(outputNames) == 0 {
		outputNames = outputs
	}
	return inputName, outputNames
}

func infoNames(info []ort.InputOutputInfo) []string {
	names := make([]string, len(info))
	for i, in := range info {
		names[i] = in.Name
	}
	return names
}

func toShape(dims []int) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		out[i] = int64(d)
	}
	return out
}

func fromShape(shape ort.Shape) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		out[i] = int(d)
	}
	return out
}

// OpenModel opens the session of a configured model, binding its configured
// input name and every model output.
//
// Arguments:
//   - cfg: The provider configuration.
//   - m: The model; its weights are read from models.LocalPath(m, modelsDir).
//   - modelsDir: The directory holding downloaded weights.
//
// Returns:
//   - *Session: The session; the caller must Close it.
//   - error: An error if the model cannot be loaded.
func OpenModel(cfg Config, m model.Config, modelsDir string) (*Session, error) {
	return NewSession(cfg, NewSessionArgs{
		ModelPath: models.LocalPath(m, modelsDir),
		InputName: m.InputName,
	})
}
