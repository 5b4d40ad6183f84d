package inference

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/marine-detect/models"
	"github.com/nvr-ai/marine-detect/models/model"
	"github.com/nvr-ai/marine-detect/models/postprocess"
)

// Result is the outcome of decoding one image with one model.
type Result struct {
	Model          model.Name              `json:"model"`
	Detections     []postprocess.Detection `json:"detections"`
	OriginalWidth  int                     `json:"original_width"`
	OriginalHeight int                     `json:"original_height"`
	// InferenceTime covers the runtime call only.
	InferenceTime time.Duration `json:"inference_time_ns"`
}

// Observer is notified after every decode, successful or not.
type Observer interface {
	ObserveDecode(model string, inference time.Duration, detections []postprocess.Detection, err error)
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the logger that receives decode diagnostics.
func WithLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver sets an observer notified after every decode.
func WithObserver(o Observer) PipelineOption {
	return func(p *Pipeline) { p.observer = o }
}

// WithClasses overrides the taxonomy used to label detections.
func WithClasses(classes []string) PipelineOption {
	return func(p *Pipeline) {
		if len(classes) > 0 {
			p.classes = classes
		}
	}
}

// Pipeline runs one model end to end: preprocess, infer, resolve the output
// layout, decode and suppress. A Pipeline holds no per-call state and may be
// used from several goroutines at once if its Runtime allows it.
type Pipeline struct {
	config       model.Config
	classes      []string
	runtime      Runtime
	preprocessor *Preprocessor
	decoder      *postprocess.Decoder
	logger       *zap.Logger
	observer     Observer
}

// NewPipeline creates a pipeline for cfg executed by runtime.
//
// Arguments:
//   - cfg: The model configuration; defaults are applied.
//   - runtime: Executes the model.
//   - opts: Optional logger, observer and taxonomy overrides.
//
// Returns:
//   - *Pipeline: The pipeline.
//   - error: An error if cfg is invalid or runtime is nil.
func NewPipeline(cfg model.Config, runtime Runtime, opts ...PipelineOption) (*Pipeline, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if runtime == nil {
		return nil, errors.Errorf("model %s: nil runtime", cfg.Name)
	}

	p := &Pipeline{
		config:  cfg,
		classes: models.MarineClasses.Names(),
		runtime: runtime,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.logger.With(zap.String("model", string(cfg.Name)))
	p.preprocessor = NewPreprocessor(cfg.InputWidth, cfg.InputHeight)
	p.decoder = postprocess.NewDecoder(p.classes, cfg.InputWidth, cfg.InputHeight, cfg.ConfidenceThreshold, p.logger)

	return p, nil
}

// Config returns the model configuration with defaults applied.
func (p *Pipeline) Config() model.Config {
	return p.config
}

// DecodeBytes decodes an encoded image and runs Decode on it.
func (p *Pipeline) DecodeBytes(ctx context.Context, data []byte) (*Result, error) {
	img, err := decodeImage(data)
	if err != nil {
		p.observe(0, nil, err)
		return nil, err
	}
	return p.Decode(ctx, img)
}

// Decode detects objects in img.
//
// Preprocessing failures return an error wrapping ErrInvalidImage and runtime
// failures a *RuntimeError. A missing output tensor or an unexpected tensor
// shape is logged and yields an empty or best-effort detection list instead
// of an error. An empty detection list is a valid result.
//
// Arguments:
//   - ctx: Checked before inference and passed to the runtime.
//   - img: The image to analyze.
//
// Returns:
//   - *Result: The suppressed detections and the original image size.
//   - error: The failure, if the call could not complete.
func (p *Pipeline) Decode(ctx context.Context, img image.Image) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	pre, err := p.preprocessor.Preprocess(img)
	if err != nil {
		p.observe(0, nil, err)
		return nil, err
	}

	start := time.Now()
	outputs, err := p.runtime.Infer(ctx, pre.Tensor)
	elapsed := time.Since(start)
	if err != nil {
		err = &RuntimeError{Model: string(p.config.Name), Err: err}
		p.observe(elapsed, nil, err)
		return nil, err
	}

	detections := p.Postprocess(outputs)
	p.observe(elapsed, detections, nil)

	return &Result{
		Model:          p.config.Name,
		Detections:     detections,
		OriginalWidth:  pre.OriginalWidth,
		OriginalHeight: pre.OriginalHeight,
		InferenceTime:  elapsed,
	}, nil
}

// Postprocess turns raw runtime outputs into suppressed detections.
//
// Arguments:
//   - outputs: The named tensors returned by the runtime.
//
// Returns:
//   - []postprocess.Detection: The detections sorted by descending confidence, never nil.
func (p *Pipeline) Postprocess(outputs map[string]postprocess.RawTensor) []postprocess.Detection {
	t, name, ok := selectOutput(outputs, p.config.OutputName)
	if !ok {
		p.logger.Warn("model result has no usable output tensor",
			zap.Error(ErrMissingOutputTensor),
			zap.String("output", p.config.OutputName),
			zap.Strings("outputs", outputNames(outputs)),
		)
		return []postprocess.Detection{}
	}

	p.logger.Debug("decoding output tensor",
		zap.String("output", name),
		zap.Ints("dims", t.Dims()),
	)

	candidates := p.decoder.DecodeTensor(t)
	return postprocess.ApplyGreedyNMS(candidates, p.config.NMS)
}

func (p *Pipeline) observe(elapsed time.Duration, detections []postprocess.Detection, err error) {
	if p.observer != nil {
		p.observer.ObserveDecode(string(p.config.Name), elapsed, detections, err)
	}
}
