package inference

import (
	"context"
	"image"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/marine-detect/models"
	"github.com/nvr-ai/marine-detect/models/model"
)

// ErrEngineClosed is returned by an Engine after Close.
var ErrEngineClosed = errors.New("engine closed")

// Opener opens the runtime of one model. Runtimes implementing io.Closer are
// closed when released.
type Opener func(ctx context.Context, cfg model.Config) (Runtime, error)

// Comparison is the outcome of one model in Engine.Compare.
type Comparison struct {
	Model  model.Name `json:"model"`
	Result *Result    `json:"result,omitempty"`
	Err    error      `json:"-"`
	Error  string     `json:"error,omitempty"`
}

// handle is one model's lazily opened session. ready is closed once opening
// finished, successfully or not.
type handle struct {
	ready    chan struct{}
	runtime  Runtime
	pipeline *Pipeline
	err      error
}

// Engine owns the runtime sessions of the registered models. Sessions are
// opened on first use and live until Release or Close.
type Engine struct {
	registry *models.Registry
	open     Opener
	logger   *zap.Logger
	observer Observer
	classes  []string

	mu       sync.Mutex
	sessions map[model.Name]*handle
	closed   bool
}

// EngineBuilder builds an Engine with a fluent API.
type EngineBuilder struct {
	registry *models.Registry
	open     Opener
	logger   *zap.Logger
	observer Observer
	classes  []string
	err      error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{}
}

// WithModels registers the models the engine serves.
//
// Arguments:
//   - configs: The model configurations.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithModels(configs ...model.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}

	registry, err := models.NewRegistry(configs...)
	if err != nil {
		b.err = err
		return b
	}
	b.registry = registry
	return b
}

// WithRegistry uses an existing registry.
func (b *EngineBuilder) WithRegistry(registry *models.Registry) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.registry = registry
	return b
}

// WithOpener sets how model runtimes are opened.
func (b *EngineBuilder) WithOpener(open Opener) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.open = open
	return b
}

// WithLogger sets the engine and pipeline logger.
func (b *EngineBuilder) WithLogger(logger *zap.Logger) *EngineBuilder {
	b.logger = logger
	return b
}

// WithObserver sets the observer every pipeline reports to.
func (b *EngineBuilder) WithObserver(o Observer) *EngineBuilder {
	b.observer = o
	return b
}

// WithClasses overrides the taxonomy.
func (b *EngineBuilder) WithClasses(classes []string) *EngineBuilder {
	b.classes = classes
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Build builds the engine.
//
// Returns:
//   - *Engine: The engine.
//   - error: The error if any.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.registry == nil {
		return nil, errors.New("models not configured")
	}
	if b.open == nil {
		return nil, errors.New("runtime opener not configured")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		registry: b.registry,
		open:     b.open,
		logger:   logger,
		observer: b.observer,
		classes:  b.classes,
		sessions: make(map[model.Name]*handle),
	}, nil
}

// MustBuild builds the engine and panics if there is an error.
//
// Returns:
//   - *Engine: The engine.
func (b *EngineBuilder) MustBuild() *Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// Models returns the registered model configurations.
func (e *Engine) Models() []model.Config {
	return e.registry.List()
}

// Loaded reports whether the session of name is open.
func (e *Engine) Loaded(name model.Name) bool {
	e.mu.Lock()
	h, ok := e.sessions[name]
	e.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case <-h.ready:
		return h.err == nil
	default:
		return false
	}
}

// Acquire returns the pipeline of name, opening its runtime on first use.
// Concurrent first calls open the runtime once.
//
// Arguments:
//   - ctx: Passed to the opener.
//   - name: The registered model name.
//
// Returns:
//   - *Pipeline: The model pipeline, valid until Release or Close.
//   - error: models.ErrUnknownModel, ErrEngineClosed or a *RuntimeError from opening.
func (e *Engine) Acquire(ctx context.Context, name model.Name) (*Pipeline, error) {
	cfg, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}

	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, ErrEngineClosed
		}
		h, ok := e.sessions[name]
		if !ok {
			h = &handle{ready: make(chan struct{})}
			e.sessions[name] = h
		}
		e.mu.Unlock()

		if ok {
			select {
			case <-h.ready:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			e.openHandle(ctx, cfg, h)
		}

		e.mu.Lock()
		closed, current := e.closed, e.sessions[name] == h
		if h.err != nil && current {
			// Forget failed opens so a later call can retry.
			delete(e.sessions, name)
		}
		e.mu.Unlock()

		switch {
		case h.err != nil:
			return nil, h.err
		case closed:
			// Close took the handle and closes its runtime.
			return nil, ErrEngineClosed
		case !current:
			// Released while opening; open a fresh session.
			continue
		}
		return h.pipeline, nil
	}
}

// Decode runs the pipeline of name on img.
func (e *Engine) Decode(ctx context.Context, name model.Name, img image.Image) (*Result, error) {
	p, err := e.Acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	return p.Decode(ctx, img)
}

// Compare runs several models on the same image concurrently.
//
// Arguments:
//   - ctx: Passed to every pipeline.
//   - img: The image, read concurrently and never modified.
//   - names: The models to run; all registered models when empty.
//
// Returns:
//   - []Comparison: One entry per model in the requested order, each with its own error.
func (e *Engine) Compare(ctx context.Context, img image.Image, names ...model.Name) []Comparison {
	if len(names) == 0 {
		names = e.registry.Names()
	}

	out := make([]Comparison, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name model.Name) {
			defer wg.Done()

			res, err := e.Decode(ctx, name, img)
			out[i] = Comparison{Model: name, Result: res, Err: err}
			if err != nil {
				out[i].Error = err.Error()
			}
		}(i, name)
	}
	wg.Wait()

	return out
}

// Release closes the session of name. Callers must not use a pipeline of
// name acquired earlier after releasing it.
func (e *Engine) Release(name model.Name) error {
	e.mu.Lock()
	h, ok := e.sessions[name]
	delete(e.sessions, name)
	e.mu.Unlock()

	if !ok {
		return nil
	}
	return h.close()
}

// Close releases every session. The engine cannot be used afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[model.Name]*handle)
	e.closed = true
	e.mu.Unlock()

	var first error
	for name, h := range sessions {
		if err := h.close(); err != nil {
			e.logger.Error("failed to close model session", zap.String("model", string(name)), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// openHandle opens the runtime and pipeline of cfg into h. Other callers
// wait on the same handle, so the open ignores the first caller's
// cancellation.
func (e *Engine) openHandle(ctx context.Context, cfg model.Config, h *handle) {
	defer close(h.ready)

	e.logger.Info("opening model session", zap.String("model", string(cfg.Name)))

	rt, err := e.open(context.WithoutCancel(ctx), cfg)
	if err != nil {
		h.err = &RuntimeError{Model: string(cfg.Name), Err: err}
		return
	}

	p, err := NewPipeline(cfg, rt,
		WithLogger(e.logger),
		WithObserver(e.observer),
		WithClasses(e.classes),
	)
	if err != nil {
		closeRuntime(rt)
		h.err = err
		return
	}

	h.runtime = rt
	h.pipeline = p
}

func (h *handle) close() error {
	// Wait for an in-flight open to finish before closing its runtime.
	<-h.ready
	if h.runtime == nil {
		return nil
	}
	return closeRuntime(h.runtime)
}

func closeRuntime(rt Runtime) error {
	if c, ok := rt.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
