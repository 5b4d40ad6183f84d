// Package models - registry for models.
package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/marine-detect/models/model"
)

// ErrUnknownModel is returned when a model name is not registered.
var ErrUnknownModel = errors.New("unknown model")

// ReleaseBaseURL is where the published model weights are downloaded from.
const ReleaseBaseURL = "https://github.com/hari-bhandari/underwater-react/releases/download/models/"

// DefaultModels returns the published detection models with defaults applied.
func DefaultModels() []model.Config {
	configs := []model.Config{
		{
			Name:        model.ModelNameYOLOv8,
			DisplayName: "YOLOv8",
			Family:      model.ModelFamilyYOLO,
			Color:       "#007AFF",
			URL:         ReleaseBaseURL + "yolo.onnx",
		},
		{
			Name:        model.ModelNameYOLOv8Transformer,
			DisplayName: "YOLOv8 head + Transformer",
			Family:      model.ModelFamilyYOLO,
			Color:       "#5856D6",
			URL:         ReleaseBaseURL + "hybrid.onnx",
		},
		{
			Name:        model.ModelNameRTDETR,
			DisplayName: "RT-DETR",
			Family:      model.ModelFamilyDETR,
			Color:       "#FF2D55",
			URL:         ReleaseBaseURL + "rt_detr.onnx",
		},
	}
	for i := range configs {
		configs[i] = configs[i].WithDefaults()
	}
	return configs
}

// Registry holds the configured models in registration order.
type Registry struct {
	order  []model.Name
	models map[model.Name]model.Config
}

// NewRegistry registers configs, applying defaults and validating each one.
//
// Arguments:
//   - configs: The models to register.
//
// Returns:
//   - *Registry: The registry.
//   - error: An error if a config is invalid or a name is registered twice.
func NewRegistry(configs ...model.Config) (*Registry, error) {
	r := &Registry{models: make(map[model.Name]model.Config, len(configs))}
	for _, c := range configs {
		c = c.WithDefaults()
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.models[c.Name]; ok {
			return nil, errors.Errorf("model %s registered twice", c.Name)
		}
		r.models[c.Name] = c
		r.order = append(r.order, c.Name)
	}
	return r, nil
}

// Get returns the config registered under name.
func (r *Registry) Get(name model.Name) (model.Config, error) {
	c, ok := r.models[name]
	if !ok {
		return model.Config{}, errors.Wrapf(ErrUnknownModel, "%s", name)
	}
	return c, nil
}

// List returns every registered config in registration order.
func (r *Registry) List() []model.Config {
	out := make([]model.Config, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.models[n])
	}
	return out
}

// Names returns the registered model names in registration order.
func (r *Registry) Names() []model.Name {
	return append([]model.Name(nil), r.order...)
}
