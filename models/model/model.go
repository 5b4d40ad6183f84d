// Package model - Definitions for detection model configuration.
package model

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/marine-detect/models/postprocess"
)

// Family is the family of models.
type Family string

const (
	// ModelFamilyYOLO is the YOLO model family (convolutional detection head).
	ModelFamilyYOLO Family = "yolo"
	// ModelFamilyDETR is the DETR model family (transformer detection head).
	ModelFamilyDETR Family = "detr"
)

// Name is the unique identifier of a model.
type Name string

const (
	// ModelNameYOLOv8 is the name of the YOLOv8 model.
	ModelNameYOLOv8 Name = "yolov8"
	// ModelNameYOLOv8Transformer is the name of the YOLOv8 head + transformer hybrid.
	ModelNameYOLOv8Transformer Name = "yolov8_transformer"
	// ModelNameRTDETR is the name of the RT-DETR model.
	ModelNameRTDETR Name = "rt_detr"
)

const (
	// DefaultInputSize is the square model input size in pixels.
	DefaultInputSize = 640
	// DefaultInputName is the input tensor name used when the model does not report one.
	DefaultInputName = "images"
)

// Config describes one detection model and how its output is decoded.
type Config struct {
	Name        Name   `json:"name" yaml:"name"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Family      Family `json:"family" yaml:"family"`
	// Accent color used when presenting this model's results, as #RRGGBB.
	Color string `json:"color" yaml:"color"`
	// Local path of the ONNX file. Empty means <models dir>/<name>.onnx.
	Path string `json:"path,omitempty" yaml:"path"`
	// Remote location of the ONNX file.
	URL string `json:"url,omitempty" yaml:"url"`
	// Tensor names. Empty means the first input / first sorted output.
	InputName  string `json:"input_name,omitempty" yaml:"input_name"`
	OutputName string `json:"output_name,omitempty" yaml:"output_name"`

	InputWidth  int `json:"input_width" yaml:"input_width"`
	InputHeight int `json:"input_height" yaml:"input_height"`
	// Minimum decoded confidence. Zero means postprocess.DefaultConfidenceThreshold;
	// a small positive value such as 0.001 keeps nearly every candidate.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// Suppression settings. A zero IoUThreshold or MaxDetections means the
	// postprocess default.
	NMS *postprocess.NMSConfig `json:"nms" yaml:"nms"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
// Zero thresholds are never kept, so a configured 0 behaves like an unset one.
func (c Config) WithDefaults() Config {
	if c.DisplayName == "" {
		c.DisplayName = string(c.Name)
	}
	if c.Family == "" {
		c.Family = ModelFamilyYOLO
	}
	if c.InputWidth == 0 {
		c.InputWidth = DefaultInputSize
	}
	if c.InputHeight == 0 {
		c.InputHeight = DefaultInputSize
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = postprocess.DefaultConfidenceThreshold
	}

	nms := postprocess.DefaultNMSConfig()
	if c.NMS != nil {
		*nms = *c.NMS
		if nms.IoUThreshold == 0 {
			nms.IoUThreshold = postprocess.DefaultIoUThreshold
		}
		if nms.MaxDetections == 0 {
			nms.MaxDetections = postprocess.DefaultMaxDetections
		}
	}
	c.NMS = nms

	return c
}

// Validate reports configuration values that cannot be decoded with. It is
// meant for configs that went through WithDefaults.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("model name is required")
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return errors.Errorf("model %s: invalid input size %dx%d", c.Name, c.InputWidth, c.InputHeight)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Errorf("model %s: confidence threshold %v outside [0, 1]", c.Name, c.ConfidenceThreshold)
	}
	if c.NMS != nil {
		if c.NMS.IoUThreshold < 0 || c.NMS.IoUThreshold > 1 {
			return errors.Errorf("model %s: IoU threshold %v outside [0, 1]", c.Name, c.NMS.IoUThreshold)
		}
		if c.NMS.MaxDetections < 0 {
			return errors.Errorf("model %s: negative max detections", c.Name)
		}
	}
	return nil
}
