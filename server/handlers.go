package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/marine-detect/images"
	"github.com/nvr-ai/marine-detect/inference"
	"github.com/nvr-ai/marine-detect/models"
	"github.com/nvr-ai/marine-detect/models/model"
	"github.com/nvr-ai/marine-detect/models/postprocess"
	"github.com/nvr-ai/marine-detect/render"
	"github.com/nvr-ai/marine-detect/report"
)

// errBadRequest marks malformed requests.
var errBadRequest = errors.New("bad request")

// ModelInfo describes a registered model.
type ModelInfo struct {
	Name        model.Name   `json:"name"`
	DisplayName string       `json:"display_name"`
	Family      model.Family `json:"family"`
	Color       string       `json:"color"`
	Loaded      bool         `json:"loaded"`
}

// DetectResponse is the body of POST /api/detect/:model.
type DetectResponse struct {
	RequestID      string                  `json:"request_id"`
	Model          model.Name              `json:"model"`
	Format         images.ImageFormat      `json:"format"`
	Detections     []postprocess.Detection `json:"detections"`
	OriginalWidth  int                     `json:"original_width"`
	OriginalHeight int                     `json:"original_height"`
	InferenceMS    float64                 `json:"inference_ms"`
	Summary        report.Summary          `json:"summary"`
}

// CompareResult is one model's entry in CompareResponse.
type CompareResult struct {
	Model       model.Name              `json:"model"`
	Detections  []postprocess.Detection `json:"detections"`
	InferenceMS float64                 `json:"inference_ms"`
	Summary     *report.Summary         `json:"summary,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// CompareResponse is the body of POST /api/compare.
type CompareResponse struct {
	RequestID      string             `json:"request_id"`
	Format         images.ImageFormat `json:"format"`
	OriginalWidth  int                `json:"original_width"`
	OriginalHeight int                `json:"original_height"`
	Results        []CompareResult    `json:"results"`
}

func (s *Server) listModels(c *gin.Context) {
	cfgs := s.engine.Models()
	out := make([]ModelInfo, 0, len(cfgs))
	for _, m := range cfgs {
		out = append(out, ModelInfo{
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Family:      m.Family,
			Color:       m.Color,
			Loaded:      s.engine.Loaded(m.Name),
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) detect(c *gin.Context) {
	minConf, err := confidenceParam(c, "min_confidence", 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	upload, err := uploadedImage(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	res, err := s.decode(c, model.Name(c.Param("model")), upload.Data)
	if err != nil {
		s.fail(c, err)
		return
	}

	dets := postprocess.FilterByConfidence(res.Detections, minConf)
	c.JSON(http.StatusOK, DetectResponse{
		RequestID:      c.GetString(requestIDKey),
		Model:          res.Model,
		Format:         upload.Format,
		Detections:     dets,
		OriginalWidth:  res.OriginalWidth,
		OriginalHeight: res.OriginalHeight,
		InferenceMS:    milliseconds(res.InferenceTime),
		Summary:        report.Summarize(dets, s.classes.Names()),
	})
}

func (s *Server) compare(c *gin.Context) {
	minConf, err := confidenceParam(c, "min_confidence", 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	upload, err := uploadedImage(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	img, err := images.Decode(upload.Data)
	if err != nil {
		s.fail(c, errors.Wrap(inference.ErrInvalidImage, err.Error()))
		return
	}

	var names []model.Name
	for _, n := range strings.Split(c.Query("models"), ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, model.Name(n))
		}
	}

	comparisons := s.engine.Compare(c.Request.Context(), img, names...)

	b := img.Bounds()
	resp := CompareResponse{
		RequestID:      c.GetString(requestIDKey),
		Format:         upload.Format,
		OriginalWidth:  b.Dx(),
		OriginalHeight: b.Dy(),
		Results:        make([]CompareResult, len(comparisons)),
	}
	for i, cmp := range comparisons {
		r := CompareResult{Model: cmp.Model, Detections: []postprocess.Detection{}, Error: cmp.Error}
		if cmp.Result != nil {
			r.Detections = postprocess.FilterByConfidence(cmp.Result.Detections, minConf)
			r.InferenceMS = milliseconds(cmp.Result.InferenceTime)
			summary := report.Summarize(r.Detections, s.classes.Names())
			r.Summary = &summary
		}
		if cmp.Err != nil {
			s.logger.Warn("model comparison failed", zap.String("model", string(cmp.Model)), zap.Error(cmp.Err))
		}
		resp.Results[i] = r
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) annotate(c *gin.Context) {
	minConf, err := confidenceParam(c, "min_confidence", s.displayConfidence)
	if err != nil {
		s.fail(c, err)
		return
	}
	showLabels := true
	if v := c.Query("labels"); v != "" {
		showLabels, err = strconv.ParseBool(v)
		if err != nil {
			s.fail(c, errors.Wrapf(errBadRequest, "labels: %s", err))
			return
		}
	}
	upload, err := uploadedImage(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	res, err := s.decode(c, model.Name(c.Param("model")), upload.Data)
	if err != nil {
		s.fail(c, err)
		return
	}

	png, err := render.Annotate(upload.Data, res.Detections, render.Options{
		MinConfidence: minConf,
		ShowLabels:    showLabels,
		Classes:       s.classes,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// decode runs one model on an encoded image.
func (s *Server) decode(c *gin.Context, name model.Name, data []byte) (*inference.Result, error) {
	p, err := s.engine.Acquire(c.Request.Context(), name)
	if err != nil {
		return nil, err
	}
	return p.DecodeBytes(c.Request.Context(), data)
}

// fail writes err as {"error": "..."} with the matching status.
func (s *Server) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, inference.ErrInvalidImage), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrUnknownModel):
		return http.StatusNotFound
	case inference.IsRuntimeError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// uploadedImage reads the multipart "file" field and checks that it holds an
// image.
func uploadedImage(c *gin.Context) (*images.Image, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, err
		}
		return nil, errors.Wrapf(errBadRequest, "file upload failed: %s", err)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, errors.Wrap(err, "open upload")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "read upload")
	}

	img, err := images.NewImage(data)
	if err != nil {
		return nil, errors.Wrap(inference.ErrInvalidImage, err.Error())
	}
	return img, nil
}

// confidenceParam parses a [0, 1] query parameter, returning def when absent.
func confidenceParam(c *gin.Context, key string, def float32) (float32, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil || f < 0 || f > 1 {
		return 0, errors.Wrapf(errBadRequest, "%s must be a number in [0, 1], got %q", key, v)
	}
	return float32(f), nil
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
