package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/marine-detect/inference"
	"github.com/nvr-ai/marine-detect/models/postprocess"
)

func TestCollector_ObserveDecode(t *testing.T) {
	c := NewCollector()

	c.ObserveDecode("yolov8", 40*time.Millisecond, []postprocess.Detection{
		{Class: "fish"}, {Class: "fish"}, {Class: "crab"},
	}, nil)
	c.ObserveDecode("rt_detr", 10*time.Millisecond, []postprocess.Detection{}, nil)
	c.ObserveDecode("rt_detr", 5*time.Millisecond, nil, &inference.RuntimeError{Model: "rt_detr", Err: errors.New("boom")})
	c.ObserveDecode("yolov8", 0, nil, errors.Wrap(inference.ErrInvalidImage, "image is nil"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.detections.WithLabelValues("yolov8", "fish")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.detections.WithLabelValues("yolov8", "crab")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("rt_detr", KindRuntime)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("yolov8", KindInvalidImage)))

	// yolov8 once, rt_detr twice (a failed run still took time).
	assert.Equal(t, 2, testutil.CollectAndCount(c.latency))
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.Wrap(inference.ErrInvalidImage, "decode"), KindInvalidImage},
		{&inference.RuntimeError{Model: "m", Err: errors.New("x")}, KindRuntime},
		{context.Canceled, KindCanceled},
		{errors.Wrap(context.DeadlineExceeded, "infer"), KindCanceled},
		{errors.New("other"), KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.ObserveDecode("yolov8", time.Millisecond, []postprocess.Detection{{Class: "shrimp"}}, nil)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `marine_detect_detections_total{class="shrimp",model="yolov8"} 1`)
	assert.Contains(t, string(body), "marine_detect_inference_seconds_bucket")
}
