package inference

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// solidImage returns a w x h image filled with c.
func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// TestPreprocess validates tensor shape, planar channel order and
// normalization.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestPreprocess(t *testing.T) {
	p := NewPreprocessor(64, 32)

	res, err := p.Preprocess(solidImage(200, 100, color.RGBA{R: 255, G: 51, B: 0, A: 255}))
	require.NoError(t, err, "preprocessing should succeed with valid input")

	assert.Equal(t, []int{1, 3, 32, 64}, res.Tensor.Dims(), "tensor shape should be [1, 3, H, W]")
	require.Len(t, res.Tensor.Data, 3*32*64)
	assert.Equal(t, 200, res.OriginalWidth, "original width should be preserved")
	assert.Equal(t, 100, res.OriginalHeight, "original height should be preserved")

	plane := 32 * 64
	assert.InDelta(t, 1.0, res.Tensor.Data[0], 1e-6, "first plane is red")
	assert.InDelta(t, 0.2, res.Tensor.Data[plane], 1e-6, "second plane is green")
	assert.InDelta(t, 0.0, res.Tensor.Data[2*plane], 1e-6, "third plane is blue")

	for _, v := range res.Tensor.Data {
		require.GreaterOrEqual(t, v, float32(0))
		require.LessOrEqual(t, v, float32(1))
	}
}

// TestPreprocess_PixelOrder checks that pixels are written row by row.
func TestPreprocess_PixelOrder(t *testing.T) {
	img := solidImage(4, 2, color.RGBA{A: 255})
	img.SetRGBA(3, 0, color.RGBA{R: 255, A: 255})
	img.SetRGBA(0, 1, color.RGBA{B: 255, A: 255})

	res, err := NewPreprocessor(4, 2).Preprocess(img)
	require.NoError(t, err)

	plane := 8
	assert.Equal(t, float32(1), res.Tensor.Data[3], "red at (3,0)")
	assert.Equal(t, float32(1), res.Tensor.Data[2*plane+4], "blue at (0,1)")
	assert.Equal(t, float32(0), res.Tensor.Data[0])
}

func TestPreprocess_GenericImage(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range gray.Pix {
		gray.Pix[i] = 255
	}

	res, err := NewPreprocessor(10, 10).Preprocess(gray)
	require.NoError(t, err)
	for _, v := range res.Tensor.Data {
		assert.Equal(t, float32(1), v)
	}
}

// TestPreprocess_TranslucentPixels validates that translucent pixels yield
// straight-alpha channel values for every pixel layout.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestPreprocess_TranslucentPixels(t *testing.T) {
	straight := color.NRGBA{R: 200, G: 100, B: 50, A: 128}
	nrgba := func(w, h int) image.Image {
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetNRGBA(x, y, straight)
			}
		}
		return img
	}

	tests := []struct {
		name  string
		img   image.Image
		want  [3]float32
		delta float64
	}{
		{"nrgba at input size", nrgba(32, 32), [3]float32{200.0 / 255, 100.0 / 255, 50.0 / 255}, 1e-6},
		{"nrgba resized", nrgba(64, 64), [3]float32{200.0 / 255, 100.0 / 255, 50.0 / 255}, 2.0 / 255},
		{"premultiplied rgba", solidImage(32, 32, color.RGBA{R: 100, G: 50, B: 25, A: 128}), [3]float32{199.0 / 255, 99.0 / 255, 49.0 / 255}, 1e-6},
		{"transparent", solidImage(32, 32, color.RGBA{}), [3]float32{0, 0, 0}, 1e-6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewPreprocessor(32, 32).Preprocess(tt.img)
			require.NoError(t, err)

			plane := 32 * 32
			for c := 0; c < 3; c++ {
				for _, i := range []int{0, plane / 2, plane - 1} {
					assert.InDelta(t, tt.want[c], res.Tensor.Data[c*plane+i], tt.delta, "channel %d pixel %d", c, i)
				}
			}
		})
	}
}

func TestPreprocess_InvalidImage(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
	}{
		{"nil image", nil},
		{"zero width", image.NewRGBA(image.Rect(0, 0, 0, 10))},
		{"zero height", image.NewRGBA(image.Rect(0, 0, 10, 0))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPreprocessor(64, 64).Preprocess(tt.img)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidImage))
		})
	}
}

func TestPreprocessBytes(t *testing.T) {
	p := NewPreprocessor(16, 16)

	res, err := p.PreprocessBytes(encodePNG(t, solidImage(40, 20, color.RGBA{G: 255, A: 255})))
	require.NoError(t, err)
	assert.Equal(t, 40, res.OriginalWidth)
	assert.Equal(t, 20, res.OriginalHeight)

	_, err = p.PreprocessBytes([]byte("definitely not an image"))
	assert.True(t, errors.Is(err, ErrInvalidImage))
}
