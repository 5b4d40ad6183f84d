package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/nfnt/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestImage(w, h int) image.Image {
	// Create a simple solid red image.
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 0, A: 255})
		}
	}

	return img
}

// TestStretch validates that Stretch ignores the aspect ratio.
func TestStretch(t *testing.T) {
	out := Stretch(getTestImage(200, 50), 64, 64, resize.Bilinear)
	assert.Equal(t, image.Rect(0, 0, 64, 64), out.Bounds(), "output should have the exact target size")

	r, g, b, _ := out.At(32, 32).RGBA()
	assert.Equal(t, uint32(255), r>>8)
	assert.Equal(t, uint32(0), g>>8)
	assert.Equal(t, uint32(0), b>>8)
}

func TestStretch_NoopAtTargetSize(t *testing.T) {
	src := getTestImage(64, 64)
	assert.Same(t, src, Stretch(src, 64, 64, resize.Bilinear))
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, getTestImage(30, 20)))

	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 30, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())

	_, err = Decode([]byte("not an image"))
	assert.Error(t, err)

	_, err = Decode(nil)
	assert.Error(t, err)
}

func TestNewImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, getTestImage(12, 7)))

	img, err := NewImage(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, img.Format)
	assert.Equal(t, 12, img.Width)
	assert.Equal(t, 7, img.Height)
}
