package images

import (
	"image"

	"github.com/nfnt/resize"
)

// Stretch scales img to exactly width x height without preserving the aspect
// ratio. No letterbox padding is added.
//
// Arguments:
//   - img: The source image.
//   - width: The target width in pixels.
//   - height: The target height in pixels.
//   - interp: The interpolation kernel, e.g. resize.Bilinear.
//
// Returns:
//   - image.Image: The resized image with bounds starting at (0, 0).
func Stretch(img image.Image, width, height int, interp resize.InterpolationFunction) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height && b.Min == (image.Point{}) {
		return img
	}

	return resize.Resize(uint(width), uint(height), img, interp)
}
