// Package images - Image processing utilities
package images

import (
	"encoding/json"
	"image"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Rect is a corner-form bounding box in normalized or pixel units.
type Rect struct {
	X1, Y1, X2, Y2 float32
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() float32 { return r.X2 - r.X1 }

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() float32 { return r.Y2 - r.Y1 }

// Area returns the area of the rectangle, zero for degenerate rectangles.
func (r Rect) Area() float32 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Box is a center-form bounding box: center x, center y, width and height,
// each normalized to the image dimensions.
//
// Boxes marshal to JSON as a four element array [cx, cy, w, h].
type Box struct {
	CenterX float32
	CenterY float32
	Width   float32
	Height  float32
}

// Rect converts the center-form box to corner form.
//
// Returns:
//   - Rect: The corner-form rectangle covering the same area.
func (b Box) Rect() Rect {
	hw, hh := b.Width/2, b.Height/2
	return Rect{
		X1: b.CenterX - hw,
		Y1: b.CenterY - hh,
		X2: b.CenterX + hw,
		Y2: b.CenterY + hh,
	}
}

// Pixels projects the normalized box onto a canvas of the given size and
// clamps the top-left corner and extent so the result stays on the canvas.
//
// Arguments:
//   - width: The canvas width in pixels.
//   - height: The canvas height in pixels.
//
// Returns:
//   - image.Rectangle: The pixel rectangle, possibly empty.
func (b Box) Pixels(width, height int) image.Rectangle {
	w, h := float32(width), float32(height)

	x := math32.Max(0, (b.CenterX-b.Width/2)*w)
	y := math32.Max(0, (b.CenterY-b.Height/2)*h)
	bw := math32.Min(b.Width*w, w-x)
	bh := math32.Min(b.Height*h, h-y)
	if bw < 0 {
		bw = 0
	}
	if bh < 0 {
		bh = 0
	}

	x0, y0 := int(math32.Round(x)), int(math32.Round(y))
	return image.Rect(x0, y0, x0+int(math32.Round(bw)), y0+int(math32.Round(bh)))
}

// MarshalJSON encodes the box as [cx, cy, w, h].
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float32{b.CenterX, b.CenterY, b.Width, b.Height})
}

// UnmarshalJSON decodes a box from [cx, cy, w, h].
func (b *Box) UnmarshalJSON(data []byte) error {
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "decode box")
	}
	if len(v) != 4 {
		return errors.Errorf("box must have 4 components, got %d", len(v))
	}
	b.CenterX, b.CenterY, b.Width, b.Height = v[0], v[1], v[2], v[3]
	return nil
}

// CalculateIoU returns the Intersection over Union of two corner-form
// rectangles.
//
// IoU = Area of Intersection / Area of Union
//
//   - 1.0 means the rectangles are identical.
//   - 0.0 means the rectangles do not overlap, or the union is empty.
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 representing the IoU score.
//
// Example Usage:
// ```go
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//
//	iou := CalculateIoU(a, b) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	ix1 := math32.Max(r.X1, o.X1)
	iy1 := math32.Max(r.Y1, o.Y1)
	ix2 := math32.Min(r.X2, o.X2)
	iy2 := math32.Min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	interArea := interW * interH

	// Inclusion-exclusion: Union(A, B) = Area(A) + Area(B) - Intersection(A, B).
	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 || math32.IsNaN(unionArea) {
		return 0
	}

	return interArea / unionArea
}

// BoxIoU returns the IoU of two center-form boxes.
func BoxIoU(a, b Box) float32 {
	return CalculateIoU(a.Rect(), b.Rect())
}
