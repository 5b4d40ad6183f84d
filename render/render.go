// Package render draws detections onto images.
package render

import (
	"fmt"
	"image"
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/marine-detect/inference"
	"github.com/nvr-ai/marine-detect/models"
	"github.com/nvr-ai/marine-detect/models/postprocess"
)

// DefaultMinConfidence is the display threshold for drawn detections.
const DefaultMinConfidence float32 = 0.5

// referenceSize is the image side at which lines are 2px and text is at unit scale.
const referenceSize = 640

var labelText = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Options controls what Annotate draws.
type Options struct {
	// MinConfidence hides detections scoring below it.
	MinConfidence float32
	// ShowLabels draws "<class> <confidence>%" above each box.
	ShowLabels bool
	// Classes supplies the box colors; nil means models.MarineClasses.
	Classes *models.OutputClassSet
}

// DefaultOptions draws labelled boxes at the display threshold.
func DefaultOptions() Options {
	return Options{
		MinConfidence: DefaultMinConfidence,
		ShowLabels:    true,
		Classes:       models.MarineClasses,
	}
}

// Annotate draws detections onto an encoded image and returns it as PNG.
//
// Arguments:
//   - encoded: The source image in any format OpenCV decodes.
//   - detections: Detections with boxes normalized to the source image.
//   - opts: Display threshold, labels and colors.
//
// Returns:
//   - []byte: The annotated PNG.
//   - error: An error wrapping inference.ErrInvalidImage if encoded cannot be decoded.
func Annotate(encoded []byte, detections []postprocess.Detection, opts Options) ([]byte, error) {
	if len(encoded) == 0 {
		return nil, errors.Wrap(inference.ErrInvalidImage, "empty image")
	}

	mat, err := gocv.IMDecode(encoded, gocv.IMReadColor)
	if err != nil {
		return nil, errors.Wrap(inference.ErrInvalidImage, err.Error())
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, errors.Wrap(inference.ErrInvalidImage, "image could not be decoded")
	}

	Draw(&mat, detections, opts)

	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Draw draws detections in place onto mat.
func Draw(mat *gocv.Mat, detections []postprocess.Detection, opts Options) {
	classes := opts.Classes
	if classes == nil {
		classes = models.MarineClasses
	}

	w, h := mat.Cols(), mat.Rows()
	thickness := LineWidth(w, h)
	scale := FontScale(w, h)

	for _, d := range detections {
		if d.Confidence < opts.MinConfidence {
			continue
		}

		rect := d.Box.Pixels(w, h)
		if rect.Empty() {
			continue
		}
		c := ParseColor(classes.Color(d.Class))
		gocv.Rectangle(mat, rect, c, thickness)

		if opts.ShowLabels {
			drawLabel(mat, Label(d), rect.Min, c, scale, thickness)
		}
	}
}

// drawLabel draws text on a filled background above origin, or inside the
// box when there is no room above it.
func drawLabel(mat *gocv.Mat, text string, origin image.Point, bg color.RGBA, scale float64, thickness int) {
	textThickness := max(1, thickness/2)
	size := gocv.GetTextSize(text, gocv.FontHersheySimplex, scale, textThickness)
	pad := thickness

	top := origin.Y - size.Y - 2*pad
	if top < 0 {
		top = origin.Y
	}
	bgRect := image.Rect(origin.X, top, origin.X+size.X+2*pad, top+size.Y+2*pad)

	gocv.Rectangle(mat, bgRect, bg, -1)
	gocv.PutText(mat, text, image.Pt(origin.X+pad, top+size.Y+pad), gocv.FontHersheySimplex, scale, labelText, textThickness)
}

// Label formats a detection as "<class> <confidence>%" with one decimal.
func Label(d postprocess.Detection) string {
	return fmt.Sprintf("%s %.1f%%", d.Class, d.Confidence*100)
}

// LineWidth scales the 2px reference line width with the image.
func LineWidth(width, height int) int {
	return max(2, 2*min(width, height)/referenceSize)
}

// FontScale scales text with the image, never below half size.
func FontScale(width, height int) float64 {
	return max(0.5, float64(min(width, height))/referenceSize)
}

// ParseColor parses a #RRGGBB color, falling back to models.DefaultClassColor.
func ParseColor(hex string) color.RGBA {
	c, err := colorful.Hex(hex)
	if err != nil {
		c, _ = colorful.Hex(models.DefaultClassColor)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
