package inference

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/marine-detect/images"
	"github.com/nvr-ai/marine-detect/models/postprocess"
)

// PreprocessResult is a model input tensor and the size of the source image.
type PreprocessResult struct {
	// Tensor has shape [1, 3, height, width] with planar R, G, B in [0, 1].
	Tensor         postprocess.RawTensor
	OriginalWidth  int
	OriginalHeight int
}

// Preprocessor stretches images to the model input size and converts them
// into normalized planar float tensors.
type Preprocessor struct {
	Width         int
	Height        int
	Interpolation resize.InterpolationFunction
}

// NewPreprocessor returns a preprocessor for a width x height model input.
func NewPreprocessor(width, height int) *Preprocessor {
	return &Preprocessor{
		Width:         width,
		Height:        height,
		Interpolation: resize.Bilinear,
	}
}

// PreprocessBytes decodes an encoded image and preprocesses it.
//
// Arguments:
//   - data: The encoded image.
//
// Returns:
//   - *PreprocessResult: The tensor and original size.
//   - error: ErrInvalidImage if the bytes cannot be decoded.
func (p *Preprocessor) PreprocessBytes(data []byte) (*PreprocessResult, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	return p.Preprocess(img)
}

// Preprocess prepares the input for the ONNX model before inference is
// called. The image is resized to the model input without preserving its
// aspect ratio.
//
// Arguments:
//   - img: The image to prepare.
//
// Returns:
//   - *PreprocessResult: The tensor and original size.
//   - error: ErrInvalidImage if the image is nil or empty.
func (p *Preprocessor) Preprocess(img image.Image) (*PreprocessResult, error) {
	if err := validateInput(img); err != nil {
		return nil, err
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, errors.Errorf("invalid model input size: %dx%d", p.Width, p.Height)
	}

	bounds := img.Bounds()
	resized := images.Stretch(img, p.Width, p.Height, p.Interpolation)

	channelSize := p.Width * p.Height
	data := make([]float32, channelSize*3)
	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	switch px := resized.(type) {
	case *image.NRGBA:
		fillFromNRGBA(px, p.Width, p.Height, red, green, blue)
	case *image.RGBA:
		fillFromRGBA(px, p.Width, p.Height, red, green, blue)
	default:
		rb := resized.Bounds()
		i := 0
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				c := color.NRGBAModel.Convert(resized.At(rb.Min.X+x, rb.Min.Y+y)).(color.NRGBA)
				red[i] = float32(c.R) / 255.0
				green[i] = float32(c.G) / 255.0
				blue[i] = float32(c.B) / 255.0
				i++
			}
		}
	}

	return &PreprocessResult{
		Tensor:         postprocess.NewRawTensor(data, 1, 3, p.Height, p.Width),
		OriginalWidth:  bounds.Dx(),
		OriginalHeight: bounds.Dy(),
	}, nil
}

// fillFromNRGBA reads a straight-alpha buffer directly.
func fillFromNRGBA(img *image.NRGBA, width, height int, red, green, blue []float32) {
	i := 0
	for y := 0; y < height; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		row := img.Pix[off : off+width*4]
		for x := 0; x < width; x++ {
			px := row[x*4 : x*4+3]
			red[i] = float32(px[0]) / 255.0
			green[i] = float32(px[1]) / 255.0
			blue[i] = float32(px[2]) / 255.0
			i++
		}
	}
}

// fillFromRGBA reads a premultiplied buffer, un-premultiplying translucent
// pixels so channel values match straight-alpha pixel data.
func fillFromRGBA(img *image.RGBA, width, height int, red, green, blue []float32) {
	i := 0
	for y := 0; y < height; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		row := img.Pix[off : off+width*4]
		for x := 0; x < width; x++ {
			px := row[x*4 : x*4+4]
			r, g, b := px[0], px[1], px[2]
			if a := px[3]; a != 0xff {
				c := color.NRGBAModel.Convert(color.RGBA{R: r, G: g, B: b, A: a}).(color.NRGBA)
				r, g, b = c.R, c.G, c.B
			}
			red[i] = float32(r) / 255.0
			green[i] = float32(g) / 255.0
			blue[i] = float32(b) / 255.0
			i++
		}
	}
}

// validateInput rejects images the model cannot be fed.
func validateInput(img image.Image) error {
	if img == nil {
		return errors.Wrap(ErrInvalidImage, "image is nil")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return errors.Wrapf(ErrInvalidImage, "invalid image dimensions: %dx%d", b.Dx(), b.Dy())
	}
	return nil
}

// decodeImage decodes encoded bytes, reporting failures as ErrInvalidImage.
func decodeImage(data []byte) (image.Image, error) {
	img, err := images.Decode(data)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidImage, err.Error())
	}
	return img, nil
}
