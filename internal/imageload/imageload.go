// Package imageload decodes image files into normalized float32 tensors.
package imageload

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"

	"github.com/Brownie44l1/transfer-classifier/internal/tensor"
)

// Channels is the number of color channels kept per pixel.
const Channels = 3

// ErrDecode is matched by every DecodeError.
var ErrDecode = errors.New("image decode failed")

// DecodeError reports a file that is not a supported image or is corrupt.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return "decode " + e.Path + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Size is the spatial size every image is resized to.
type Size struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Square returns a Size with equal sides.
func Square(side int) Size { return Size{Width: side, Height: side} }

func (s Size) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return errors.Errorf("invalid image size %dx%d", s.Width, s.Height)
	}
	return nil
}

var extensions = map[string]bool{
	".png":  true,
	".jpeg": true,
	".jpg":  true,
	".bmp":  true,
}

// Supported reports whether name carries one of the accepted image
// extensions, ignoring case.
func Supported(name string) bool {
	return extensions[strings.ToLower(filepath.Ext(name))]
}

// Load reads path and returns a [Height, Width, 3] tensor with values in [0,1].
func Load(path string, size Size) (tensor.Tensor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tensor.Tensor{}, errors.Wrapf(err, "failed to read %s", path)
	}
	t, err := Decode(bytes.NewReader(raw), size)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Path = path
		}
		return tensor.Tensor{}, err
	}
	return t, nil
}

// Decode is Load for an already opened stream.
func Decode(r io.Reader, size Size) (tensor.Tensor, error) {
	if err := size.Validate(); err != nil {
		return tensor.Tensor{}, err
	}
	img, _, err := image.Decode(r)
	if err != nil {
		return tensor.Tensor{}, &DecodeError{Path: "<stream>", Err: err}
	}
	if img.Bounds().Empty() {
		return tensor.Tensor{}, &DecodeError{Path: "<stream>", Err: errors.New("empty image")}
	}
	return toTensor(resize.Resize(uint(size.Width), uint(size.Height), dropAlpha(img), resize.Bilinear)), nil
}

// dropAlpha keeps the straight RGB values of every pixel and makes it fully
// opaque, so translucent pixels are not darkened by premultiplication.
func dropAlpha(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			out.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
	return out
}

// toTensor lays pixels out as HWC. A 16-bit channel divided by 65535 equals
// the 8-bit value divided by 255.
func toTensor(img image.Image) tensor.Tensor {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	data := make([]float32, height*width*Channels)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := (y*width + x) * Channels
			data[i] = float32(r) / 65535.0
			data[i+1] = float32(g) / 65535.0
			data[i+2] = float32(b) / 65535.0
		}
	}
	t, _ := tensor.New([]int{height, width, Channels}, data)
	return t
}
