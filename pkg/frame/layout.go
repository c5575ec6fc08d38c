package frame

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/bmharper/cimg/v2"
)

var ErrUnsupportedFormat = errors.New("Unsupported pixel format")

// Layout describes where each color channel lives inside a pixel
type Layout struct {
	NChan int
	R     int
	G     int
	B     int
	A     int // -1 if the format has no alpha channel
}

var layoutRGB = Layout{NChan: 3, R: 0, G: 1, B: 2, A: -1}

// LayoutOf returns the channel layout of a frame.
// Frames must be 8-bit RGB, BGR, RGBA or BGRA.
func LayoutOf(img *cimg.Image) (Layout, error) {
	switch img.Format {
	case cimg.PixelFormatRGB:
		return layoutRGB, nil
	case cimg.PixelFormatBGR:
		return Layout{NChan: 3, R: 2, G: 1, B: 0, A: -1}, nil
	case cimg.PixelFormatRGBA:
		return Layout{NChan: 4, R: 0, G: 1, B: 2, A: 3}, nil
	case cimg.PixelFormatBGRA:
		return Layout{NChan: 4, R: 2, G: 1, B: 0, A: 3}, nil
	}
	return Layout{}, fmt.Errorf("%w %v", ErrUnsupportedFormat, img.Format)
}

// Copy returns a pixel-identical copy of img, with its own buffer.
// The pixel format (including alpha) is preserved.
func Copy(img *cimg.Image) *cimg.Image {
	dst := cimg.NewImage(img.Width, img.Height, img.Format)
	rowBytes := img.Width * img.NChan()
	for y := 0; y < img.Height; y++ {
		copy(dst.Pixels[y*dst.Stride:y*dst.Stride+rowBytes], img.Pixels[y*img.Stride:y*img.Stride+rowBytes])
	}
	return dst
}

// Equal returns true if a and b have the same size, format and pixels.
// Padding bytes at the end of each row are ignored.
func Equal(a, b *cimg.Image) bool {
	if a.Width != b.Width || a.Height != b.Height || a.Format != b.Format {
		return false
	}
	rowBytes := a.Width * a.NChan()
	for y := 0; y < a.Height; y++ {
		if string(a.Pixels[y*a.Stride:y*a.Stride+rowBytes]) != string(b.Pixels[y*b.Stride:y*b.Stride+rowBytes]) {
			return false
		}
	}
	return true
}

// Fill sets every pixel of img to col. Alpha is written if the format has it.
func Fill(img *cimg.Image, col color.RGBA) {
	layout, err := LayoutOf(img)
	if err != nil {
		panic(err)
	}
	px := make([]byte, layout.NChan)
	px[layout.R] = col.R
	px[layout.G] = col.G
	px[layout.B] = col.B
	if layout.A >= 0 {
		px[layout.A] = col.A
	}
	for y := 0; y < img.Height; y++ {
		row := img.Pixels[y*img.Stride:]
		for x := 0; x < img.Width; x++ {
			copy(row[x*layout.NChan:], px)
		}
	}
}
