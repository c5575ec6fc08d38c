// Package annotate draws detection boxes over frames, for debugging
package annotate

import (
	"image"
	"image/color"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/veil/pkg/frame"
	"github.com/cyclopcam/veil/pkg/nn"
	"github.com/fogleman/gg"
)

// Label is one box to draw, in frame pixels
type Label struct {
	Box  nn.Box
	Text string
}

// DrawBoxes outlines each box and writes its text above the top-left corner.
// img is modified in place.
func DrawBoxes(img *cimg.Image, labels []Label, col color.RGBA) error {
	if len(labels) == 0 {
		return nil
	}
	layout, err := frame.LayoutOf(img)
	if err != nil {
		return err
	}
	rgba := toRGBA(img, layout)
	dc := gg.NewContextForRGBA(rgba)
	dc.SetColor(col)
	dc.SetLineWidth(2)
	for _, l := range labels {
		if l.Box.Empty() {
			continue
		}
		dc.DrawRectangle(float64(l.Box.X1), float64(l.Box.Y1), float64(l.Box.Width()), float64(l.Box.Height()))
		dc.Stroke()
		if l.Text != "" {
			y := float64(l.Box.Y1) - 3
			if y < 12 {
				y = float64(l.Box.Y1) + 14
			}
			dc.DrawString(l.Text, float64(l.Box.X1)+2, y)
		}
	}
	fromRGBA(rgba, img, layout)
	return nil
}

func toRGBA(img *cimg.Image, layout frame.Layout) *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride:]
		dst := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < img.Width; x++ {
			p := src[x*layout.NChan:]
			dst[x*4] = p[layout.R]
			dst[x*4+1] = p[layout.G]
			dst[x*4+2] = p[layout.B]
			if layout.A >= 0 {
				dst[x*4+3] = p[layout.A]
			} else {
				dst[x*4+3] = 255
			}
		}
	}
	return rgba
}

func fromRGBA(rgba *image.RGBA, img *cimg.Image, layout frame.Layout) {
	for y := 0; y < img.Height; y++ {
		src := rgba.Pix[y*rgba.Stride:]
		dst := img.Pixels[y*img.Stride:]
		for x := 0; x < img.Width; x++ {
			p := dst[x*layout.NChan:]
			p[layout.R] = src[x*4]
			p[layout.G] = src[x*4+1]
			p[layout.B] = src[x*4+2]
			if layout.A >= 0 {
				p[layout.A] = src[x*4+3]
			}
		}
	}
}
