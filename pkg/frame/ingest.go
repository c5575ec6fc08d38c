package frame

import (
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/veil/pkg/nn"
	"gorgonia.org/tensor"
)

var imageNetMean = [3]float32{0.485, 0.456, 0.406}
var imageNetStd = [3]float32{0.229, 0.224, 0.225}

// Ingestor turns camera frames into network input tensors.
// It owns a page-aligned RGB staging image at the network resolution, so an
// Ingestor must only be used by one goroutine at a time.
type Ingestor struct {
	Width         int // Network input width
	Height        int // Network input height
	Filter        cimg.ResizeFilter
	Normalization nn.Normalization

	staging *cimg.Image // Network resolution, RGB
	rgb     *cimg.Image // Source resolution, RGB. Only used for frames that aren't RGB.
}

func NewIngestor(width, height int) *Ingestor {
	return &Ingestor{
		Width:         width,
		Height:        height,
		Filter:        cimg.ResizeFilterBox,
		Normalization: nn.NormalizeUnit,
		staging:       cimg.WrapImage(width, height, cimg.PixelFormatRGB, PageAlignedAlloc(width*height*3)),
	}
}

// NewIngestorForModel creates an Ingestor with the input size and
// normalization of the model.
func NewIngestorForModel(model *nn.ModelConfig) *Ingestor {
	g := NewIngestor(model.Width, model.Height)
	if model.Normalization != "" {
		g.Normalization = model.Normalization
	}
	return g
}

// ToInputTensor produces a fresh [1,3,Height,Width] float32 tensor from frame.
// The frame is stretched to the network resolution (no letterboxing), and
// channels are stored as planes, R then G then B.
// A frame with zero width or height is a programming error, so we panic.
func (g *Ingestor) ToInputTensor(frame *cimg.Image) (*tensor.Dense, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		panic("Frame has zero dimensions")
	}
	src, err := g.toRGB(frame)
	if err != nil {
		return nil, err
	}
	if src.Width != g.Width || src.Height != g.Height {
		cimg.Resize(src, g.staging, &cimg.ResizeParams{CheapSRGBFilter: true, Filter: g.Filter})
		src = g.staging
	}

	plane := g.Width * g.Height
	data := make([]float32, 3*plane)
	var scale, offset [3]float32
	for c := 0; c < 3; c++ {
		scale[c] = 1.0 / 255
		if g.Normalization == nn.NormalizeImageNet {
			scale[c] /= imageNetStd[c]
			offset[c] = -imageNetMean[c] / imageNetStd[c]
		}
	}
	for y := 0; y < g.Height; y++ {
		row := src.Pixels[y*src.Stride:]
		out := y * g.Width
		for x := 0; x < g.Width; x++ {
			p := row[x*3:]
			data[out+x] = float32(p[0])*scale[0] + offset[0]
			data[plane+out+x] = float32(p[1])*scale[1] + offset[1]
			data[2*plane+out+x] = float32(p[2])*scale[2] + offset[2]
		}
	}
	return tensor.New(tensor.WithShape(1, 3, g.Height, g.Width), tensor.WithBacking(data)), nil
}

// Returns frame itself if it is already RGB, otherwise an RGB copy
func (g *Ingestor) toRGB(frame *cimg.Image) (*cimg.Image, error) {
	layout, err := LayoutOf(frame)
	if err != nil {
		return nil, err
	}
	if layout == layoutRGB {
		return frame, nil
	}
	if g.rgb == nil || g.rgb.Width != frame.Width || g.rgb.Height != frame.Height {
		g.rgb = cimg.NewImage(frame.Width, frame.Height, cimg.PixelFormatRGB)
	}
	for y := 0; y < frame.Height; y++ {
		in := frame.Pixels[y*frame.Stride:]
		out := g.rgb.Pixels[y*g.rgb.Stride:]
		for x := 0; x < frame.Width; x++ {
			p := in[x*layout.NChan:]
			out[x*3] = p[layout.R]
			out[x*3+1] = p[layout.G]
			out[x*3+2] = p[layout.B]
		}
	}
	return g.rgb, nil
}
