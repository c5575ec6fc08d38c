package obfuscate

import (
	"image/color"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/veil/pkg/frame"
	"github.com/cyclopcam/veil/pkg/gen"
	"github.com/cyclopcam/veil/pkg/nn"
	"github.com/cyclopcam/veil/pkg/segment"
)

const DefaultPixelSize = 20
const DefaultBlurRadius = 7

var DefaultMaskColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}

// Engine applies obfuscation to the masked pixels of a frame, in place.
type Engine struct {
	MaskColor  color.RGBA
	PixelSize  int // Block size for Pixelation
	BlurRadius int // Half-width of the square window for Blurring
	Workers    int // Split rows across this many goroutines (<= 1 for none)
}

func NewEngine() *Engine {
	return &Engine{
		MaskColor:  DefaultMaskColor,
		PixelSize:  DefaultPixelSize,
		BlurRadius: DefaultBlurRadius,
	}
}

// Apply obfuscates the pixels of img where mask is true.
// The mask must be the same size as img.
// An invalid type panics with InvalidTypeError.
func (e *Engine) Apply(t Type, img *cimg.Image, mask *segment.Mask) {
	if !t.Valid() {
		panic(InvalidTypeError{t})
	}
	if t == None {
		return
	}
	if mask.Width != img.Width || mask.Height != img.Height {
		panic("Mask size does not match frame size")
	}
	layout, err := frame.LayoutOf(img)
	if err != nil {
		panic(err)
	}
	bounds := mask.Bounds()
	if bounds.Empty() {
		return
	}
	switch t {
	case Masking:
		e.mask(img, layout, mask, bounds)
	case Pixelation:
		e.pixelate(img, layout, mask, bounds)
	case Blurring:
		e.blur(img, layout, mask, bounds)
	}
}

func (e *Engine) mask(img *cimg.Image, layout frame.Layout, mask *segment.Mask, bounds nn.Box) {
	c := e.MaskColor
	gen.ParallelBands(bounds.Height(), e.Workers, func(start, end int) {
		for y := bounds.Y1 + start; y < bounds.Y1+end; y++ {
			row := img.Pixels[y*img.Stride:]
			bits := mask.Bits[y*mask.Width:]
			for x := bounds.X1; x < bounds.X2; x++ {
				if !bits[x] {
					continue
				}
				p := row[x*layout.NChan:]
				p[layout.R] = c.R
				p[layout.G] = c.G
				p[layout.B] = c.B
				if layout.A >= 0 {
					p[layout.A] = c.A
				}
			}
		}
	})
}

// Blocks are aligned to the image origin. Edge blocks are clipped.
func (e *Engine) pixelate(img *cimg.Image, layout frame.Layout, mask *segment.Mask, bounds nn.Box) {
	size := max(1, e.PixelSize)
	firstBlockRow := bounds.Y1 / size
	nBlockRows := (bounds.Y2+size-1)/size - firstBlockRow
	nchan := layout.NChan
	gen.ParallelBands(nBlockRows, e.Workers, func(start, end int) {
		var sum [4]int
		for by := firstBlockRow + start; by < firstBlockRow+end; by++ {
			y1 := by * size
			y2 := min(y1+size, img.Height)
			for x1 := (bounds.X1 / size) * size; x1 < bounds.X2; x1 += size {
				x2 := min(x1+size, img.Width)
				if !anySet(mask, x1, y1, x2, y2) {
					continue
				}
				sum = [4]int{}
				for y := y1; y < y2; y++ {
					row := img.Pixels[y*img.Stride+x1*nchan : y*img.Stride+x2*nchan]
					for i, v := range row {
						sum[i%nchan] += int(v)
					}
				}
				n := (x2 - x1) * (y2 - y1)
				var avg [4]byte
				for c := 0; c < nchan; c++ {
					avg[c] = byte(sum[c] / n)
				}
				for y := y1; y < y2; y++ {
					row := img.Pixels[y*img.Stride+x1*nchan : y*img.Stride+x2*nchan]
					for i := range row {
						row[i] = avg[i%nchan]
					}
				}
			}
		}
	})
}

func anySet(mask *segment.Mask, x1, y1, x2, y2 int) bool {
	for y := y1; y < y2; y++ {
		for _, v := range mask.Bits[y*mask.Width+x1 : y*mask.Width+x2] {
			if v {
				return true
			}
		}
	}
	return false
}

// Every masked pixel becomes the mean of the masked pixels in the
// (2r+1) x (2r+1) window around it. Sums come from summed-area tables that
// are built before any pixel is written, so the result never depends on
// pixels that have already been blurred.
func (e *Engine) blur(img *cimg.Image, layout frame.Layout, mask *segment.Mask, bounds nn.Box) {
	r := max(0, e.BlurRadius)
	region := nn.Box{X1: bounds.X1 - r, Y1: bounds.Y1 - r, X2: bounds.X2 + r, Y2: bounds.Y2 + r}.Clip(img.Width, img.Height)
	sat := newMaskedSAT(img, layout.NChan, mask, region)
	nchan := layout.NChan
	gen.ParallelBands(bounds.Height(), e.Workers, func(start, end int) {
		var sum [4]int64
		for y := bounds.Y1 + start; y < bounds.Y1+end; y++ {
			row := img.Pixels[y*img.Stride:]
			bits := mask.Bits[y*mask.Width:]
			wy1 := max(y-r, region.Y1)
			wy2 := min(y+r+1, region.Y2)
			for x := bounds.X1; x < bounds.X2; x++ {
				if !bits[x] {
					continue
				}
				wx1 := max(x-r, region.X1)
				wx2 := min(x+r+1, region.X2)
				n := sat.sum(wx1, wy1, wx2, wy2, &sum)
				p := row[x*nchan:]
				for c := 0; c < nchan; c++ {
					p[c] = byte(sum[c] / n)
				}
			}
		}
	})
}

// maskedSAT is a summed-area table over the masked pixels of a region.
// Each cell holds nchan channel sums followed by a pixel count.
type maskedSAT struct {
	region nn.Box
	stride int // cells per row
	nchan  int
	cells  []int64
}

func newMaskedSAT(img *cimg.Image, nchan int, mask *segment.Mask, region nn.Box) *maskedSAT {
	w := region.Width() + 1
	h := region.Height() + 1
	cell := nchan + 1
	s := &maskedSAT{
		region: region,
		stride: w,
		nchan:  nchan,
		cells:  make([]int64, w*h*cell),
	}
	for y := 1; y < h; y++ {
		iy := region.Y1 + y - 1
		pix := img.Pixels[iy*img.Stride:]
		bits := mask.Bits[iy*mask.Width:]
		var rowSum [5]int64
		for x := 1; x < w; x++ {
			ix := region.X1 + x - 1
			if bits[ix] {
				p := pix[ix*nchan:]
				for c := 0; c < nchan; c++ {
					rowSum[c] += int64(p[c])
				}
				rowSum[nchan]++
			}
			out := s.cells[(y*w+x)*cell:]
			above := s.cells[((y-1)*w+x)*cell:]
			for c := 0; c < cell; c++ {
				out[c] = above[c] + rowSum[c]
			}
		}
	}
	return s
}

// sum writes the channel sums of masked pixels in [x1,x2) x [y1,y2) (image
// coordinates) to 'out', and returns the number of masked pixels.
func (s *maskedSAT) sum(x1, y1, x2, y2 int, out *[4]int64) int64 {
	x1 -= s.region.X1
	x2 -= s.region.X1
	y1 -= s.region.Y1
	y2 -= s.region.Y1
	cell := s.nchan + 1
	a := s.cells[(y1*s.stride+x1)*cell:]
	b := s.cells[(y1*s.stride+x2)*cell:]
	c := s.cells[(y2*s.stride+x1)*cell:]
	d := s.cells[(y2*s.stride+x2)*cell:]
	for i := 0; i < s.nchan; i++ {
		out[i] = d[i] - b[i] - c[i] + a[i]
	}
	return d[s.nchan] - b[s.nchan] - c[s.nchan] + a[s.nchan]
}
