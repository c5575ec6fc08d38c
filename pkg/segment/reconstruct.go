package segment

import (
	"math"

	"github.com/cyclopcam/veil/pkg/gen"
	"github.com/cyclopcam/veil/pkg/nn"
)

// Reconstructor turns the low resolution mask of a Detection into a binary
// mask at the resolution of the image that will be obfuscated.
//
// All mask values are handled in float32. Pixel coordinates are mapped with
// round-half-to-even on the exact quotient.
type Reconstructor struct {
	ModelWidth  int     // Width of the network input, which is the space of Detection.Box
	ModelHeight int     // Height of the network input
	Threshold   float32 // Sigmoid values at or above this are inside the object
	InvertY     bool    // Mask row zero is at the bottom of the image
	Workers     int     // Split rows across this many goroutines (<= 1 for none)
}

func NewReconstructor(cfg *nn.ModelConfig, threshold float32) *Reconstructor {
	return &Reconstructor{
		ModelWidth:  cfg.Width,
		ModelHeight: cfg.Height,
		Threshold:   threshold,
		InvertY:     cfg.InvertY(),
	}
}

// TargetBox returns the detection box scaled to a width x height image,
// clamped to the image, and flipped vertically if InvertY is set.
func (r *Reconstructor) TargetBox(b nn.Box, width, height int) nn.Box {
	sx := float64(width) / float64(r.ModelWidth)
	sy := float64(height) / float64(r.ModelHeight)
	t := nn.Box{
		X1: int(float64(b.X1) * sx),
		Y1: int(float64(b.Y1) * sy),
		X2: int(float64(b.X2) * sx),
		Y2: int(float64(b.Y2) * sy),
	}.Clip(width, height)
	if r.InvertY {
		t.Y1 = height - t.Y1
		t.Y2 = height - t.Y2
		if t.Y1 > t.Y2 {
			t.Y1, t.Y2 = t.Y2, t.Y1
		}
	}
	return t
}

// Reconstruct produces a width x height mask for det.
// Only pixels inside TargetBox can be true.
func (r *Reconstructor) Reconstruct(det *Detection, width, height int) *Mask {
	mask := NewMask(width, height)
	box := r.TargetBox(det.Box, width, height)
	if box.Empty() || det.MaskRows == 0 || det.MaskCols == 0 {
		return mask
	}

	// Threshold at the source resolution. Nearest neighbor sampling means
	// this is identical to thresholding after upsampling.
	prob := make([]float32, len(det.Mask))
	for i, v := range det.Mask {
		prob[i] = Sigmoid(v)
	}
	src := Binarize(prob, r.Threshold)

	rows, cols := det.MaskRows, det.MaskCols
	scaleX := float64(width) / float64(cols)
	scaleY := float64(height) / float64(rows)

	srcX := make([]int, box.X2-box.X1)
	for x := box.X1; x < box.X2; x++ {
		srcX[x-box.X1] = gen.Clamp(int(math.RoundToEven(float64(x)/scaleX)), 0, cols-1)
	}

	gen.ParallelBands(box.Y2-box.Y1, r.Workers, func(start, end int) {
		for y := box.Y1 + start; y < box.Y1+end; y++ {
			sy := int(math.RoundToEven(float64(y) / scaleY))
			if r.InvertY {
				sy = rows - sy
			}
			sy = gen.Clamp(sy, 0, rows-1)
			srcRow := src[sy*cols : (sy+1)*cols]
			dst := mask.Bits[y*width:]
			for x := box.X1; x < box.X2; x++ {
				dst[x] = srcRow[srcX[x-box.X1]]
			}
		}
	})
	return mask
}
