package segment

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/veil/pkg/nn"
)

// ErrMalformed is returned when the model output does not match the expected
// tensor layout. Callers treat this the same as "nothing detected".
var ErrMalformed = errors.New("Malformed model output")

// Detection is one object that survived NMS
type Detection struct {
	Class    int
	Score    float32      // Zero if the engine doesn't report scores
	Center   nn.CenterBox // Box as emitted by the model, in model input pixels
	Box      nn.Box       // Corners in model input pixels, never negative
	Mask     []float32    // Raw (pre-sigmoid) mask, MaskRows x MaskCols, row-major. Owned by the Detection.
	MaskRows int
	MaskCols int
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrMalformed, fmt.Sprintf(format, args...))
}

// Decode gathers the detections that NMS selected, in NMS order.
// A nil NMS tensor means nothing was detected, and returns an empty list.
// If the tensors don't have the expected shapes, the result is empty, and
// the error describes the problem.
func Decode(raw *nn.RawOutput) ([]Detection, error) {
	if raw == nil {
		return nil, malformed("no output")
	}
	if raw.NMS == nil {
		return nil, nil
	}

	nmsShape := raw.NMS.Shape()
	if len(nmsShape) != 2 || nmsShape[1] != 3 {
		return nil, malformed("NMS shape %v, expected [N,3]", nmsShape)
	}
	nms, err := nn.Ints(raw.NMS)
	if err != nil {
		return nil, malformed("NMS: %v", err)
	}
	if raw.BoxCoordsAll == nil {
		return nil, malformed("no box coordinates")
	}
	boxShape := raw.BoxCoordsAll.Shape()
	if len(boxShape) != 3 || boxShape[0] != 1 || boxShape[2] != 4 {
		return nil, malformed("boxCoordsAll shape %v, expected [1,N,4]", boxShape)
	}
	boxes, err := nn.Float32s(raw.BoxCoordsAll)
	if err != nil {
		return nil, malformed("boxCoordsAll: %v", err)
	}
	nCandidates := boxShape[1]
	if raw.ClassIDs == nil {
		return nil, malformed("no class IDs")
	}
	if !isCandidateVector(raw.ClassIDs.Shape(), nCandidates) {
		return nil, malformed("classIDs shape %v, expected [1,%v]", raw.ClassIDs.Shape(), nCandidates)
	}
	classes, err := nn.Ints(raw.ClassIDs)
	if err != nil {
		return nil, malformed("classIDs: %v", err)
	}
	var scores []float32
	if raw.Scores != nil {
		if !isCandidateVector(raw.Scores.Shape(), nCandidates) {
			return nil, malformed("scores shape %v, expected [1,%v]", raw.Scores.Shape(), nCandidates)
		}
		if scores, err = nn.Float32s(raw.Scores); err != nil {
			return nil, malformed("scores: %v", err)
		}
	}
	if raw.Masks == nil {
		return nil, malformed("no masks")
	}
	maskShape := raw.Masks.Shape()
	if len(maskShape) != 3 {
		return nil, malformed("masks shape %v, expected 3 dimensions", maskShape)
	}
	rows, cols := maskShape[1], maskShape[2]

	dets := make([]Detection, 0, len(nms)/3)
	for i := 0; i < len(nms); i += 3 {
		cand := nms[i+2]
		if cand < 0 || cand >= nCandidates || cand >= maskShape[0] {
			return nil, malformed("NMS candidate index %v out of range", cand)
		}
		channel, err := raw.Masks.Channel(cand)
		if err != nil {
			return nil, malformed("mask %v: %v", cand, err)
		}
		if len(channel) != rows*cols {
			return nil, malformed("mask %v has %v values, expected %v", cand, len(channel), rows*cols)
		}
		b := boxes[cand*4 : cand*4+4]
		center := nn.CenterBox{CX: b[0], CY: b[1], W: b[2], H: b[3]}
		det := Detection{
			Class:    classes[cand],
			Center:   center,
			Box:      center.ToBox(),
			Mask:     append([]float32(nil), channel...),
			MaskRows: rows,
			MaskCols: cols,
		}
		if scores != nil {
			det.Score = scores[cand]
		}
		dets = append(dets, det)
	}
	return dets, nil
}

// Per-candidate tensors are [1,N], or [N] for engines that drop the batch axis
func isCandidateVector(shape []int, n int) bool {
	switch len(shape) {
	case 1:
		return shape[0] == n
	case 2:
		return shape[0] == 1 && shape[1] == n
	}
	return false
}
