package nn

import (
	"github.com/chewxy/math32"
)

// CenterBox is the (center, size) box format emitted by YOLO heads,
// in model input pixels.
type CenterBox struct {
	CX float32 `json:"cx"`
	CY float32 `json:"cy"`
	W  float32 `json:"w"`
	H  float32 `json:"h"`
}

// Corners returns the box as unclamped floating point corners
func (b CenterBox) Corners() RectF {
	return RectF{
		X1: b.CX - b.W/2,
		Y1: b.CY - b.H/2,
		X2: b.CX + b.W/2,
		Y2: b.CY + b.H/2,
	}
}

// ToBox converts to integer corners.
// Negative center and size values are clamped to zero first, and no corner
// is ever negative.
func (b CenterBox) ToBox() Box {
	cx := math32.Max(0, b.CX)
	cy := math32.Max(0, b.CY)
	w := math32.Max(0, b.W)
	h := math32.Max(0, b.H)
	return Box{
		X1: max(0, int(cx-w/2)),
		Y1: max(0, int(cy-h/2)),
		X2: max(0, int(cx+w/2)),
		Y2: max(0, int(cy+h/2)),
	}
}

// Box is an integer rectangle with exclusive X2,Y2
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b Box) Width() int {
	return max(0, b.X2-b.X1)
}

func (b Box) Height() int {
	return max(0, b.Y2-b.Y1)
}

func (b Box) Area() int {
	return b.Width() * b.Height()
}

func (b Box) Empty() bool {
	return b.Width() == 0 || b.Height() == 0
}

// Clip to [0,width] x [0,height]
func (b Box) Clip(width, height int) Box {
	return Box{
		X1: min(max(b.X1, 0), width),
		Y1: min(max(b.Y1, 0), height),
		X2: min(max(b.X2, 0), width),
		Y2: min(max(b.Y2, 0), height),
	}
}

// RectF is a floating point rectangle with corners (X1,Y1) and (X2,Y2)
type RectF struct {
	X1 float32
	Y1 float32
	X2 float32
	Y2 float32
}

func (r RectF) Area() float32 {
	return math32.Max(0, r.X2-r.X1) * math32.Max(0, r.Y2-r.Y1)
}

func (r RectF) Intersection(b RectF) RectF {
	return RectF{
		X1: math32.Max(r.X1, b.X1),
		Y1: math32.Max(r.Y1, b.Y1),
		X2: math32.Min(r.X2, b.X2),
		Y2: math32.Min(r.Y2, b.Y2),
	}
}

// Intersection over Union.
// Returns zero when both rectangles are empty.
func (r RectF) IOU(b RectF) float32 {
	inter := r.Intersection(b).Area()
	union := r.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Integer bounds that fully contain the rectangle, for spatial indexing
func (r RectF) OuterBounds() (x1, y1, x2, y2 int32) {
	return int32(math32.Floor(r.X1)), int32(math32.Floor(r.Y1)), int32(math32.Ceil(r.X2)), int32(math32.Ceil(r.Y2))
}
