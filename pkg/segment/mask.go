package segment

import "github.com/cyclopcam/veil/pkg/nn"

// Mask is a binary image, one bool per pixel, row-major.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Bits:   make([]bool, width*height),
	}
}

func (m *Mask) At(x, y int) bool {
	return m.Bits[y*m.Width+x]
}

func (m *Mask) Set(x, y int, v bool) {
	m.Bits[y*m.Width+x] = v
}

// Count returns the number of true pixels
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Bounds returns the tightest box that holds every true pixel.
// The box is empty if no pixels are set.
func (m *Mask) Bounds() nn.Box {
	b := nn.Box{X1: m.Width, Y1: m.Height}
	for y := 0; y < m.Height; y++ {
		row := m.Bits[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if v {
				b.X1 = min(b.X1, x)
				b.X2 = max(b.X2, x+1)
				b.Y1 = min(b.Y1, y)
				b.Y2 = y + 1
			}
		}
	}
	if b.X2 == 0 {
		return nn.Box{}
	}
	return b
}

func (m *Mask) Clone() *Mask {
	return &Mask{
		Width:  m.Width,
		Height: m.Height,
		Bits:   append([]bool(nil), m.Bits...),
	}
}

func (m *Mask) Equal(b *Mask) bool {
	if m.Width != b.Width || m.Height != b.Height {
		return false
	}
	for i, v := range m.Bits {
		if b.Bits[i] != v {
			return false
		}
	}
	return true
}

func (m *Mask) SameSize(width, height int) bool {
	return m.Width == width && m.Height == height
}
