package obfuscate

import (
	"image/color"
	"math/rand"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/veil/pkg/frame"
	"github.com/cyclopcam/veil/pkg/segment"
	"github.com/stretchr/testify/require"
)

func noiseImage(rng *rand.Rand, width, height int, format cimg.PixelFormat) *cimg.Image {
	img := cimg.NewImage(width, height, format)
	rng.Read(img.Pixels)
	return img
}

func randomMask(rng *rand.Rand, width, height int, density float64) *segment.Mask {
	m := segment.NewMask(width, height)
	for i := range m.Bits {
		m.Bits[i] = rng.Float64() < density
	}
	return m
}

func rectMask(width, height, x1, y1, x2, y2 int) *segment.Mask {
	m := segment.NewMask(width, height)
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			m.Set(x, y, true)
		}
	}
	return m
}

func pixel(img *cimg.Image, x, y int) []byte {
	n := img.NChan()
	return img.Pixels[y*img.Stride+x*n : y*img.Stride+x*n+n]
}

func TestMaskingPaintsExactlyTheMask(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, format := range []cimg.PixelFormat{cimg.PixelFormatRGB, cimg.PixelFormatRGBA, cimg.PixelFormatBGRA} {
		src := noiseImage(rng, 160, 120, format)
		img := frame.Copy(src)
		mask := rectMask(160, 120, 10, 10, 50, 50)
		NewEngine().Apply(Masking, img, mask)
		layout, _ := frame.LayoutOf(img)
		for y := 0; y < 120; y++ {
			for x := 0; x < 160; x++ {
				p := pixel(img, x, y)
				if mask.At(x, y) {
					require.Equal(t, []byte{255, 0, 0}, []byte{p[layout.R], p[layout.G], p[layout.B]})
					if layout.A >= 0 {
						require.Equal(t, byte(255), p[layout.A])
					}
				} else {
					require.Equal(t, pixel(src, x, y), p)
				}
			}
		}
	}
}

func TestNoneIsNoOp(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	src := noiseImage(rng, 64, 48, cimg.PixelFormatRGB)
	img := frame.Copy(src)
	NewEngine().Apply(None, img, randomMask(rng, 64, 48, 0.5))
	require.True(t, frame.Equal(src, img))
}

func TestInvalidTypePanics(t *testing.T) {
	img := cimg.NewImage(8, 8, cimg.PixelFormatRGB)
	require.PanicsWithValue(t, InvalidTypeError{Type(7)}, func() {
		NewEngine().Apply(Type(7), img, segment.NewMask(8, 8))
	})
	require.Panics(t, func() {
		NewEngine().Apply(Masking, img, segment.NewMask(4, 4))
	})
}

func TestPixelationBlockInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, workers := range []int{1, 4} {
		for _, density := range []float64{0.0005, 0.01, 0.2} {
			w, h := 203, 151 // Not a multiple of the block size
			src := noiseImage(rng, w, h, cimg.PixelFormatRGBA)
			img := frame.Copy(src)
			mask := randomMask(rng, w, h, density)
			e := NewEngine()
			e.PixelSize = 16
			e.Workers = workers
			e.Apply(Pixelation, img, mask)
			for by := 0; by < h; by += 16 {
				for bx := 0; bx < w; bx += 16 {
					x2, y2 := min(bx+16, w), min(by+16, h)
					touched := false
					for y := by; y < y2; y++ {
						for x := bx; x < x2; x++ {
							touched = touched || mask.At(x, y)
						}
					}
					first := pixel(img, bx, by)
					for y := by; y < y2; y++ {
						for x := bx; x < x2; x++ {
							if touched {
								require.Equal(t, first, pixel(img, x, y))
							} else {
								require.Equal(t, pixel(src, x, y), pixel(img, x, y))
							}
						}
					}
				}
			}
		}
	}
}

func TestPixelationAveragesWholeBlock(t *testing.T) {
	img := cimg.NewImage(4, 2, cimg.PixelFormatRGB)
	// Left block (2x2) gets values 10,20,30,40 in every channel
	vals := [][]byte{{10, 20, 0, 0}, {30, 40, 0, 0}}
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			p := pixel(img, x, y)
			p[0], p[1], p[2] = vals[y][x], vals[y][x], vals[y][x]
		}
	}
	e := NewEngine()
	e.PixelSize = 2
	// Only one pixel of the block is masked, but the whole block changes
	e.Apply(Pixelation, img, rectMask(4, 2, 1, 1, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			require.Equal(t, []byte{25, 25, 25}, pixel(img, x, y))
		}
	}
	require.Equal(t, []byte{0, 0, 0}, pixel(img, 3, 1))
}

// Direct evaluation of the blur definition
func referenceBlur(src *cimg.Image, mask *segment.Mask, r int) *cimg.Image {
	out := frame.Copy(src)
	n := src.NChan()
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			if !mask.At(x, y) {
				continue
			}
			var sum [4]int
			count := 0
			for yy := max(0, y-r); yy <= min(src.Height-1, y+r); yy++ {
				for xx := max(0, x-r); xx <= min(src.Width-1, x+r); xx++ {
					if mask.At(xx, yy) {
						p := pixel(src, xx, yy)
						for c := 0; c < n; c++ {
							sum[c] += int(p[c])
						}
						count++
					}
				}
			}
			p := pixel(out, x, y)
			for c := 0; c < n; c++ {
				p[c] = byte(sum[c] / count)
			}
		}
	}
	return out
}

func TestBlurMatchesDefinition(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for _, format := range []cimg.PixelFormat{cimg.PixelFormatRGB, cimg.PixelFormatBGRA} {
		for _, r := range []int{0, 1, 5, 7} {
			for _, workers := range []int{1, 3} {
				src := noiseImage(rng, 97, 61, format)
				mask := randomMask(rng, 97, 61, 0.4)
				img := frame.Copy(src)
				e := NewEngine()
				e.BlurRadius = r
				e.Workers = workers
				e.Apply(Blurring, img, mask)
				require.True(t, frame.Equal(referenceBlur(src, mask, r), img), "format %v, radius %v", format, r)
			}
		}
	}
}

func TestLaterDetectionsOverwriteEarlierOnes(t *testing.T) {
	img := cimg.NewImage(10, 10, cimg.PixelFormatRGB)
	red := NewEngine()
	blue := NewEngine()
	blue.MaskColor = color.RGBA{B: 255, A: 255}
	red.Apply(Masking, img, rectMask(10, 10, 0, 0, 6, 6))
	blue.Apply(Masking, img, rectMask(10, 10, 4, 4, 10, 10))
	require.Equal(t, []byte{255, 0, 0}, pixel(img, 1, 1))
	require.Equal(t, []byte{0, 0, 255}, pixel(img, 5, 5))
	require.Equal(t, []byte{0, 0, 255}, pixel(img, 9, 9))
}
