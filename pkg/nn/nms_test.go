package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func box(x1, y1, x2, y2 float32) RectF {
	return RectF{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func keptIndices(c []Candidate) []int {
	r := []int{}
	for _, x := range c {
		r = append(r, x.Index)
	}
	return r
}

func TestNMSSuppressesOverlapsWithinClass(t *testing.T) {
	input := []Candidate{
		{Index: 0, Class: 0, Score: 0.6, Box: box(0, 0, 100, 100)},
		{Index: 1, Class: 0, Score: 0.9, Box: box(5, 5, 105, 105)},
		{Index: 2, Class: 0, Score: 0.8, Box: box(300, 300, 400, 400)},
		// Same place as the first two, but a different class
		{Index: 3, Class: 2, Score: 0.7, Box: box(0, 0, 100, 100)},
	}
	kept := NonMaxSuppression(input, 0.5, 0)
	require.Equal(t, []int{1, 2, 3}, keptIndices(kept))
}

func TestNMSIsDeterministicOnTies(t *testing.T) {
	input := []Candidate{
		{Index: 7, Class: 1, Score: 0.5, Box: box(0, 0, 10, 10)},
		{Index: 3, Class: 1, Score: 0.5, Box: box(1, 1, 11, 11)},
		{Index: 5, Class: 0, Score: 0.5, Box: box(50, 50, 60, 60)},
	}
	for i := 0; i < 10; i++ {
		kept := NonMaxSuppression(input, 0.5, 0)
		// Class 0 first, then the lowest candidate index wins the tie in class 1
		require.Equal(t, []int{5, 3}, keptIndices(kept))
	}
}

func TestNMSIoUBoundary(t *testing.T) {
	// IoU of these two is exactly 1/3
	a := box(0, 0, 20, 10)
	b := box(10, 0, 30, 10)
	require.InDelta(t, 1.0/3.0, a.IOU(b), 1e-6)
	input := []Candidate{
		{Index: 0, Class: 0, Score: 0.9, Box: a},
		{Index: 1, Class: 0, Score: 0.8, Box: b},
	}
	require.Equal(t, []int{0, 1}, keptIndices(NonMaxSuppression(input, 0.5, 0)))
	require.Equal(t, []int{0}, keptIndices(NonMaxSuppression(input, 0.3, 0)))
}

func TestNMSMaxPerClass(t *testing.T) {
	input := []Candidate{}
	for i := 0; i < 10; i++ {
		x := float32(i * 50)
		input = append(input, Candidate{Index: i, Class: 4, Score: float32(i) / 10, Box: box(x, 0, x+20, 20)})
	}
	kept := NonMaxSuppression(input, 0.5, 3)
	require.Equal(t, []int{9, 8, 7}, keptIndices(kept))
	require.Empty(t, NonMaxSuppression(nil, 0.5, 3))
}
