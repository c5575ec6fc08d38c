package coherence

import (
	"math"
	"testing"

	"github.com/cyclopcam/veil/pkg/nn"
	"github.com/cyclopcam/veil/pkg/segment"
	"github.com/stretchr/testify/require"
)

func TestDetectionFrames(t *testing.T) {
	c := New(3, DefaultThreshold, 640, 640)
	got := []bool{}
	for i := 0; i < 7; i++ {
		got = append(got, c.Advance())
	}
	require.Equal(t, []bool{false, false, true, false, false, true, false}, got)
	require.Equal(t, int64(7), c.FrameCounter())

	always := New(1, -1, 640, 640)
	for i := 0; i < 5; i++ {
		require.True(t, always.Advance())
	}
}

func TestLengthMismatchIsDissimilar(t *testing.T) {
	a := []nn.CenterBox{{CX: 100, CY: 100, W: 50, H: 50}}
	b := []nn.CenterBox{{CX: 100, CY: 100, W: 50, H: 50}, {CX: 100, CY: 100, W: 50, H: 50}}
	require.False(t, IsSimilar(a, b, 640, 640, DefaultThreshold))
	require.False(t, IsSimilar(b, a, 640, 640, 1000))
	require.True(t, IsSimilar(a, a, 640, 640, DefaultThreshold))
}

func TestThresholdBoundary(t *testing.T) {
	base := nn.CenterBox{CX: 320, CY: 320, W: 100, H: 100}

	// Shift the center by just under and just over 0.1 in normalized units
	under := base
	under.CX += 0.0999 * 640
	over := base
	over.CX += 0.1001 * 640
	cached := []nn.CenterBox{base}
	require.True(t, IsSimilar([]nn.CenterBox{under}, cached, 640, 640, 0.01))
	require.False(t, IsSimilar([]nn.CenterBox{over}, cached, 640, 640, 0.01))

	// Exactly at the threshold is similar, because the rule is "greater than"
	moved := base
	moved.CY += 40
	moved.W += 25
	d := Distance(moved, base, 640, 640)
	require.True(t, IsSimilar([]nn.CenterBox{moved}, cached, 640, 640, d))
	require.False(t, IsSimilar([]nn.CenterBox{moved}, cached, 640, 640, math.Nextafter32(d, 0)))
}

func TestOneOutlierForcesDissimilar(t *testing.T) {
	cached := []nn.CenterBox{
		{CX: 100, CY: 100, W: 50, H: 50},
		{CX: 300, CY: 300, W: 50, H: 50},
		{CX: 500, CY: 500, W: 50, H: 50},
	}
	fresh := append([]nn.CenterBox(nil), cached...)
	fresh[0].CX += 1
	fresh[2].CY += 200
	require.False(t, IsSimilar(fresh, cached, 640, 640, DefaultThreshold))
	fresh[2] = cached[2]
	require.True(t, IsSimilar(fresh, cached, 640, 640, DefaultThreshold))
}

func TestStoreIsDeepCopy(t *testing.T) {
	c := New(3, DefaultThreshold, 640, 640)
	require.Equal(t, StateEmpty, c.State())
	require.False(t, c.Similar(nil))

	mask := segment.NewMask(4, 4)
	mask.Set(1, 1, true)
	set := &DetectionSet{Objects: []Object{{Class: 2, Center: nn.CenterBox{CX: 10, CY: 10, W: 4, H: 4}, Mask: mask}}}
	c.Store(set)
	require.Equal(t, StatePopulated, c.State())

	// Mutating the caller's copy must not reach the cache
	mask.Set(1, 1, false)
	set.Objects[0].Center.CX = 500
	require.True(t, c.Set().Objects[0].Mask.At(1, 1))
	require.True(t, c.Similar([]nn.CenterBox{{CX: 10, CY: 10, W: 4, H: 4}}))

	c.Invalidate()
	require.Equal(t, StateEmpty, c.State())
	require.Nil(t, c.Set())
}
