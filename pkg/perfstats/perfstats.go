package perfstats

import (
	"slices"
	"time"

	"github.com/bmharper/ringbuffer"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// LatencyHistory keeps the most recent N durations, for percentiles
type LatencyHistory struct {
	ring ringbuffer.RingP[time.Duration]
}

// The ring size is rounded up to a power of 2
func NewLatencyHistory(size int) *LatencyHistory {
	return &LatencyHistory{
		ring: ringbuffer.NewRingP[time.Duration](nextPowerOf2(size)),
	}
}

func (h *LatencyHistory) Add(d time.Duration) {
	h.ring.Add(d)
}

func (h *LatencyHistory) Len() int {
	return h.ring.Len()
}

// Percentile returns the sample at fraction p (0..1) of the sorted history,
// or zero if there are no samples.
func (h *LatencyHistory) Percentile(p float64) time.Duration {
	n := h.ring.Len()
	if n == 0 {
		return 0
	}
	all := make([]time.Duration, n)
	for i := 0; i < n; i++ {
		all[i] = h.ring.Peek(i)
	}
	slices.Sort(all)
	idx := min(n-1, max(0, int(p*float64(n))))
	return all[idx]
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}
