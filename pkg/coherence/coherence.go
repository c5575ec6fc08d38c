// Package coherence decides which frames need a fresh detection, and holds
// the result of the last detection so that it can be reused on the frames
// in between.
package coherence

import (
	"github.com/cyclopcam/veil/pkg/nn"
	"github.com/cyclopcam/veil/pkg/segment"
)

const DefaultInterval = 3
const DefaultThreshold = 0.01

type State int

const (
	StateEmpty     State = iota // No reusable detections
	StatePopulated              // Holds the result of the last full detection
)

func (s State) String() string {
	if s == StatePopulated {
		return "populated"
	}
	return "empty"
}

// Object is one reconstructed detection
type Object struct {
	Class  int
	Center nn.CenterBox  // Box as emitted by the model. Used for similarity.
	Box    nn.Box        // Box in frame pixels
	Mask   *segment.Mask // At the resolution of the obfuscated frame
}

// DetectionSet is everything that is needed to obfuscate a frame without
// running the model again.
type DetectionSet struct {
	Objects []Object
}

// Clone returns a deep copy
func (s *DetectionSet) Clone() *DetectionSet {
	c := &DetectionSet{Objects: make([]Object, len(s.Objects))}
	for i, o := range s.Objects {
		c.Objects[i] = Object{
			Class:  o.Class,
			Center: o.Center,
			Box:    o.Box,
			Mask:   o.Mask.Clone(),
		}
	}
	return c
}

func (s *DetectionSet) Centers() []nn.CenterBox {
	r := make([]nn.CenterBox, len(s.Objects))
	for i, o := range s.Objects {
		r[i] = o.Center
	}
	return r
}

// Cache is a single slot holding the last DetectionSet.
// It is owned by one pipeline, and only mutated between frames.
type Cache struct {
	Interval   int     // Run detection on every Interval'th frame
	Threshold  float32 // See IsSimilar. Negative disables reuse on detection frames.
	NormWidth  float32 // Box coordinates are divided by this before comparison
	NormHeight float32

	counter int64
	set     *DetectionSet
}

// New creates an empty cache. Boxes are normalized by the model input size.
func New(interval int, threshold float32, modelWidth, modelHeight int) *Cache {
	return &Cache{
		Interval:   max(1, interval),
		Threshold:  threshold,
		NormWidth:  float32(modelWidth),
		NormHeight: float32(modelHeight),
	}
}

// Advance increments the frame counter, and returns true if this frame
// must run detection.
func (c *Cache) Advance() bool {
	c.counter++
	return c.counter%int64(c.Interval) == 0
}

func (c *Cache) FrameCounter() int64 {
	return c.counter
}

func (c *Cache) State() State {
	if c.set == nil {
		return StateEmpty
	}
	return StatePopulated
}

// Set returns the cached detections, or nil if the cache is empty.
// Treat the result as read-only.
func (c *Cache) Set() *DetectionSet {
	return c.set
}

// Store replaces the cached set with a deep copy of 'set'
func (c *Cache) Store(set *DetectionSet) {
	c.set = set.Clone()
}

// Invalidate drops the cached set
func (c *Cache) Invalidate() {
	c.set = nil
}

// Similar returns true if 'fresh' is close enough to the cached boxes that
// the cached masks can be reused. An empty cache is never similar.
func (c *Cache) Similar(fresh []nn.CenterBox) bool {
	if c.set == nil {
		return false
	}
	return IsSimilar(fresh, c.set.Centers(), c.NormWidth, c.NormHeight, c.Threshold)
}

// Distance is the squared distance between the normalized centers of a and
// b, plus the squared distance between their normalized sizes.
func Distance(a, b nn.CenterBox, normWidth, normHeight float32) float32 {
	dx := (a.CX - b.CX) / normWidth
	dy := (a.CY - b.CY) / normHeight
	dw := (a.W - b.W) / normWidth
	dh := (a.H - b.H) / normHeight
	return dx*dx + dy*dy + dw*dw + dh*dh
}

// IsSimilar compares two box lists position by position (box i of 'fresh'
// against box i of 'cached').
// The lists are dissimilar if their lengths differ, or if the Distance of
// any pair is strictly greater than threshold. A distance exactly equal to
// the threshold is similar. A negative threshold is never similar.
func IsSimilar(fresh, cached []nn.CenterBox, normWidth, normHeight, threshold float32) bool {
	if threshold < 0 || len(fresh) != len(cached) {
		return false
	}
	for i := range fresh {
		if Distance(fresh[i], cached[i], normWidth, normHeight) > threshold {
			return false
		}
	}
	return true
}
