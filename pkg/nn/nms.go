package nn

import (
	"cmp"
	"slices"

	flatbush "github.com/bmharper/flatbush-go"
)

// Candidate is one box that survived the score threshold, and is a
// contender for non-maximum suppression.
type Candidate struct {
	Index int     // Index along the candidate axis of the model output
	Class int     // Argmax class
	Score float32 // Probability of Class
	Box   RectF   // Corners in model input space
}

// NonMaxSuppression runs greedy per-class NMS.
// A box is suppressed when its IoU with a higher ranked box of the same class
// is greater than iouThreshold. Rank is by descending score, and ties are broken
// by ascending candidate index, so the result is deterministic.
// The result is grouped by ascending class, and within a class it is in rank order.
// At most maxPerClass boxes are kept for each class (zero means no limit).
func NonMaxSuppression(input []Candidate, iouThreshold float32, maxPerClass int) []Candidate {
	if len(input) == 0 {
		return nil
	}
	sorted := slices.Clone(input)
	slices.SortFunc(sorted, func(a, b Candidate) int {
		if c := cmp.Compare(a.Class, b.Class); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(sorted))
	for _, c := range sorted {
		fb.Add(c.Box.OuterBounds())
	}
	fb.Finish()

	suppressed := make([]bool, len(sorted))
	keptInClass := map[int]int{}
	keep := []Candidate{}
	for i, c := range sorted {
		if suppressed[i] {
			continue
		}
		if maxPerClass > 0 && keptInClass[c.Class] >= maxPerClass {
			continue
		}
		keep = append(keep, c)
		keptInClass[c.Class]++
		for _, j := range fb.Search(c.Box.OuterBounds()) {
			// Only lower ranked boxes of the same class sort after i
			if j <= i || suppressed[j] || sorted[j].Class != c.Class {
				continue
			}
			if c.Box.IOU(sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}
