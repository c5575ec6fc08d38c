package segment

import "github.com/chewxy/math32"

// Sigmoid is the logistic function, evaluated in float32 like the rest of
// the mask pipeline. NaN maps to zero, so a bad model output never turns
// into an obfuscated pixel by accident.
func Sigmoid(x float32) float32 {
	if math32.IsNaN(x) {
		return 0
	}
	return 1 / (1 + math32.Exp(-x))
}

// Binarize thresholds values that are already in [0,1]
func Binarize(v []float32, threshold float32) []bool {
	r := make([]bool, len(v))
	for i, x := range v {
		r[i] = x >= threshold
	}
	return r
}
