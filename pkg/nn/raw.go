package nn

import (
	"errors"
	"fmt"
	"os"

	"gorgonia.org/tensor"
)

var ErrWrongDtype = errors.New("Tensor has an unexpected data type")

// MaskSource provides the coefficient-weighted mask of each candidate box.
// Engines that can only afford to evaluate masks for the boxes that survive
// NMS implement this lazily.
type MaskSource interface {
	// Shape is [candidates, rows, cols]
	Shape() tensor.Shape

	// Channel returns the rows*cols values of one candidate, in row-major order.
	// The slice may alias engine memory, so copy it if you need to keep it.
	Channel(candidate int) ([]float32, error)
}

// RawOutput holds the tensors returned by a SegmentationEngine.
// All of the per-candidate tensors share the same candidate axis, and NMS
// holds indices into that axis.
type RawOutput struct {
	BoxCoordsAll *tensor.Dense // [1, totalBoxes, 4] float32 (cx, cy, w, h) in model input pixels
	ClassIDs     *tensor.Dense // [1, totalBoxes] int32 or int64
	NMS          *tensor.Dense // [kept, 3] int32 or int64 (batch, class, candidate). nil when nothing was kept.
	Masks        MaskSource    // [totalBoxes, protoSize, protoSize]
	Scores       *tensor.Dense // Optional [1, totalBoxes] float32
}

// DenseMasks is a MaskSource backed by a fully materialized float32 tensor
type DenseMasks struct {
	T *tensor.Dense
}

func (m DenseMasks) Shape() tensor.Shape {
	return m.T.Shape()
}

func (m DenseMasks) Channel(candidate int) ([]float32, error) {
	shape := m.T.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("Masks tensor has shape %v, expected 3 dimensions", shape)
	}
	if candidate < 0 || candidate >= shape[0] {
		return nil, fmt.Errorf("Mask candidate %v out of range [0,%v)", candidate, shape[0])
	}
	data, err := Float32s(m.T)
	if err != nil {
		return nil, err
	}
	size := shape[1] * shape[2]
	return data[candidate*size : (candidate+1)*size], nil
}

// Float32s returns the backing array of a float32 tensor
func Float32s(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, errors.New("Tensor is nil")
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: %v, expected float32", ErrWrongDtype, t.Dtype())
	}
	return data, nil
}

// Ints returns the contents of an int32 or int64 tensor.
// Inference runtimes disagree about which of the two they use for indices.
func Ints(t *tensor.Dense) ([]int, error) {
	if t == nil {
		return nil, errors.New("Tensor is nil")
	}
	switch data := t.Data().(type) {
	case []int32:
		r := make([]int, len(data))
		for i, v := range data {
			r[i] = int(v)
		}
		return r, nil
	case []int64:
		r := make([]int, len(data))
		for i, v := range data {
			r[i] = int(v)
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: %v, expected int32 or int64", ErrWrongDtype, t.Dtype())
}

// LoadTensor reads a tensor from a NumPy .npy file.
// This is how we replay recorded model outputs.
func LoadTensor(filename string) (*tensor.Dense, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t := new(tensor.Dense)
	if err := t.ReadNpy(f); err != nil {
		return nil, fmt.Errorf("Error reading tensor from %v: %w", filename, err)
	}
	return t, nil
}

// SaveTensor writes a tensor to a NumPy .npy file
func SaveTensor(filename string, t *tensor.Dense) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := t.WriteNpy(f); err != nil {
		f.Close()
		return fmt.Errorf("Error writing tensor to %v: %w", filename, err)
	}
	return f.Close()
}
