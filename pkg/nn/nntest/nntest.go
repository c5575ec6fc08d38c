// Package nntest builds synthetic model outputs for tests
package nntest

import (
	"fmt"

	"github.com/cyclopcam/veil/pkg/nn"
	"gorgonia.org/tensor"
)

// Raw mask values well clear of the sigmoid threshold
const (
	Inside  = float32(10)
	Outside = float32(-10)
)

// Object is one synthetic detection that NMS keeps
type Object struct {
	Candidate int          // Index along the candidate axis
	Class     int          // Class ID
	Score     float32      // Optional
	Box       nn.CenterBox // Model input pixels
	Mask      func(row, col int) float32
}

// Config returns a small model config, so that tests don't allocate 8400 candidates
func Config(totalBoxes int) *nn.ModelConfig {
	cfg := nn.NewYOLOv8SegConfig()
	cfg.TotalBoxes = totalBoxes
	return cfg
}

// BuildRaw returns an output where NMS keeps exactly 'objects', in the given order.
// Every other candidate has a zero box and an empty mask.
func BuildRaw(cfg *nn.ModelConfig, objects []Object) *nn.RawOutput {
	n := cfg.TotalBoxes
	boxes := make([]float32, n*4)
	classes := make([]int32, n)
	scores := make([]float32, n)
	masks := &SparseMasks{
		N:        n,
		Rows:     cfg.MaskProtoSize,
		Cols:     cfg.MaskProtoSize,
		Channels: map[int][]float32{},
	}
	nms := []int32{}
	for _, o := range objects {
		if o.Candidate < 0 || o.Candidate >= n {
			panic(fmt.Sprintf("Candidate %v out of range", o.Candidate))
		}
		copy(boxes[o.Candidate*4:], []float32{o.Box.CX, o.Box.CY, o.Box.W, o.Box.H})
		classes[o.Candidate] = int32(o.Class)
		scores[o.Candidate] = o.Score
		ch := make([]float32, masks.Rows*masks.Cols)
		for r := 0; r < masks.Rows; r++ {
			for c := 0; c < masks.Cols; c++ {
				if o.Mask == nil {
					ch[r*masks.Cols+c] = Inside
				} else {
					ch[r*masks.Cols+c] = o.Mask(r, c)
				}
			}
		}
		masks.Channels[o.Candidate] = ch
		nms = append(nms, 0, int32(o.Class), int32(o.Candidate))
	}
	raw := &nn.RawOutput{
		BoxCoordsAll: tensor.New(tensor.WithShape(1, n, 4), tensor.WithBacking(boxes)),
		ClassIDs:     tensor.New(tensor.WithShape(1, n), tensor.WithBacking(classes)),
		Scores:       tensor.New(tensor.WithShape(1, n), tensor.WithBacking(scores)),
		Masks:        masks,
	}
	if len(objects) != 0 {
		raw.NMS = tensor.New(tensor.WithShape(len(objects), 3), tensor.WithBacking(nms))
	}
	return raw
}

// SparseMasks only stores the channels that tests care about.
// All other candidates read as Outside.
type SparseMasks struct {
	N        int
	Rows     int
	Cols     int
	Channels map[int][]float32
	empty    []float32
}

func (m *SparseMasks) Shape() tensor.Shape {
	return tensor.Shape{m.N, m.Rows, m.Cols}
}

func (m *SparseMasks) Channel(candidate int) ([]float32, error) {
	if candidate < 0 || candidate >= m.N {
		return nil, fmt.Errorf("Candidate %v out of range", candidate)
	}
	if ch, ok := m.Channels[candidate]; ok {
		return ch, nil
	}
	if m.empty == nil {
		m.empty = make([]float32, m.Rows*m.Cols)
		for i := range m.empty {
			m.empty[i] = Outside
		}
	}
	return m.empty, nil
}

// FakeEngine replays a scripted sequence of outputs.
// Once the script runs out, the last output repeats.
type FakeEngine struct {
	Model   *nn.ModelConfig
	Outputs []*nn.RawOutput
	Errors  []error // Parallel to Outputs. A non-nil entry makes that call fail.
	Panic   bool    // Panic on the next call
	Calls   int
	Closed  bool
}

func (f *FakeEngine) Close() {
	f.Closed = true
}

func (f *FakeEngine) Config() *nn.ModelConfig {
	return f.Model
}

func (f *FakeEngine) Segment(input *tensor.Dense) (*nn.RawOutput, error) {
	if f.Panic {
		f.Panic = false
		panic("fake engine failure")
	}
	expect := tensor.Shape{1, 3, f.Model.Height, f.Model.Width}
	if !input.Shape().Eq(expect) {
		return nil, fmt.Errorf("Input shape %v, expected %v", input.Shape(), expect)
	}
	f.Calls++
	if len(f.Outputs) == 0 {
		return nil, nil
	}
	i := min(f.Calls-1, len(f.Outputs)-1)
	if i < len(f.Errors) && f.Errors[i] != nil {
		return nil, f.Errors[i]
	}
	return f.Outputs[i], nil
}
