// Package yoloseg is a CPU implementation of the tail of a YOLOv8-seg graph.
// It turns the two raw heads of the network into the tensors that the rest
// of the pipeline consumes: transposed boxes, argmax classes, NMS indices,
// and coefficient-weighted masks.
package yoloseg

import (
	"fmt"

	"github.com/cyclopcam/veil/pkg/nn"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gorgonia.org/tensor"
)

// Backend executes the network itself.
// output0 is [1, 4+classes+maskChannels, totalBoxes].
// output1 is [1, maskChannels, protoSize, protoSize].
type Backend interface {
	Run(input *tensor.Dense) (output0, output1 *tensor.Dense, err error)
	Close()
}

// Engine implements nn.SegmentationEngine on top of a Backend
type Engine struct {
	backend Backend
	model   *nn.ModelConfig
	params  nn.DetectionParams
}

func NewEngine(backend Backend, model *nn.ModelConfig, params *nn.DetectionParams) *Engine {
	p := *params
	p.FillDefaults()
	return &Engine{
		backend: backend,
		model:   model,
		params:  p,
	}
}

func (e *Engine) Close() {
	e.backend.Close()
}

func (e *Engine) Config() *nn.ModelConfig {
	return e.model
}

func (e *Engine) Segment(input *tensor.Dense) (*nn.RawOutput, error) {
	out0, out1, err := e.backend.Run(input)
	if err != nil {
		return nil, err
	}
	nc := len(e.model.Classes)
	nm := e.model.MaskChannels

	s0 := out0.Shape()
	if len(s0) != 3 || s0[0] != 1 || s0[1] != 4+nc+nm {
		return nil, fmt.Errorf("output0 shape %v, expected [1,%v,N]", s0, 4+nc+nm)
	}
	s1 := out1.Shape()
	if len(s1) != 4 || s1[0] != 1 || s1[1] != nm {
		return nil, fmt.Errorf("output1 shape %v, expected [1,%v,P,P]", s1, nm)
	}
	head, err := nn.Float32s(out0)
	if err != nil {
		return nil, err
	}
	protos, err := nn.Float32s(out1)
	if err != nil {
		return nil, err
	}
	n := s0[2]

	// Features are rows of length n. Transpose the boxes into [n,4], and
	// find the best class of each candidate.
	boxes := make([]float32, n*4)
	classes := make([]int32, n)
	scores := make([]float32, n)
	candidates := []nn.Candidate{}
	for i := 0; i < n; i++ {
		for k := 0; k < 4; k++ {
			boxes[i*4+k] = head[k*n+i]
		}
		best := 0
		bestScore := head[4*n+i]
		for c := 1; c < nc; c++ {
			if v := head[(4+c)*n+i]; v > bestScore {
				best = c
				bestScore = v
			}
		}
		classes[i] = int32(best)
		scores[i] = bestScore
		if bestScore >= e.params.ScoreThreshold {
			center := nn.CenterBox{CX: boxes[i*4], CY: boxes[i*4+1], W: boxes[i*4+2], H: boxes[i*4+3]}
			candidates = append(candidates, nn.Candidate{Index: i, Class: best, Score: bestScore, Box: center.Corners()})
		}
	}

	raw := &nn.RawOutput{
		BoxCoordsAll: tensor.New(tensor.WithShape(1, n, 4), tensor.WithBacking(boxes)),
		ClassIDs:     tensor.New(tensor.WithShape(1, n), tensor.WithBacking(classes)),
		Scores:       tensor.New(tensor.WithShape(1, n), tensor.WithBacking(scores)),
		Masks: &protoMasks{
			n:         n,
			channels:  nm,
			rows:      s1[2],
			cols:      s1[3],
			head:      head,
			coeffRow0: 4 + nc,
			protos:    protos,
			cache:     map[int][]float32{},
		},
	}

	kept := nn.NonMaxSuppression(candidates, e.params.NmsIouThreshold, e.params.MaxBoxesPerClass)
	if len(kept) != 0 {
		nms := make([]int32, 0, len(kept)*3)
		for _, k := range kept {
			nms = append(nms, 0, int32(k.Class), int32(k.Index))
		}
		raw.NMS = tensor.New(tensor.WithShape(len(kept), 3), tensor.WithBacking(nms))
	}
	return raw, nil
}

// protoMasks evaluates coefficients x prototypes on demand, because only the
// few candidates that survive NMS are ever looked at.
type protoMasks struct {
	n         int
	channels  int
	rows      int
	cols      int
	head      []float32 // output0, holding the coefficients from row coeffRow0 onwards
	coeffRow0 int
	protos    []float32 // [channels, rows*cols]
	cache     map[int][]float32
}

func (m *protoMasks) Shape() tensor.Shape {
	return tensor.Shape{m.n, m.rows, m.cols}
}

func (m *protoMasks) Channel(candidate int) ([]float32, error) {
	if candidate < 0 || candidate >= m.n {
		return nil, fmt.Errorf("Mask candidate %v out of range [0,%v)", candidate, m.n)
	}
	if ch, ok := m.cache[candidate]; ok {
		return ch, nil
	}
	coeffs := make([]float32, m.channels)
	for j := range coeffs {
		coeffs[j] = m.head[(m.coeffRow0+j)*m.n+candidate]
	}
	size := m.rows * m.cols
	out := make([]float32, size)
	protos := blas32.General{Rows: m.channels, Cols: size, Stride: size, Data: m.protos}
	blas32.Gemv(blas.Trans, 1, protos, blas32.Vector{N: m.channels, Inc: 1, Data: coeffs}, 0, blas32.Vector{N: size, Inc: 1, Data: out})
	m.cache[candidate] = out
	return out, nil
}
