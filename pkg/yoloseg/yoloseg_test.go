package yoloseg

import (
	"path/filepath"
	"testing"

	"github.com/cyclopcam/veil/pkg/nn"
	"github.com/cyclopcam/veil/pkg/segment"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

const (
	testBoxes    = 6
	testProto    = 4
	testChannels = 2
)

func testModel() *nn.ModelConfig {
	return &nn.ModelConfig{
		Architecture:  "yolov8-seg",
		Width:         64,
		Height:        64,
		Classes:       []string{"person", "bicycle", "car"},
		TotalBoxes:    testBoxes,
		MaskChannels:  testChannels,
		MaskProtoSize: testProto,
		MaskOrigin:    nn.MaskOriginTopLeft,
	}
}

// Build a head where candidate 0 and 1 overlap (same class), candidate 2 is
// on its own, and the rest are below the score threshold.
func testHeads() (*tensor.Dense, *tensor.Dense) {
	nc := 3
	rows := 4 + nc + testChannels
	head := make([]float32, rows*testBoxes)
	set := func(row, cand int, v float32) {
		head[row*testBoxes+cand] = v
	}
	type cand struct {
		box    [4]float32
		class  int
		score  float32
		coeffs [testChannels]float32
	}
	cands := []cand{
		{[4]float32{20, 20, 10, 10}, 0, 0.9, [2]float32{5, 0}},
		{[4]float32{21, 20, 10, 10}, 0, 0.8, [2]float32{5, 0}},
		{[4]float32{50, 50, 8, 8}, 2, 0.6, [2]float32{0, -3}},
		{[4]float32{10, 40, 4, 4}, 1, 0.1, [2]float32{1, 1}},
		{[4]float32{30, 40, 4, 4}, 0, 0.1, [2]float32{1, 1}},
		{[4]float32{40, 40, 4, 4}, 2, 0.1, [2]float32{1, 1}},
	}
	for i, c := range cands {
		for k := 0; k < 4; k++ {
			set(k, i, c.box[k])
		}
		set(4+c.class, i, c.score)
		for j := 0; j < testChannels; j++ {
			set(4+nc+j, i, c.coeffs[j])
		}
	}

	size := testProto * testProto
	protos := make([]float32, testChannels*size)
	for i := 0; i < size; i++ {
		// Channel 0 is +1 on the first row and -1 elsewhere. Channel 1 is all ones.
		if i < testProto {
			protos[i] = 1
		} else {
			protos[i] = -1
		}
		protos[size+i] = 1
	}
	out0 := tensor.New(tensor.WithShape(1, rows, testBoxes), tensor.WithBacking(head))
	out1 := tensor.New(tensor.WithShape(1, testChannels, testProto, testProto), tensor.WithBacking(protos))
	return out0, out1
}

func TestSegment(t *testing.T) {
	out0, out1 := testHeads()
	engine := NewEngine(&ReplayBackend{Output0: out0, Output1: out1}, testModel(), nn.NewDetectionParams())
	defer engine.Close()

	raw, err := engine.Segment(nil)
	require.NoError(t, err)
	require.NotNil(t, raw.NMS)
	require.Equal(t, tensor.Shape{2, 3}, raw.NMS.Shape())
	require.Equal(t, []int32{0, 0, 0, 0, 2, 2}, raw.NMS.Data().([]int32))

	boxes := raw.BoxCoordsAll.Data().([]float32)
	require.Equal(t, []float32{50, 50, 8, 8}, boxes[2*4:3*4])
	require.Equal(t, []int32{0, 0, 2, 1, 0, 2}, raw.ClassIDs.Data().([]int32))
	require.Equal(t, tensor.Shape{testBoxes, testProto, testProto}, raw.Masks.Shape())

	m0, err := raw.Masks.Channel(0)
	require.NoError(t, err)
	for i, v := range m0 {
		if i < testProto {
			require.InDelta(t, 5, v, 1e-6)
		} else {
			require.InDelta(t, -5, v, 1e-6)
		}
	}
	m2, err := raw.Masks.Channel(2)
	require.NoError(t, err)
	for _, v := range m2 {
		require.InDelta(t, -3, v, 1e-6)
	}
	_, err = raw.Masks.Channel(testBoxes)
	require.Error(t, err)

	dets, err := segment.Decode(raw)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	require.Equal(t, 0, dets[0].Class)
	require.InDelta(t, 0.9, dets[0].Score, 1e-6)
	require.Equal(t, nn.Box{X1: 15, Y1: 15, X2: 25, Y2: 25}, dets[0].Box)
	require.Equal(t, 2, dets[1].Class)
}

func TestSegmentNothingDetected(t *testing.T) {
	out0, out1 := testHeads()
	params := nn.NewDetectionParams()
	params.ScoreThreshold = 0.95
	engine := NewEngine(&ReplayBackend{Output0: out0, Output1: out1}, testModel(), params)
	raw, err := engine.Segment(nil)
	require.NoError(t, err)
	require.Nil(t, raw.NMS)
	dets, err := segment.Decode(raw)
	require.NoError(t, err)
	require.Len(t, dets, 0)
}

func TestSegmentWrongShape(t *testing.T) {
	out0, out1 := testHeads()
	model := testModel()
	model.Classes = append(model.Classes, "extra")
	engine := NewEngine(&ReplayBackend{Output0: out0, Output1: out1}, model, nn.NewDetectionParams())
	_, err := engine.Segment(nil)
	require.Error(t, err)
}

func TestReplayFromNpy(t *testing.T) {
	out0, out1 := testHeads()
	dir := t.TempDir()
	f0 := filepath.Join(dir, "output0.npy")
	f1 := filepath.Join(dir, "output1.npy")
	require.NoError(t, nn.SaveTensor(f0, out0))
	require.NoError(t, nn.SaveTensor(f1, out1))

	backend, err := LoadReplayBackend(f0, f1)
	require.NoError(t, err)
	require.Equal(t, out0.Shape(), backend.Output0.Shape())
	require.Equal(t, out1.Data(), backend.Output1.Data())

	engine := NewEngine(backend, testModel(), nn.NewDetectionParams())
	raw, err := engine.Segment(nil)
	require.NoError(t, err)
	require.Equal(t, []int32{0, 0, 0, 0, 2, 2}, raw.NMS.Data().([]int32))

	_, err = LoadReplayBackend(filepath.Join(dir, "missing.npy"), f1)
	require.Error(t, err)
}
