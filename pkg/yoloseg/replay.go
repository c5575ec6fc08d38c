package yoloseg

import (
	"github.com/cyclopcam/veil/pkg/nn"
	"gorgonia.org/tensor"
)

// ReplayBackend returns the same recorded network output for every input.
// Recordings are .npy files, as written by numpy.save on the outputs of
// an ultralytics model.
type ReplayBackend struct {
	Output0 *tensor.Dense
	Output1 *tensor.Dense
}

func LoadReplayBackend(output0File, output1File string) (*ReplayBackend, error) {
	out0, err := nn.LoadTensor(output0File)
	if err != nil {
		return nil, err
	}
	out1, err := nn.LoadTensor(output1File)
	if err != nil {
		return nil, err
	}
	return &ReplayBackend{Output0: out0, Output1: out1}, nil
}

func (r *ReplayBackend) Run(input *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	return r.Output0, r.Output1, nil
}

func (r *ReplayBackend) Close() {
}
