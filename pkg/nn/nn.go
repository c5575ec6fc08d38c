package nn

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gorgonia.org/tensor"
)

// Package nn is the Neural Network interface layer.
// It defines the contract between an instance segmentation engine and the
// CPU-side code that consumes its output.

const DefaultScoreThreshold = 0.35
const DefaultNmsIouThreshold = 0.5
const DefaultMaskThreshold = 0.5
const DefaultMaxBoxesPerClass = 64

// Fixed dimensions of a YOLOv8-seg style model
const (
	DefaultInputSize     = 640
	DefaultTotalBoxes    = 8400
	DefaultMaskChannels  = 32
	DefaultMaskProtoSize = 160
)

// NN segmentation parameters
type DetectionParams struct {
	ScoreThreshold   float32 // Value between 0 and 1. Lower values will find more objects.
	NmsIouThreshold  float32 // Value between 0 and 1. Boxes of the same class that overlap by more than this are suppressed.
	MaskThreshold    float32 // Sigmoid output at or above this value is considered part of the object
	MaxBoxesPerClass int     // Upper bound on the number of boxes that NMS keeps for a single class
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ScoreThreshold:   DefaultScoreThreshold,
		NmsIouThreshold:  DefaultNmsIouThreshold,
		MaskThreshold:    DefaultMaskThreshold,
		MaxBoxesPerClass: DefaultMaxBoxesPerClass,
	}
}

// Replace zero values with defaults
func (p *DetectionParams) FillDefaults() {
	if p.ScoreThreshold == 0 {
		p.ScoreThreshold = DefaultScoreThreshold
	}
	if p.NmsIouThreshold == 0 {
		p.NmsIouThreshold = DefaultNmsIouThreshold
	}
	if p.MaskThreshold == 0 {
		p.MaskThreshold = DefaultMaskThreshold
	}
	if p.MaxBoxesPerClass == 0 {
		p.MaxBoxesPerClass = DefaultMaxBoxesPerClass
	}
}

// MaskOrigin is the corner of the mask prototype grid that holds row zero.
// This is a property of how a model was exported, so it lives in ModelConfig
// and is never chosen by the caller of the pipeline.
type MaskOrigin string

const (
	MaskOriginTopLeft    MaskOrigin = "top-left"
	MaskOriginBottomLeft MaskOrigin = "bottom-left"
)

// Normalization is the numeric range of the input tensor that a model expects
type Normalization string

const (
	NormalizeUnit     Normalization = "unit"     // pixel / 255
	NormalizeImageNet Normalization = "imagenet" // (pixel / 255 - mean) / std, per channel
)

// SegmentationEngine is given a normalized input tensor, and returns the raw
// output tensors of an instance segmentation model.
type SegmentationEngine interface {
	// Close releases the engine. Call this when finished.
	Close()

	// Segment runs the network on a [1,3,H,W] float32 tensor.
	// The returned tensors may alias engine-owned buffers, which are only
	// valid until the next call to Segment.
	Segment(input *tensor.Dense) (*RawOutput, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the engine has been created.
	Config() *ModelConfig
}

// ModelConfig is saved in a JSON file along with the weights of the NN model
type ModelConfig struct {
	Architecture  string        `json:"architecture"`  // eg "yolov8-seg"
	Width         int           `json:"width"`         // eg 640
	Height        int           `json:"height"`        // eg 640
	Classes       []string      `json:"classes"`       // eg ["person", "bicycle", "car", ...]
	TotalBoxes    int           `json:"totalBoxes"`    // eg 8400
	MaskChannels  int           `json:"maskChannels"`  // eg 32
	MaskProtoSize int           `json:"maskProtoSize"` // eg 160
	MaskOrigin    MaskOrigin    `json:"maskOrigin"`    // eg "top-left"
	Normalization Normalization `json:"normalization"` // eg "unit"
}

// Create the config of a standard 640x640 YOLOv8-seg model trained on COCO
func NewYOLOv8SegConfig() *ModelConfig {
	return &ModelConfig{
		Architecture:  "yolov8-seg",
		Width:         DefaultInputSize,
		Height:        DefaultInputSize,
		Classes:       append([]string(nil), COCOClasses...),
		TotalBoxes:    DefaultTotalBoxes,
		MaskChannels:  DefaultMaskChannels,
		MaskProtoSize: DefaultMaskProtoSize,
		MaskOrigin:    MaskOriginTopLeft,
		Normalization: NormalizeUnit,
	}
}

// InvertY returns true if mask rows must be flipped to match a top-left image
func (c *ModelConfig) InvertY() bool {
	return c.MaskOrigin == MaskOriginBottomLeft
}

func (c *ModelConfig) fillDefaults() {
	def := NewYOLOv8SegConfig()
	if c.Width == 0 {
		c.Width = def.Width
	}
	if c.Height == 0 {
		c.Height = def.Height
	}
	if len(c.Classes) == 0 {
		c.Classes = def.Classes
	}
	if c.TotalBoxes == 0 {
		c.TotalBoxes = def.TotalBoxes
	}
	if c.MaskChannels == 0 {
		c.MaskChannels = def.MaskChannels
	}
	if c.MaskProtoSize == 0 {
		c.MaskProtoSize = def.MaskProtoSize
	}
	if c.MaskOrigin == "" {
		c.MaskOrigin = def.MaskOrigin
	}
	if c.Normalization == "" {
		c.Normalization = def.Normalization
	}
}

// Load model config from a JSON file.
// Fields that are absent are filled in from the standard YOLOv8-seg config.
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, fmt.Errorf("Error parsing model config %v: %w", filename, err)
	}
	config.fillDefaults()
	switch config.MaskOrigin {
	case MaskOriginTopLeft, MaskOriginBottomLeft:
	default:
		return nil, fmt.Errorf("Invalid maskOrigin '%v' in %v", config.MaskOrigin, filename)
	}
	switch config.Normalization {
	case NormalizeUnit, NormalizeImageNet:
	default:
		return nil, fmt.Errorf("Invalid normalization '%v' in %v", config.Normalization, filename)
	}
	return config, nil
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, scanner.Err()
}
