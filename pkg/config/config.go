package config

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"strconv"

	"github.com/cyclopcam/veil/pkg/coherence"
	"github.com/cyclopcam/veil/pkg/nn"
	"github.com/cyclopcam/veil/pkg/obfuscate"
	"github.com/lucasb-eyer/go-colorful"
)

const DefaultFilename = "veil.json"

// FailurePolicy decides what a frame looks like when detection breaks
type FailurePolicy string

const (
	FailOpen   FailurePolicy = "open"   // Show the frame without obfuscation
	FailClosed FailurePolicy = "closed" // Show a frame filled with the mask color
)

type Config struct {
	ScoreThreshold      float32                   `json:"scoreThreshold"`      // Minimum class probability for a candidate box
	IoUThreshold        float32                   `json:"iouThreshold"`        // NMS suppresses same-class boxes that overlap more than this
	MaskThreshold       float32                   `json:"maskThreshold"`       // Sigmoid output at or above this is part of the object
	MaxBoxesPerClass    int                       `json:"maxBoxesPerClass"`    // NMS keeps at most this many boxes per class
	DetectionInterval   int                       `json:"detectionInterval"`   // Run the model on every Nth frame
	SimilarityThreshold float32                   `json:"similarityThreshold"` // Squared normalized box movement before masks are rebuilt. Negative to always rebuild.
	PixelSize           int                       `json:"pixelSize"`           // Block size for pixelation
	BlurRadius          int                       `json:"blurRadius"`          // Window half-width for blurring
	MaskColor           string                    `json:"maskColor"`           // eg "#ff0000"
	FailurePolicy       FailurePolicy             `json:"failurePolicy"`       // "open" or "closed"
	Workers             int                       `json:"workers"`             // Goroutines for per-pixel work. 0 or 1 for none.
	DrawBoxes           bool                      `json:"drawBoxes"`           // Draw boxes and class names over the output (debugging)
	Policy              map[string]obfuscate.Type `json:"policy"`              // Class name (or numeric ID) to obfuscation type
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		ScoreThreshold:      nn.DefaultScoreThreshold,
		IoUThreshold:        nn.DefaultNmsIouThreshold,
		MaskThreshold:       nn.DefaultMaskThreshold,
		MaxBoxesPerClass:    nn.DefaultMaxBoxesPerClass,
		DetectionInterval:   coherence.DefaultInterval,
		SimilarityThreshold: coherence.DefaultThreshold,
		PixelSize:           obfuscate.DefaultPixelSize,
		BlurRadius:          obfuscate.DefaultBlurRadius,
		MaskColor:           "#ff0000",
		FailurePolicy:       FailOpen,
		Policy: map[string]obfuscate.Type{
			"person":     obfuscate.Masking,
			"bicycle":    obfuscate.Masking,
			"pizza":      obfuscate.Pixelation,
			"cell phone": obfuscate.Masking,
		},
	}
}

// Load config from a JSON file. Absent fields take their default values.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = DefaultFilename
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := Default()
	cfg.Policy = nil
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	if cfg.Policy == nil {
		cfg.Policy = Default().Policy
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config %v: %w", filename, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DetectionInterval < 1 {
		return fmt.Errorf("detectionInterval must be at least 1")
	}
	if c.PixelSize < 1 {
		return fmt.Errorf("pixelSize must be at least 1")
	}
	if c.BlurRadius < 0 {
		return fmt.Errorf("blurRadius may not be negative")
	}
	if c.MaskThreshold <= 0 || c.MaskThreshold >= 1 {
		return fmt.Errorf("maskThreshold must be between 0 and 1")
	}
	switch c.FailurePolicy {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("failurePolicy must be 'open' or 'closed', not '%v'", c.FailurePolicy)
	}
	if _, err := c.MaskRGBA(); err != nil {
		return err
	}
	return nil
}

// MaskRGBA parses MaskColor, which is a hex color like "#ff0000"
func (c *Config) MaskRGBA() (color.RGBA, error) {
	col, err := colorful.Hex(c.MaskColor)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("Invalid maskColor '%v': %w", c.MaskColor, err)
	}
	r, g, b := col.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// DetectionParams returns the NMS and mask parameters
func (c *Config) DetectionParams() *nn.DetectionParams {
	p := &nn.DetectionParams{
		ScoreThreshold:   c.ScoreThreshold,
		NmsIouThreshold:  c.IoUThreshold,
		MaskThreshold:    c.MaskThreshold,
		MaxBoxesPerClass: c.MaxBoxesPerClass,
	}
	p.FillDefaults()
	return p
}

// BuildPolicy resolves the class names in Policy against the model's classes
func (c *Config) BuildPolicy(classes []string) (obfuscate.Policy, error) {
	return ResolvePolicy(classes, c.Policy)
}

// ResolvePolicy turns a policy keyed by class name into one keyed by class ID.
// Keys may also be numeric class IDs.
func ResolvePolicy(classes []string, byName map[string]obfuscate.Type) (obfuscate.Policy, error) {
	p := obfuscate.Policy{}
	for key, t := range byName {
		id := nn.ClassIndex(classes, key)
		if id == -1 {
			n, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("Unknown class '%v' in policy", key)
			}
			id = n
		}
		p[id] = t
	}
	if err := p.Validate(len(classes)); err != nil {
		return nil, err
	}
	return p, nil
}
