// Package pipeline runs detection, mask reconstruction and obfuscation on a
// stream of frames, reusing detections between frames where it can.
package pipeline

import (
	"errors"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/veil/pkg/annotate"
	"github.com/cyclopcam/veil/pkg/coherence"
	"github.com/cyclopcam/veil/pkg/config"
	"github.com/cyclopcam/veil/pkg/frame"
	"github.com/cyclopcam/veil/pkg/nn"
	"github.com/cyclopcam/veil/pkg/obfuscate"
	"github.com/cyclopcam/veil/pkg/perfstats"
	"github.com/cyclopcam/veil/pkg/segment"
)

// Number of frame times that we keep for latency percentiles
const latencyHistorySize = 256

var overlayColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// Stats are counters since the Obfuscator was created
type Stats struct {
	Frames          int64         `json:"frames"`
	DetectionFrames int64         `json:"detectionFrames"` // Frames on which the model ran
	Reuses          int64         `json:"reuses"`          // Frames obfuscated with cached masks
	Reconstructions int64         `json:"reconstructions"` // Frames on which masks were rebuilt
	Failures        int64         `json:"failures"`        // Frames on which detection failed
	AverageLatency  time.Duration `json:"averageLatency"`
	P95Latency      time.Duration `json:"p95Latency"`
}

// Obfuscator hides the objects in a frame according to a per-class policy.
// Frames must be given to Process in temporal order, from one goroutine at a time.
// Stats may be called concurrently.
type Obfuscator struct {
	Log logs.Log

	engine        nn.SegmentationEngine
	classes       []string
	policy        obfuscate.Policy
	failurePolicy config.FailurePolicy
	maskColor     color.RGBA
	drawBoxes     bool
	ingestor      *frame.Ingestor
	reconstructor *segment.Reconstructor
	obfuscator    *obfuscate.Engine
	cache         *coherence.Cache

	statsLock  sync.Mutex
	stats      Stats
	latencyAvg perfstats.TimeAccumulator
	latency    *perfstats.LatencyHistory
}

// NewObfuscator creates a pipeline around engine.
// If policy is nil, it is built from cfg.Policy. Classes without an entry
// are left alone.
func NewObfuscator(log logs.Log, engine nn.SegmentationEngine, cfg *config.Config, policy obfuscate.Policy) (*Obfuscator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	model := engine.Config()
	if policy == nil {
		var err error
		if policy, err = cfg.BuildPolicy(model.Classes); err != nil {
			return nil, err
		}
	} else if err := policy.Validate(len(model.Classes)); err != nil {
		return nil, err
	}
	policy = policy.Clone()
	policy.Fill(len(model.Classes))

	maskColor, err := cfg.MaskRGBA()
	if err != nil {
		return nil, err
	}

	reconstructor := segment.NewReconstructor(model, cfg.MaskThreshold)
	reconstructor.Workers = cfg.Workers

	obf := obfuscate.NewEngine()
	obf.MaskColor = maskColor
	obf.PixelSize = cfg.PixelSize
	obf.BlurRadius = cfg.BlurRadius
	obf.Workers = cfg.Workers

	o := &Obfuscator{
		Log:           log,
		engine:        engine,
		classes:       model.Classes,
		policy:        policy,
		failurePolicy: cfg.FailurePolicy,
		maskColor:     maskColor,
		drawBoxes:     cfg.DrawBoxes,
		ingestor:      frame.NewIngestorForModel(model),
		reconstructor: reconstructor,
		obfuscator:    obf,
		cache:         coherence.New(cfg.DetectionInterval, cfg.SimilarityThreshold, model.Width, model.Height),
		latency:       perfstats.NewLatencyHistory(latencyHistorySize),
	}
	log.Infof("Obfuscator ready: %v model %vx%v, %v classes, detection interval %v, failure policy '%v'",
		model.Architecture, model.Width, model.Height, len(model.Classes), o.cache.Interval, o.failurePolicy)
	return o, nil
}

// SetPolicy replaces the per-class policy. It takes effect on the next frame,
// including frames that reuse cached masks.
func (o *Obfuscator) SetPolicy(policy obfuscate.Policy) error {
	if err := policy.Validate(len(o.classes)); err != nil {
		return err
	}
	p := policy.Clone()
	p.Fill(len(o.classes))
	o.policy = p
	return nil
}

// Classes returns the class names of the model
func (o *Obfuscator) Classes() []string {
	return o.classes
}

// CacheState is exposed for diagnostics
func (o *Obfuscator) CacheState() coherence.State {
	return o.cache.State()
}

func (o *Obfuscator) Stats() Stats {
	o.statsLock.Lock()
	defer o.statsLock.Unlock()
	s := o.stats
	s.AverageLatency = o.latencyAvg.Average()
	s.P95Latency = o.latency.Percentile(0.95)
	return s
}

// Process returns an obfuscated copy of img. img is never modified.
func (o *Obfuscator) Process(img *cimg.Image) (result *cimg.Image) {
	start := time.Now()
	o.count(func(s *Stats) { s.Frames++ })

	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(obfuscate.InvalidTypeError); ok {
				panic(r)
			}
			result = o.failed(img, fmt.Errorf("panic: %v", r))
		}
		elapsed := time.Since(start)
		o.statsLock.Lock()
		o.latencyAvg.AddSample(elapsed)
		o.latency.Add(elapsed)
		o.statsLock.Unlock()
	}()

	out := frame.Copy(img)

	if !o.cache.Advance() {
		set := o.cache.Set()
		if set == nil {
			return out
		}
		if len(set.Objects) != 0 && !set.Objects[0].Mask.SameSize(out.Width, out.Height) {
			// The stream changed resolution, so the cached masks are useless
			o.Log.Warnf("Frame size changed to %vx%v. Dropping cached detections", out.Width, out.Height)
			o.cache.Invalidate()
			return out
		}
		o.apply(out, set)
		o.count(func(s *Stats) { s.Reuses++ })
		return o.finish(out, set)
	}

	o.count(func(s *Stats) { s.DetectionFrames++ })
	dets, err := o.detect(img)
	if err != nil {
		return o.failed(img, err)
	}
	if len(dets) == 0 {
		o.cache.Invalidate()
		return out
	}

	fresh := make([]nn.CenterBox, len(dets))
	for i := range dets {
		fresh[i] = dets[i].Center
	}
	if o.cache.Similar(fresh) {
		set := o.cache.Set()
		if len(set.Objects) != 0 && set.Objects[0].Mask.SameSize(out.Width, out.Height) {
			o.apply(out, set)
			o.count(func(s *Stats) { s.Reuses++ })
			return o.finish(out, set)
		}
	}

	set := o.reconstruct(dets, out.Width, out.Height)
	o.apply(out, set)
	o.cache.Store(set)
	o.count(func(s *Stats) { s.Reconstructions++ })
	return o.finish(out, set)
}

func (o *Obfuscator) detect(img *cimg.Image) ([]segment.Detection, error) {
	input, err := o.ingestor.ToInputTensor(img)
	if err != nil {
		return nil, err
	}
	raw, err := o.engine.Segment(input)
	if err != nil {
		return nil, fmt.Errorf("Inference failed: %w", err)
	}
	return segment.Decode(raw)
}

func (o *Obfuscator) reconstruct(dets []segment.Detection, width, height int) *coherence.DetectionSet {
	set := &coherence.DetectionSet{Objects: make([]coherence.Object, len(dets))}
	for i := range dets {
		set.Objects[i] = coherence.Object{
			Class:  dets[i].Class,
			Center: dets[i].Center,
			Box:    o.reconstructor.TargetBox(dets[i].Box, width, height),
			Mask:   o.reconstructor.Reconstruct(&dets[i], width, height),
		}
	}
	return set
}

func (o *Obfuscator) apply(out *cimg.Image, set *coherence.DetectionSet) {
	for _, obj := range set.Objects {
		o.obfuscator.Apply(o.policy.Lookup(obj.Class), out, obj.Mask)
	}
}

func (o *Obfuscator) finish(out *cimg.Image, set *coherence.DetectionSet) *cimg.Image {
	if !o.drawBoxes || set == nil {
		return out
	}
	labels := make([]annotate.Label, 0, len(set.Objects))
	for _, obj := range set.Objects {
		name := fmt.Sprintf("%v", obj.Class)
		if obj.Class >= 0 && obj.Class < len(o.classes) {
			name = o.classes[obj.Class]
		}
		labels = append(labels, annotate.Label{Box: obj.Box, Text: name})
	}
	if err := annotate.DrawBoxes(out, labels, overlayColor); err != nil {
		o.Log.Warnf("Failed to draw boxes: %v", err)
	}
	return out
}

// failed produces the output frame for a frame on which detection broke
func (o *Obfuscator) failed(img *cimg.Image, err error) *cimg.Image {
	o.cache.Invalidate()
	o.count(func(s *Stats) { s.Failures++ })
	if errors.Is(err, segment.ErrMalformed) {
		o.Log.Warnf("Frame %v: %v", o.cache.FrameCounter(), err)
	} else {
		o.Log.Errorf("Frame %v: %v", o.cache.FrameCounter(), err)
	}
	out := frame.Copy(img)
	if o.failurePolicy == config.FailClosed {
		frame.Fill(out, o.maskColor)
	}
	return out
}

func (o *Obfuscator) count(fn func(s *Stats)) {
	o.statsLock.Lock()
	fn(&o.stats)
	o.statsLock.Unlock()
}
