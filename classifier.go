package objdetect

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/esimov/objdetect/accel"
	"github.com/esimov/objdetect/feature"
	"github.com/esimov/objdetect/logger"
	"github.com/esimov/objdetect/model"
)

// Mode selects the extra output of a detection.
type Mode int

const (
	// ModeDefault returns the grouped rectangles only.
	ModeDefault Mode = iota
	// ModeNeighbors also returns the number of raw hits merged into each rectangle.
	ModeNeighbors
	// ModeLevels keeps the windows rejected after the first stage and returns,
	// per rectangle, the number of stages passed and the sum of the last evaluated stage.
	// Without grouping (MinNeighbors <= 0) every level is reported as 1.
	ModeLevels
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeNeighbors:
		return "neighbors"
	case ModeLevels:
		return "levels"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Detections is the result of a multi-scale detection.
// Neighbors is set in ModeNeighbors, Levels and Weights in ModeLevels;
// each is parallel to Rects.
type Detections struct {
	Rects     []image.Rectangle
	Neighbors []int
	Levels    []int
	Weights   []float64
}

// Len returns the number of detections.
func (d Detections) Len() int { return len(d.Rects) }

// MaskGenerator restricts the windows scanned in an image.
// InitializeMask is called once per detection with the source image, then
// GenerateMask once per scale with the downscaled grayscale image. Grid points
// falling on a zero pixel of the returned mask are not evaluated; a nil mask
// lets every point through. Concurrent detections on the same classifier share
// the generator.
type MaskGenerator interface {
	InitializeMask(img image.Image)
	GenerateMask(scaled *image.Gray) *image.Gray
}

// Classifier detects the objects a boosted cascade was trained for.
// It is safe for concurrent use; the cascade is shared by every detection
// and the per-scale buffers are owned by the call.
type Classifier struct {
	m      *model.Model
	legacy LegacyDetector

	mu      sync.RWMutex
	maskGen MaskGenerator
	device  accel.Device
	program accel.Program
	// deviceDisabled is set once, on the first device failure.
	deviceDisabled atomic.Bool
}

// Load reads the cascade file found at path. Files in a format the model
// package does not handle are offered to the registered legacy loaders.
func Load(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read the cascade file: %w", err)
	}
	return load(path, data)
}

// LoadBytes is like Load for a cascade held in memory.
func LoadBytes(data []byte) (*Classifier, error) {
	return load("", data)
}

func load(path string, data []byte) (*Classifier, error) {
	d, err := model.Parse(data)
	if err == nil {
		m, err := model.Build(d)
		if err != nil {
			return nil, err
		}
		return NewClassifier(m), nil
	}
	if !errors.Is(err, model.ErrLegacyFormat) && !errors.Is(err, model.ErrUnknownFormat) {
		return nil, err
	}

	ld, lerr := openLegacy(path, data)
	if lerr != nil {
		if errors.Is(lerr, ErrLegacyUnsupported) {
			return nil, fmt.Errorf("%w: %w", err, lerr)
		}
		return nil, lerr
	}
	logger.L().Debug("legacy cascade loaded", zap.String("path", path),
		zap.Stringer("window", ld.OriginalWindowSize()))
	return &Classifier{legacy: ld}, nil
}

// NewClassifier returns a classifier over an already built cascade.
// The device registered with the accel package, if any, is attached to it.
func NewClassifier(m *model.Model) *Classifier {
	c := &Classifier{m: m}
	if d := accel.Current(); d != nil && m != nil {
		if err := c.SetDevice(d); err != nil {
			logger.L().Debug("cascade stays on the CPU", zap.String("device", d.Name()), zap.Error(err))
		}
	}
	return c
}

// Empty reports whether the classifier holds no cascade.
// Detections on an empty classifier find nothing.
func (c *Classifier) Empty() bool {
	return c == nil || (c.m == nil && c.legacy == nil)
}

// IsOldFormat reports whether the cascade is run by a legacy detector.
func (c *Classifier) IsOldFormat() bool {
	return c != nil && c.legacy != nil
}

// FeatureType returns the feature type of the cascade, or feature.Unknown for
// legacy and empty classifiers.
func (c *Classifier) FeatureType() feature.Type {
	if c == nil || c.m == nil {
		return feature.Unknown
	}
	return c.m.FeatureType
}

// OriginalWindowSize returns the window size the cascade was trained at.
func (c *Classifier) OriginalWindowSize() image.Point {
	switch {
	case c == nil:
		return image.Point{}
	case c.m != nil:
		return c.m.Window
	case c.legacy != nil:
		return c.legacy.OriginalWindowSize()
	}
	return image.Point{}
}

// Model returns the cascade, nil for legacy and empty classifiers.
func (c *Classifier) Model() *model.Model {
	if c == nil {
		return nil
	}
	return c.m
}

// SetMaskGenerator installs the mask generator; nil removes it.
// Detections with a mask generator run on the CPU.
func (c *Classifier) SetMaskGenerator(g MaskGenerator) {
	c.mu.Lock()
	c.maskGen = g
	c.mu.Unlock()
}

// SetDevice uploads the cascade to d and uses it for the detections that can be
// offloaded. A nil device detaches the current one. It returns
// accel.ErrFallbackToCPU for cascades the device cannot run.
func (c *Classifier) SetDevice(d accel.Device) error {
	var prog accel.Program
	if d != nil {
		if c.m == nil {
			return fmt.Errorf("%w: no cascade to upload", accel.ErrFallbackToCPU)
		}
		op, ok := accel.OpFor(c.m)
		if !ok || !d.CanAccelerate(op) {
			return fmt.Errorf("%w: %s cascade is not supported by the %s device",
				accel.ErrFallbackToCPU, c.m.FeatureType, d.Name())
		}
		var err error
		if prog, err = d.Upload(c.m); err != nil {
			return err
		}
	}

	c.mu.Lock()
	old := c.program
	c.device, c.program = d, prog
	c.deviceDisabled.Store(false)
	c.mu.Unlock()

	if old != nil {
		old.Release()
	}
	return nil
}

// DeviceEnabled reports whether detections are offloaded to a device.
func (c *Classifier) DeviceEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.program != nil && !c.deviceDisabled.Load()
}

// Close releases the device copy of the cascade and the legacy detector.
func (c *Classifier) Close() error {
	c.mu.Lock()
	prog := c.program
	c.device, c.program = nil, nil
	c.mu.Unlock()

	if prog != nil {
		prog.Release()
	}
	if c.legacy != nil {
		return c.legacy.Close()
	}
	return nil
}

// DetectMultiScale returns the objects found in img.
func (c *Classifier) DetectMultiScale(img image.Image, opts Options) ([]image.Rectangle, error) {
	d, err := c.Detect(img, opts, ModeDefault)
	return d.Rects, err
}

// DetectMultiScaleNumDetections returns the objects found in img together with
// the number of raw hits merged into each of them.
func (c *Classifier) DetectMultiScaleNumDetections(img image.Image, opts Options) ([]image.Rectangle, []int, error) {
	d, err := c.Detect(img, opts, ModeNeighbors)
	return d.Rects, d.Neighbors, err
}

// DetectMultiScaleLevels returns the objects found in img together with their
// reject levels and level weights, see ModeLevels.
func (c *Classifier) DetectMultiScaleLevels(img image.Image, opts Options) ([]image.Rectangle, []int, []float64, error) {
	d, err := c.Detect(img, opts, ModeLevels)
	return d.Rects, d.Levels, d.Weights, err
}

// Detect runs the cascade over every scale of img and groups the raw hits.
// Only invalid options are reported as errors: an empty classifier or an image
// smaller than the cascade window give an empty result.
func (c *Classifier) Detect(img image.Image, opts Options, mode Mode) (Detections, error) {
	if err := opts.Validate(); err != nil {
		return Detections{}, err
	}
	if mode < ModeDefault || mode > ModeLevels {
		return Detections{}, fmt.Errorf("%w: unknown mode %v", ErrInvalidOptions, mode)
	}
	if c.Empty() || img == nil {
		return Detections{}, nil
	}
	if c.legacy != nil {
		return c.legacy.Detect(img, opts, mode)
	}

	rects, levels, weights := c.detectNoGrouping(img, opts, mode == ModeLevels)
	return GroupDetections(rects, levels, weights, opts, mode), nil
}

// detectNoGrouping collects the raw hits of every scale.
func (c *Classifier) detectNoGrouping(img image.Image, opts Options, outputLevels bool) ([]image.Rectangle, []int, []float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := time.Now()
	filter, _ := resampleFilter(opts.Resample)
	gray := ToGray(img)
	imgSize := gray.Bounds().Size()

	maskGen := c.maskGen
	if maskGen != nil {
		maskGen.InitializeMask(img)
	}
	prog := c.program
	if outputLevels || maskGen != nil {
		prog = nil
	}

	var (
		rects   []image.Rectangle
		levels  []int
		weights []float64
		results *accel.Results
	)
	ev := c.m.NewEvaluator()
	sc := &scanner{m: c.m, workers: opts.Workers, levels: outputLevels}
	rs := &resizer{filter: filter}
	bufSize := bufferSize(imgSize)

	for _, sp := range scales(imgSize, c.m.Window, opts.MinSize.Pt(), opts.MaxSize.Pt(), c.m.FeatureType, opts.ScaleFactor) {
		scaled := rs.resize(gray, sp.scaled)
		if !ev.SetImage(scaled, c.m.Window, bufSize) {
			break
		}

		if prog != nil && !c.deviceDisabled.Load() {
			if results == nil {
				results = accel.NewResults()
			}
			pts, err := c.runDevice(prog, ev, sp, results)
			if err == nil {
				for _, pt := range pts {
					rects = append(rects, sp.toSource(pt))
				}
				logger.L().Debug("scale done", zap.Float64("factor", sp.factor),
					zap.Stringer("window", sp.window), zap.Int("hits", len(pts)),
					zap.String("device", c.device.Name()))
				continue
			}
			// nothing from the failed attempt is kept, the scale is redone on the CPU
			c.deviceDisabled.Store(true)
			logger.L().Warn("device failed, falling back to CPU",
				zap.String("device", c.device.Name()), zap.Float64("factor", sp.factor), zap.Error(err))
		}

		var mask *image.Gray
		if maskGen != nil {
			mask = maskGen.GenerateMask(scaled)
		}
		hits := sc.scan(ev, sp, mask)
		for _, h := range hits {
			rects = append(rects, sp.toSource(h.pt))
			if outputLevels {
				levels = append(levels, h.level)
				weights = append(weights, h.weight)
			}
		}
		logger.L().Debug("scale done", zap.Float64("factor", sp.factor),
			zap.Stringer("window", sp.window), zap.Int("step", sp.step), zap.Int("hits", len(hits)))
	}

	logger.L().Debug("detection done", zap.Stringer("image", imgSize),
		zap.Int("candidates", len(rects)), zap.Duration("elapsed", time.Since(start)))
	return rects, levels, weights
}

// runDevice classifies the grid of one scale on the device. The returned points
// are a copy, safe to keep after results is reused.
func (c *Classifier) runDevice(prog accel.Program, ev feature.Evaluator, sp scaleParams, results *accel.Results) ([]image.Point, error) {
	src, ok := ev.(feature.IntegralSource)
	if !ok {
		return nil, fmt.Errorf("%w: %s evaluator has no integral transform", accel.ErrFallbackToCPU, ev.FeatureType())
	}
	results.Reset()
	job := &accel.ScaleJob{Integral: src.Integral(), Processing: sp.processing, Step: sp.step}
	if err := prog.RunScale(job, results); err != nil {
		return nil, err
	}
	if n := results.Dropped(); n > 0 {
		logger.L().Debug("device result buffer full", zap.Int("dropped", n))
	}
	return append([]image.Point(nil), results.Points()...), nil
}
