package objdetect

import (
	"errors"
	"fmt"
	"image"
	"sync"
)

// ErrLegacyUnsupported is returned by a legacy loader for data it does not recognize.
var ErrLegacyUnsupported = errors.New("objdetect: unsupported legacy cascade")

// LegacyDetector runs a cascade stored in a format the model package does not
// evaluate. Its results follow the same contract as Classifier.Detect.
type LegacyDetector interface {
	Detect(img image.Image, opts Options, mode Mode) (Detections, error)
	OriginalWindowSize() image.Point
	Close() error
}

// LegacyLoader opens a legacy cascade. path is empty for cascades loaded from memory.
type LegacyLoader func(path string, data []byte) (LegacyDetector, error)

type legacyEntry struct {
	name string
	load LegacyLoader
}

var (
	legacyMu      sync.RWMutex
	legacyLoaders []legacyEntry
)

// RegisterLegacyLoader adds a loader tried, in registration order, for cascades
// the model package cannot parse. Registering a name twice replaces the loader.
func RegisterLegacyLoader(name string, load LegacyLoader) {
	if load == nil {
		panic("objdetect: RegisterLegacyLoader loader is nil")
	}
	legacyMu.Lock()
	defer legacyMu.Unlock()
	for i, e := range legacyLoaders {
		if e.name == name {
			legacyLoaders[i].load = load
			return
		}
	}
	legacyLoaders = append(legacyLoaders, legacyEntry{name: name, load: load})
}

// LegacyLoaders returns the names of the registered legacy loaders.
func LegacyLoaders() []string {
	legacyMu.RLock()
	defer legacyMu.RUnlock()
	names := make([]string, len(legacyLoaders))
	for i, e := range legacyLoaders {
		names[i] = e.name
	}
	return names
}

func openLegacy(path string, data []byte) (LegacyDetector, error) {
	legacyMu.RLock()
	entries := append([]legacyEntry(nil), legacyLoaders...)
	legacyMu.RUnlock()

	for _, e := range entries {
		ld, err := e.load(path, data)
		if err == nil {
			return ld, nil
		}
		if !errors.Is(err, ErrLegacyUnsupported) {
			return nil, fmt.Errorf("%s legacy loader: %w", e.name, err)
		}
	}
	return nil, ErrLegacyUnsupported
}

// GroupDetections groups raw hits into the result of a detection in the given mode.
// Legacy detectors use it to match the output of Classifier.Detect.
// levels and weights are only read in ModeLevels.
func GroupDetections(rects []image.Rectangle, levels []int, weights []float64, opts Options, mode Mode) Detections {
	var d Detections
	switch mode {
	case ModeLevels:
		d.Rects, d.Levels, d.Weights = GroupRectanglesLevels(rects, levels, weights, opts.MinNeighbors, GroupEps)
	case ModeNeighbors:
		d.Rects, d.Neighbors = GroupRectanglesWeights(rects, opts.MinNeighbors, GroupEps)
	default:
		d.Rects = GroupRectangles(rects, opts.MinNeighbors, GroupEps)
	}
	return d
}
