// Package pigocascade runs the binary pixel intensity comparison cascades of the
// pigo face detector through the objdetect API. Importing the package registers
// its loader, after which objdetect.Load accepts pigo cascade files:
//
//	import _ "github.com/esimov/objdetect/legacy/pigocascade"
//
// pigo scans square windows only, so the width and height of the size options
// are reduced to a single side.
package pigocascade

import (
	"encoding/binary"
	"fmt"
	"image"

	pigo "github.com/esimov/pigo/core"

	"github.com/esimov/objdetect"
)

const (
	// DefaultMinSize is the smallest window side scanned when the options give none.
	DefaultMinSize = 20
	// DefaultShiftFactor moves the window by a tenth of its size.
	DefaultShiftFactor = 0.1

	headerSize = 16
	maxDepth   = 16
	maxTrees   = 1 << 20
)

func init() {
	objdetect.RegisterLegacyLoader("pigo", func(_ string, data []byte) (objdetect.LegacyDetector, error) {
		return New(data)
	})
}

// Detector is a pigo cascade adapted to objdetect.LegacyDetector.
type Detector struct {
	classifier *pigo.Pigo
	// ShiftFactor is the window step relative to the window size.
	ShiftFactor float64
	// MinQuality drops the raw hits scoring below it.
	MinQuality float32
}

// New unpacks a binary pigo cascade. Data not laid out as one is reported
// with objdetect.ErrLegacyUnsupported.
func New(data []byte) (*Detector, error) {
	if !isCascade(data) {
		return nil, fmt.Errorf("%w: not a pigo cascade", objdetect.ErrLegacyUnsupported)
	}
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("error unpacking the cascade file: %w", err)
	}
	return &Detector{classifier: classifier, ShiftFactor: DefaultShiftFactor}, nil
}

// isCascade checks the tree count and depth of the header against the data length.
// Every tree holds 4*2^depth-4 bytes of codes, 2^depth leaf predictions and a threshold.
func isCascade(data []byte) bool {
	if len(data) < headerSize {
		return false
	}
	depth := binary.LittleEndian.Uint32(data[8:])
	trees := binary.LittleEndian.Uint32(data[12:])
	if depth == 0 || depth > maxDepth || trees == 0 || trees > maxTrees {
		return false
	}
	need := uint64(headerSize) + uint64(trees)*(8<<depth)
	return uint64(len(data)) >= need
}

// OriginalWindowSize returns the smallest window scanned by default.
func (d *Detector) OriginalWindowSize() image.Point {
	return image.Pt(DefaultMinSize, DefaultMinSize)
}

// Detect runs the cascade and groups the hits like objdetect.Classifier does.
// A pigo cascade has no stages, so in objdetect.ModeLevels every hit reports
// level 1 and its detection score as weight.
func (d *Detector) Detect(img image.Image, opts objdetect.Options, mode objdetect.Mode) (objdetect.Detections, error) {
	if err := opts.Validate(); err != nil {
		return objdetect.Detections{}, err
	}
	gray := objdetect.ToGray(img)
	size := gray.Bounds().Size()

	minSize := max(opts.MinSize.Width, opts.MinSize.Height)
	if minSize == 0 {
		minSize = DefaultMinSize
	}
	maxSize := min(size.X, size.Y)
	if !opts.MaxSize.IsZero() {
		maxSize = min(maxSize, opts.MaxSize.Width, opts.MaxSize.Height)
	}
	if minSize > maxSize {
		return objdetect.Detections{}, nil
	}
	// the window side is truncated after every scaling, it has to grow by at least a pixel
	if float64(minSize)*(opts.ScaleFactor-1) < 1 {
		return objdetect.Detections{}, fmt.Errorf("%w: scale factor %v does not grow a %d pixel window",
			objdetect.ErrInvalidOptions, opts.ScaleFactor, minSize)
	}

	shift := d.ShiftFactor
	if shift <= 0 {
		shift = DefaultShiftFactor
	}
	cp := pigo.CascadeParams{
		MinSize:     minSize,
		MaxSize:     maxSize,
		ShiftFactor: shift,
		ScaleFactor: opts.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: gray.Pix,
			Rows:   size.Y,
			Cols:   size.X,
			Dim:    gray.Stride,
		},
	}
	dets := d.classifier.RunCascade(cp, 0)

	var (
		rects   = make([]image.Rectangle, 0, len(dets))
		levels  []int
		weights []float64
	)
	for _, det := range dets {
		if det.Q < d.MinQuality {
			continue
		}
		p := image.Pt(det.Col-det.Scale/2, det.Row-det.Scale/2)
		rects = append(rects, image.Rectangle{Min: p, Max: p.Add(image.Pt(det.Scale, det.Scale))})
		if mode == objdetect.ModeLevels {
			levels = append(levels, 1)
			weights = append(weights, float64(det.Q))
		}
	}
	return objdetect.GroupDetections(rects, levels, weights, opts, mode), nil
}

// Close is a no-op, the cascade holds no resources.
func (d *Detector) Close() error { return nil }
