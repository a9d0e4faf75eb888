//go:build gocv

// Package gocvcascade runs cascades stored in the old OpenCV haar classifier
// layout through the OpenCV bindings of gocv. It needs OpenCV installed and is
// built with the gocv tag only. Importing the package registers its loader:
//
//	import _ "github.com/esimov/objdetect/legacy/gocvcascade"
//
// OpenCV does not report the reject levels of old cascades through gocv, so
// objdetect.ModeLevels is not supported.
package gocvcascade

import (
	"bytes"
	"fmt"
	"image"
	"regexp"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"github.com/esimov/objdetect"
)

var (
	oldFormatTag = []byte(`type_id="opencv-haar-classifier"`)
	sizeRe       = regexp.MustCompile(`<size>\s*(\d+)\s+(\d+)\s*</size>`)
)

func init() {
	objdetect.RegisterLegacyLoader("gocv", func(path string, data []byte) (objdetect.LegacyDetector, error) {
		if path == "" || !bytes.Contains(data, oldFormatTag) {
			return nil, fmt.Errorf("%w: not an old haar cascade file", objdetect.ErrLegacyUnsupported)
		}
		return New(path, data)
	})
}

// Detector is an OpenCV cascade classifier adapted to objdetect.LegacyDetector.
type Detector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	window     image.Point
}

// New loads the cascade file found at path. data is its content, read for the window size.
func New(path string, data []byte) (*Detector, error) {
	d := &Detector{classifier: gocv.NewCascadeClassifier()}
	if !d.classifier.Load(path) {
		d.classifier.Close()
		return nil, fmt.Errorf("could not load the cascade file %s", path)
	}
	if m := sizeRe.FindSubmatch(data); m != nil {
		w, _ := strconv.Atoi(string(m[1]))
		h, _ := strconv.Atoi(string(m[2]))
		d.window = image.Pt(w, h)
	}
	return d, nil
}

func (d *Detector) OriginalWindowSize() image.Point { return d.window }

func (d *Detector) Detect(img image.Image, opts objdetect.Options, mode objdetect.Mode) (objdetect.Detections, error) {
	if err := opts.Validate(); err != nil {
		return objdetect.Detections{}, err
	}
	if mode == objdetect.ModeLevels {
		return objdetect.Detections{}, fmt.Errorf("%w: reject levels of old cascades", objdetect.ErrLegacyUnsupported)
	}

	mat, err := gocv.ImageGrayToMatGray(objdetect.ToGray(img))
	if err != nil {
		return objdetect.Detections{}, err
	}
	defer mat.Close()

	d.mu.Lock()
	// the raw hits are grouped here, like the modern cascades
	rects := d.classifier.DetectMultiScaleWithParams(mat, opts.ScaleFactor, 0, 0,
		opts.MinSize.Pt(), opts.MaxSize.Pt())
	d.mu.Unlock()

	return objdetect.GroupDetections(rects, nil, nil, opts, mode), nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}
