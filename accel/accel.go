// Package accel defines the optional throughput backend of the cascade classifier.
//
// A Device receives a stump based cascade once (Upload) and is then asked to
// classify every grid point of one scale at a time (Program.RunScale). Accepted
// windows are written into a bounded Results buffer. The classifier falls back to
// its own CPU path, permanently for that classifier, as soon as a device reports
// an error.
//
// Devices are opted in through registration, typically from an init function:
//
//	func init() {
//	    accel.Register(accel.NewShaderDevice(0))
//	}
package accel

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"

	"github.com/esimov/objdetect/feature"
	"github.com/esimov/objdetect/model"
)

// MaxDetections is the capacity of a Results buffer. Detections past it are dropped.
const MaxDetections = 10000

// ErrFallbackToCPU indicates the device cannot handle the cascade or the scale.
// The caller should run the CPU path instead.
var ErrFallbackToCPU = errors.New("accel: falling back to CPU")

var errDeviceClosed = errors.New("accel: device is closed")

// Op describes the cascade shapes a device may support.
type Op uint32

const (
	// OpHaarStump is a stump based cascade of upright Haar features.
	OpHaarStump Op = 1 << iota
	// OpLBPStump is a stump based cascade of categorical LBP features.
	OpLBPStump
)

// OpFor returns the operation needed to run m, or false if no device can run it.
func OpFor(m *model.Model) (Op, bool) {
	if m == nil || !m.IsStumpBased() {
		return 0, false
	}
	switch m.FeatureType {
	case feature.Haar:
		for _, f := range m.Haar {
			if f.Tilted {
				return 0, false
			}
		}
		return OpHaarStump, true
	case feature.LBP:
		return OpLBPStump, m.IsCategorical()
	}
	return 0, false
}

// Device is a throughput backend for stump based cascades.
type Device interface {
	// Name returns the device name.
	Name() string
	// Init acquires the device resources. It is called once, on registration.
	Init() error
	// Close releases the device resources.
	Close()
	// CanAccelerate reports whether the device supports the given operation.
	CanAccelerate(op Op) bool
	// Upload copies the flattened cascade to the device.
	// It returns ErrFallbackToCPU for cascades the device cannot run.
	Upload(m *model.Model) (Program, error)
}

// Program is a cascade resident on a device.
type Program interface {
	// RunScale classifies every point of the job's grid and writes the accepted
	// windows to out. The call blocks until the device is done.
	RunScale(job *ScaleJob, out *Results) error
	// Release frees the device copy of the cascade.
	Release()
}

// ScaleJob describes the work of one scale.
type ScaleJob struct {
	// Integral is the running sum of the scaled image.
	Integral *feature.Integral
	// Processing is the size of the area holding window origins.
	Processing image.Point
	// Step is the grid spacing in both directions.
	Step int
}

// Grid returns the number of grid points along each axis.
func (j *ScaleJob) Grid() image.Point {
	if j.Step <= 0 {
		return image.Point{}
	}
	return image.Pt(j.Processing.X/j.Step, j.Processing.Y/j.Step)
}

// Results is a fixed capacity buffer of accepted window origins filled through
// an atomic write position. It is safe for concurrent use by the writers of a
// single RunScale call.
type Results struct {
	n   atomic.Int32
	pts []image.Point
}

// NewResults allocates a buffer of MaxDetections points.
func NewResults() *Results {
	return &Results{pts: make([]image.Point, MaxDetections)}
}

// Reset empties the buffer.
func (r *Results) Reset() {
	r.n.Store(0)
}

// Add stores pt and reports whether there was room for it.
func (r *Results) Add(pt image.Point) bool {
	i := int(r.n.Add(1)) - 1
	if i >= len(r.pts) {
		return false
	}
	r.pts[i] = pt
	return true
}

// Points returns the stored points.
func (r *Results) Points() []image.Point {
	n := int(r.n.Load())
	if n > len(r.pts) {
		n = len(r.pts)
	}
	return r.pts[:n]
}

// Dropped returns the number of points that did not fit.
func (r *Results) Dropped() int {
	if n := int(r.n.Load()); n > len(r.pts) {
		return n - len(r.pts)
	}
	return 0
}

var (
	deviceMu sync.RWMutex
	device   Device
)

// Register initializes d and makes it the device used by newly loaded classifiers.
// A previously registered device is closed. If Init fails d is not registered.
func Register(d Device) error {
	if d == nil {
		return errors.New("accel: device must not be nil")
	}
	if err := d.Init(); err != nil {
		return err
	}
	deviceMu.Lock()
	old := device
	device = d
	deviceMu.Unlock()
	if old != nil && old != d {
		old.Close()
	}
	return nil
}

// Unregister closes and removes the registered device, if any.
func Unregister() {
	deviceMu.Lock()
	old := device
	device = nil
	deviceMu.Unlock()
	if old != nil {
		old.Close()
	}
}

// Current returns the registered device, or nil if none.
func Current() Device {
	deviceMu.RLock()
	d := device
	deviceMu.RUnlock()
	return d
}
