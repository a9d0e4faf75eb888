package accel

import (
	"sync/atomic"

	"github.com/esimov/objdetect/model"
)

// SoftwareDevice executes the device kernel on a pool of goroutines.
// It is the reference the other devices are checked against, and the executor
// used when no hardware queue is bound.
type SoftwareDevice struct {
	// Workers bounds the number of goroutines per scale. Zero means one per CPU.
	Workers int

	closed atomic.Bool
}

// NewSoftwareDevice returns a software device using workers goroutines per scale.
func NewSoftwareDevice(workers int) *SoftwareDevice {
	return &SoftwareDevice{Workers: workers}
}

func (d *SoftwareDevice) Name() string { return "software" }

func (d *SoftwareDevice) Init() error {
	d.closed.Store(false)
	return nil
}

func (d *SoftwareDevice) Close() { d.closed.Store(true) }

func (d *SoftwareDevice) CanAccelerate(op Op) bool {
	return op&(OpHaarStump|OpLBPStump) == op && op != 0
}

func (d *SoftwareDevice) Upload(m *model.Model) (Program, error) {
	if d.closed.Load() {
		return nil, errDeviceClosed
	}
	buf, err := flatten(m)
	if err != nil {
		return nil, err
	}
	return &softwareProgram{dev: d, buf: buf}, nil
}

type softwareProgram struct {
	dev *SoftwareDevice
	buf *cascadeBuffers
}

func (p *softwareProgram) RunScale(job *ScaleJob, out *Results) error {
	if p.buf == nil || p.dev.closed.Load() {
		return errDeviceClosed
	}
	return p.buf.run(job, out, p.dev.Workers)
}

func (p *softwareProgram) Release() { p.buf = nil }
