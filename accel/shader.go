package accel

import (
	_ "embed"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/spirv"

	"github.com/esimov/objdetect/feature"
	"github.com/esimov/objdetect/internal/parallel"
	"github.com/esimov/objdetect/model"
)

//go:embed shaders/cascade_stump.wgsl
var cascadeStumpWGSL string

// ShaderDevice runs stump based Haar cascades through the WGSL compute kernel
// in shaders/cascade_stump.wgsl. Init compiles the kernel to SPIR-V and reads
// the layout of its buffers from the compiler IR. Upload and RunScale pack the
// cascade and the scale parameters into buffers of that layout, and every
// invocation of the kernel reads its inputs back from them. Until a hardware
// queue is bound the invocations run on goroutines.
type ShaderDevice struct {
	// Workers bounds the number of goroutines per scale. Zero means one per CPU.
	Workers int

	source string
	mu     sync.Mutex
	spirv  []uint32
	layout *kernelLayout
}

// NewShaderDevice returns an uninitialized shader device using workers
// goroutines per scale.
func NewShaderDevice(workers int) *ShaderDevice {
	return &ShaderDevice{Workers: workers, source: cascadeStumpWGSL}
}

func (d *ShaderDevice) Name() string { return "wgsl" }

// Init compiles the cascade kernel and reflects its buffer layout.
func (d *ShaderDevice) Init() error {
	if d.source == "" {
		d.source = cascadeStumpWGSL
	}
	ast, err := naga.Parse(d.source)
	if err != nil {
		return fmt.Errorf("accel: failed to parse cascade shader: %w", err)
	}
	mod, err := naga.LowerWithSource(ast, d.source)
	if err != nil {
		return fmt.Errorf("accel: failed to lower cascade shader: %w", err)
	}
	verrs, err := naga.Validate(mod)
	if err != nil {
		return fmt.Errorf("accel: failed to validate cascade shader: %w", err)
	}
	if len(verrs) > 0 {
		return fmt.Errorf("accel: invalid cascade shader: %w", &verrs[0])
	}
	layout, err := reflectKernel(mod)
	if err != nil {
		return err
	}

	spirvBytes, err := naga.GenerateSPIRV(mod, spirv.Options{Version: spirv.Version1_3})
	if err != nil {
		return fmt.Errorf("accel: failed to compile cascade shader: %w", err)
	}
	if len(spirvBytes) == 0 || len(spirvBytes)%4 != 0 {
		return fmt.Errorf("accel: cascade shader has an invalid SPIR-V size of %d bytes", len(spirvBytes))
	}
	// SPIR-V is a stream of little-endian 32 bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}

	d.mu.Lock()
	d.spirv, d.layout = words, layout
	d.mu.Unlock()
	return nil
}

// SPIRV returns the compiled kernel, or nil before Init.
func (d *ShaderDevice) SPIRV() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spirv
}

func (d *ShaderDevice) Close() {
	d.mu.Lock()
	d.spirv, d.layout = nil, nil
	d.mu.Unlock()
}

// CanAccelerate reports true for upright Haar stump cascades only.
func (d *ShaderDevice) CanAccelerate(op Op) bool {
	return op == OpHaarStump
}

// Upload packs the stages and stumps of m into the kernel buffers.
func (d *ShaderDevice) Upload(m *model.Model) (Program, error) {
	d.mu.Lock()
	layout := d.layout
	d.mu.Unlock()
	if layout == nil {
		return nil, errors.New("accel: shader device is not initialized")
	}
	op, ok := OpFor(m)
	if !ok || !d.CanAccelerate(op) {
		return nil, fmt.Errorf("%w: %s cascade is not supported by the %s device", ErrFallbackToCPU, m.FeatureType, d.Name())
	}
	buf, err := flatten(m)
	if err != nil {
		return nil, err
	}

	p := &shaderProgram{
		dev:      d,
		layout:   layout,
		cascade:  buf,
		nstages:  uint32(len(m.Stages)),
		stages:   make([]byte, len(m.Stages)*int(layout.stageStride)),
		stumps:   make([]byte, len(m.Stumps)*int(layout.stumpStride)),
		features: make(map[int][]byte),
	}
	for i, st := range m.Stages {
		b := p.stages[i*int(layout.stageStride):]
		layout.stage.putU32(b, "first", uint32(st.First))
		layout.stage.putU32(b, "ntrees", uint32(st.NTrees))
		layout.stage.putF32(b, "threshold", st.Threshold)
	}
	for i, sp := range m.Stumps {
		b := p.stumps[i*int(layout.stumpStride):]
		layout.stump.putU32(b, "feature", uint32(sp.Feature))
		layout.stump.putF32(b, "threshold", sp.Threshold)
		layout.stump.putF32(b, "left", sp.Left)
		layout.stump.putF32(b, "right", sp.Right)
	}
	return p, nil
}

type shaderProgram struct {
	dev     *ShaderDevice
	layout  *kernelLayout
	cascade *cascadeBuffers
	nstages uint32
	stages  []byte
	stumps  []byte

	mu sync.Mutex
	// features holds the packed feature buffer of every row stride seen so far.
	// A buffer is never written once stored.
	features map[int][]byte
}

// featureBuffer returns the feature buffer with offsets resolved for stride.
func (p *shaderProgram) featureBuffer(stride int, ofs *strideOffsets) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.features[stride]; ok {
		return b
	}
	l := p.layout
	b := make([]byte, len(p.cascade.haar)*int(l.featureStride))
	for i, f := range p.cascade.haar {
		fb := b[i*int(l.featureStride):]
		l.feature.putVec4I32(fb, "ofs0", ofs.haar[i][0])
		l.feature.putVec4I32(fb, "ofs1", ofs.haar[i][1])
		l.feature.putVec4I32(fb, "ofs2", ofs.haar[i][2])
		l.feature.putVec4F32(fb, "weight", [4]float32{f.Rects[0].Weight, f.Rects[1].Weight, f.Rects[2].Weight, 0})
	}
	p.features[stride] = b
	return b
}

func (p *shaderProgram) RunScale(job *ScaleJob, out *Results) error {
	if p.stages == nil || p.dev.SPIRV() == nil {
		return errDeviceClosed
	}
	in := job.Integral
	if in == nil || in.Stride == 0 || in.SqSum == nil {
		return fmt.Errorf("accel: scale has no integral transform")
	}
	ofs := p.cascade.bind(in.Stride)
	features := p.featureBuffer(in.Stride, ofs)

	l := p.layout
	grid := job.Grid()
	params := make([]byte, l.params.span)
	l.params.putU32(params, "grid_w", uint32(grid.X))
	l.params.putU32(params, "grid_h", uint32(grid.Y))
	l.params.putU32(params, "step", uint32(job.Step))
	l.params.putU32(params, "stride", uint32(in.Stride))
	l.params.putU32(params, "win_w", uint32(p.cascade.window.X))
	l.params.putU32(params, "win_h", uint32(p.cascade.window.Y))
	l.params.putU32(params, "nstages", p.nstages)
	l.params.putU32(params, "max_hits", MaxDetections)
	l.params.putVec4I32(params, "norm_ofs", ofs.norm)
	l.params.putF32(params, "area", float32(ofs.area))

	inv := &invocation{p: p, params: params, features: features, in: in, out: out}
	parallel.For(grid.Y, p.dev.Workers, func(gy int) {
		for gx := 0; gx < grid.X; gx++ {
			inv.run(uint32(gx), uint32(gy))
		}
	})
	return nil
}

func (p *shaderProgram) Release() {
	p.mu.Lock()
	p.features = make(map[int][]byte)
	p.mu.Unlock()
	p.stages, p.stumps = nil, nil
}

// invocation holds the bindings of one dispatch of the kernel.
type invocation struct {
	p        *shaderProgram
	params   []byte
	features []byte
	in       *feature.Integral
	out      *Results
}

// run is the kernel entry point for the grid point (gx, gy).
func (inv *invocation) run(gx, gy uint32) {
	l := inv.p.layout
	params := inv.params
	if gx >= l.params.u32(params, "grid_w") || gy >= l.params.u32(params, "grid_h") {
		return
	}
	step := l.params.u32(params, "step")
	x, y := gx*step, gy*step
	// the host keeps windows inside the integral buffer
	sumSize := inv.in.SumSize()
	if int(x+l.params.u32(params, "win_w")) >= sumSize.X || int(y+l.params.u32(params, "win_h")) >= sumSize.Y {
		return
	}
	base := int(y*l.params.u32(params, "stride") + x)

	normOfs := l.params.vec4I32(params, "norm_ofs")
	s := float64(inv.in.BlockSum(base, normOfs))
	nf := float64(l.params.f32(params, "area"))*inv.in.BlockSqSum(base, normOfs) - s*s
	if nf > 0 {
		nf = math.Sqrt(nf)
	} else {
		nf = 1
	}
	norm := 1 / nf

	nstages := l.params.u32(params, "nstages")
	for si := uint32(0); si < nstages; si++ {
		stage := inv.p.stages[si*l.stageStride:]
		first := l.stage.u32(stage, "first")
		ntrees := l.stage.u32(stage, "ntrees")

		var acc float64
		for ti := uint32(0); ti < ntrees; ti++ {
			stump := inv.p.stumps[(first+ti)*l.stumpStride:]
			feat := inv.features[l.stump.u32(stump, "feature")*l.featureStride:]
			weight := l.feature.vec4F32(feat, "weight")

			var v float32
			for j, name := range [3]string{"ofs0", "ofs1", "ofs2"} {
				if weight[j] != 0 {
					v += weight[j] * float32(inv.in.BlockSum(base, l.feature.vec4I32(feat, name)))
				}
			}
			if float64(float32(float64(v)*norm)) < float64(l.stump.f32(stump, "threshold")) {
				acc += float64(l.stump.f32(stump, "left"))
			} else {
				acc += float64(l.stump.f32(stump, "right"))
			}
		}
		if acc < float64(l.stage.f32(stage, "threshold")) {
			return
		}
	}
	// the hit buffer holds max_hits points and drops the rest
	inv.out.Add(image.Pt(int(x), int(y)))
}
