package accel

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/naga/ir"
)

// structLayout is the memory layout of a WGSL struct: its size and the byte
// offset of every member.
type structLayout struct {
	name    string
	span    uint32
	offsets map[string]uint32
}

// kernelLayout describes the buffers bound to the cascade kernel, as laid out
// by the shader compiler.
type kernelLayout struct {
	params   structLayout
	stage    structLayout
	stump    structLayout
	feature  structLayout
	bindings map[string]uint32

	// array strides of the stages, stumps and features bindings
	stageStride   uint32
	stumpStride   uint32
	featureStride uint32
}

// member is a struct member the host writes, with its size in bytes.
type member struct {
	name string
	size uint32
}

var (
	paramsMembers = []member{
		{"grid_w", 4}, {"grid_h", 4}, {"step", 4}, {"stride", 4},
		{"win_w", 4}, {"win_h", 4}, {"nstages", 4}, {"max_hits", 4},
		{"norm_ofs", 16}, {"area", 4},
	}
	stageMembers   = []member{{"first", 4}, {"ntrees", 4}, {"threshold", 4}}
	stumpMembers   = []member{{"feature", 4}, {"threshold", 4}, {"left", 4}, {"right", 4}}
	featureMembers = []member{{"ofs0", 16}, {"ofs1", 16}, {"ofs2", 16}, {"weight", 16}}

	kernelBindings = []string{
		"params", "stages", "stumps", "features",
		"integral", "sq_integral", "hit_count", "hits",
	}
)

// reflectKernel reads the buffer layout of the cascade kernel from its IR.
// It fails if a binding or a member the host writes is missing or has an
// unexpected size.
func reflectKernel(mod *ir.Module) (*kernelLayout, error) {
	l := &kernelLayout{bindings: make(map[string]uint32)}
	globals := make(map[string]ir.GlobalVariable)
	for _, g := range mod.GlobalVariables {
		if g.Binding == nil {
			continue
		}
		globals[g.Name] = g
		l.bindings[g.Name] = g.Binding.Binding
	}
	for _, name := range kernelBindings {
		if _, ok := globals[name]; !ok {
			return nil, fmt.Errorf("accel: kernel has no %q binding", name)
		}
	}

	var err error
	if l.params, err = reflectStruct(mod, mod.Types[globals["params"].Type], paramsMembers); err != nil {
		return nil, err
	}
	if l.stage, l.stageStride, err = reflectArray(mod, globals["stages"], stageMembers); err != nil {
		return nil, err
	}
	if l.stump, l.stumpStride, err = reflectArray(mod, globals["stumps"], stumpMembers); err != nil {
		return nil, err
	}
	if l.feature, l.featureStride, err = reflectArray(mod, globals["features"], featureMembers); err != nil {
		return nil, err
	}
	return l, nil
}

func reflectArray(mod *ir.Module, g ir.GlobalVariable, members []member) (structLayout, uint32, error) {
	arr, ok := mod.Types[g.Type].Inner.(ir.ArrayType)
	if !ok {
		return structLayout{}, 0, fmt.Errorf("accel: kernel binding %q is not an array", g.Name)
	}
	sl, err := reflectStruct(mod, mod.Types[arr.Base], members)
	if err != nil {
		return structLayout{}, 0, err
	}
	if arr.Stride < sl.span {
		return structLayout{}, 0, fmt.Errorf("accel: kernel binding %q has a stride of %d for a %d byte element",
			g.Name, arr.Stride, sl.span)
	}
	return sl, arr.Stride, nil
}

func reflectStruct(mod *ir.Module, t ir.Type, members []member) (structLayout, error) {
	st, ok := t.Inner.(ir.StructType)
	if !ok {
		return structLayout{}, fmt.Errorf("accel: kernel type %q is not a struct", t.Name)
	}
	sl := structLayout{name: t.Name, span: st.Span, offsets: make(map[string]uint32)}
	found := make(map[string]ir.StructMember, len(st.Members))
	for _, m := range st.Members {
		found[m.Name] = m
	}
	for _, want := range members {
		m, ok := found[want.name]
		if !ok {
			return structLayout{}, fmt.Errorf("accel: kernel struct %s has no member %q", t.Name, want.name)
		}
		if size := ir.TypeSize(mod, m.Type); size != want.size {
			return structLayout{}, fmt.Errorf("accel: kernel member %s.%s is %d bytes, want %d",
				t.Name, want.name, size, want.size)
		}
		sl.offsets[want.name] = m.Offset
	}
	return sl, nil
}

// Buffers are little endian, like every WebGPU host.

func (l structLayout) putU32(buf []byte, name string, v uint32) {
	binary.LittleEndian.PutUint32(buf[l.offsets[name]:], v)
}

func (l structLayout) putF32(buf []byte, name string, v float32) {
	l.putU32(buf, name, math.Float32bits(v))
}

func (l structLayout) putVec4I32(buf []byte, name string, v [4]int) {
	ofs := l.offsets[name]
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[ofs+uint32(4*i):], uint32(int32(x)))
	}
}

func (l structLayout) putVec4F32(buf []byte, name string, v [4]float32) {
	ofs := l.offsets[name]
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[ofs+uint32(4*i):], math.Float32bits(x))
	}
}

func (l structLayout) u32(buf []byte, name string) uint32 {
	return binary.LittleEndian.Uint32(buf[l.offsets[name]:])
}

func (l structLayout) f32(buf []byte, name string) float32 {
	return math.Float32frombits(l.u32(buf, name))
}

func (l structLayout) vec4I32(buf []byte, name string) [4]int {
	var v [4]int
	ofs := l.offsets[name]
	for i := range v {
		v[i] = int(int32(binary.LittleEndian.Uint32(buf[ofs+uint32(4*i):])))
	}
	return v
}

func (l structLayout) vec4F32(buf []byte, name string) [4]float32 {
	var v [4]float32
	ofs := l.offsets[name]
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[ofs+uint32(4*i):]))
	}
	return v
}
