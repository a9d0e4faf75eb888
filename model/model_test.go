package model

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esimov/objdetect/feature"
)

func stumpDescription() *Description {
	return &Description{
		StageType:   "BOOST",
		FeatureType: "HAAR",
		Width:       24,
		Height:      24,
		Stages: []StageDesc{
			{Threshold: 0.5, Weak: []WeakDesc{
				{InternalNodes: []float64{0, -1, 0, 0.25}, LeafValues: []float64{-1, 1}},
				{InternalNodes: []float64{0, -1, 1, -0.5}, LeafValues: []float64{0.3, 0.7}},
			}},
			{Threshold: -1, Weak: []WeakDesc{
				{InternalNodes: []float64{0, -1, 1, 2}, LeafValues: []float64{0.1, 0.2}},
			}},
		},
		Features: []FeatureDesc{
			{Rects: []RectDesc{{0, 0, 12, 24, -1}, {12, 0, 12, 24, 1}}},
			{Rects: []RectDesc{{0, 0, 24, 12, -1}, {0, 12, 24, 12, 1}}},
		},
	}
}

func TestModel_BuildStumpCascade(t *testing.T) {
	m, err := Build(stumpDescription())
	require.NoError(t, err)

	assert.True(t, m.IsStumpBased())
	assert.False(t, m.IsCategorical())
	assert.Equal(t, feature.Haar, m.FeatureType)
	assert.Equal(t, image.Pt(24, 24), m.Window)
	require.Len(t, m.Stages, 2)
	assert.Equal(t, float32(0.5)-thresholdEps, m.Stages[0].Threshold)
	assert.Equal(t, Stage{First: 2, NTrees: 1, Threshold: float32(-1) - thresholdEps}, m.Stages[1])

	require.Len(t, m.Stumps, len(m.Trees))
	assert.Equal(t, []Stump{
		{Feature: 0, Threshold: 0.25, Left: -1, Right: 1},
		{Feature: 1, Threshold: -0.5, Left: 0.3, Right: 0.7},
		{Feature: 1, Threshold: 2, Left: 0.1, Right: 0.2},
	}, m.Stumps)

	_, ok := m.NewEvaluator().(feature.IntegralSource)
	assert.True(t, ok)
}

func TestModel_BuildTreeCascade(t *testing.T) {
	d := stumpDescription()
	// root splits into node 1 on the left, node 1 has two leaves, root's right is leaf 2
	d.Stages[1].Weak[0] = WeakDesc{
		InternalNodes: []float64{1, -2, 0, 0.1, 0, -1, 1, 0.2},
		LeafValues:    []float64{10, 20, 30},
	}
	m, err := Build(d)
	require.NoError(t, err)

	assert.False(t, m.IsStumpBased())
	assert.Nil(t, m.Stumps)

	tree := m.Trees[2]
	assert.Equal(t, 2, tree.NodeCount)
	root := m.Nodes[tree.Root]
	assert.Equal(t, Child{Index: tree.Root + 1}, root.Left)
	assert.True(t, root.Right.Leaf)
	assert.Equal(t, float32(30), m.Leaves[root.Right.Index])

	inner := m.Nodes[root.Left.Index]
	assert.Equal(t, float32(10), m.Leaves[inner.Left.Index])
	assert.Equal(t, float32(20), m.Leaves[inner.Right.Index])
}

func TestModel_BuildCategorical(t *testing.T) {
	d := &Description{
		StageType:   "BOOST",
		FeatureType: "LBP",
		Width:       9,
		Height:      9,
		MaxCatCount: 256,
		Stages: []StageDesc{{Threshold: 0, Weak: []WeakDesc{{
			InternalNodes: []float64{0, -1, 0, -1, 0, 0, 0, 0, 0, 0, 4294967295},
			LeafValues:    []float64{-1, 1},
		}}}},
		Features: []FeatureDesc{{Rect: []int{0, 0, 3, 3}}},
	}
	m, err := Build(d)
	require.NoError(t, err)

	assert.True(t, m.IsCategorical())
	assert.Equal(t, 8, m.SubsetSize)
	require.Len(t, m.Stumps, 1)
	assert.Equal(t, []int32{-1, 0, 0, 0, 0, 0, 0, -1}, m.Subset(m.Stumps[0].SubsetOffset))
	assert.Equal(t, feature.LBP, m.NewEvaluator().FeatureType())
}

func TestModel_BuildErrors(t *testing.T) {
	cases := []struct {
		name   string
		modify func(d *Description)
		want   error
	}{
		{"missing stage type", func(d *Description) { d.StageType = "" }, ErrMissingSection},
		{"unsupported stage", func(d *Description) { d.StageType = "GENTLE" }, ErrUnsupportedStage},
		{"unsupported feature", func(d *Description) { d.FeatureType = "SURF" }, ErrUnsupportedFeature},
		{"zero width", func(d *Description) { d.Width = 0 }, ErrInvalidWindow},
		{"negative height", func(d *Description) { d.Height = -4 }, ErrInvalidWindow},
		{"no stages", func(d *Description) { d.Stages = nil }, ErrMissingSection},
		{"no features", func(d *Description) { d.Features = nil }, ErrMissingSection},
		{"empty stage", func(d *Description) { d.Stages[0].Weak = nil }, ErrMalformed},
		{"short node row", func(d *Description) { d.Stages[0].Weak[0].InternalNodes = []float64{0, -1, 0} }, ErrMalformed},
		{"leaf count", func(d *Description) { d.Stages[0].Weak[0].LeafValues = []float64{1} }, ErrMalformed},
		{"feature index", func(d *Description) { d.Stages[0].Weak[0].InternalNodes[2] = 7 }, ErrMalformed},
		{"self loop", func(d *Description) {
			d.Stages[0].Weak[0] = WeakDesc{InternalNodes: []float64{1, -1, 0, 0, 1, -2, 0, 0}, LeafValues: []float64{1, 2, 3}}
		}, ErrMalformed},
		{"rect outside window", func(d *Description) { d.Features[0].Rects[1].X = 20 }, ErrMalformed},
		{"tilted outside window", func(d *Description) { d.Features[0].Tilted = true }, ErrMalformed},
		{"lbp without categories", func(d *Description) { d.FeatureType = "LBP" }, ErrMalformed},
		{"lbp with few categories", func(d *Description) {
			d.FeatureType, d.MaxCatCount = "LBP", 32
		}, ErrMalformed},
		{"categorical haar", func(d *Description) { d.MaxCatCount = 256 }, ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := stumpDescription()
			tc.modify(d)
			m, err := Build(d)
			assert.Nil(t, m)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	_, err := Build(nil)
	assert.ErrorIs(t, err, ErrMissingSection)
}

const haarXML = `<?xml version="1.0"?>
<opencv_storage>
<cascade type_id="opencv-cascade-classifier">
  <stageType>BOOST</stageType>
  <featureType>HAAR</featureType>
  <height>24</height>
  <width>24</width>
  <stageParams>
    <maxWeakCount>2</maxWeakCount></stageParams>
  <featureParams>
    <maxCatCount>0</maxCatCount>
    <featSize>1</featSize></featureParams>
  <stageNum>2</stageNum>
  <stages>
    <!-- stage 0 -->
    <_>
      <maxWeakCount>2</maxWeakCount>
      <stageThreshold>5.0000000000000000e-01</stageThreshold>
      <weakClassifiers>
        <_>
          <internalNodes>
            0 -1 0 2.5000000000000000e-01</internalNodes>
          <leafValues>
            -1. 1.</leafValues></_>
        <_>
          <internalNodes>
            0 -1 1 -5.0000000000000000e-01</internalNodes>
          <leafValues>
            3.0000000000000000e-01 7.0000000000000000e-01</leafValues></_></weakClassifiers></_>
    <!-- stage 1 -->
    <_>
      <maxWeakCount>1</maxWeakCount>
      <stageThreshold>-1.</stageThreshold>
      <weakClassifiers>
        <_>
          <internalNodes>
            0 -1 1 2.</internalNodes>
          <leafValues>
            1.0000000000000001e-01 2.0000000000000001e-01</leafValues></_></weakClassifiers></_></stages>
  <features>
    <_>
      <rects>
        <_>
          0 0 12 24 -1.</_>
        <_>
          12 0 12 24 1.</_></rects>
      <tilted>0</tilted></_>
    <_>
      <rects>
        <_>
          0 0 24 12 -1.</_>
        <_>
          0 12 24 12 1.</_></rects>
      <tilted>0</tilted></_></features></cascade>
</opencv_storage>
`

const haarYAML = `%YAML:1.0
---
cascade:
   stageType: BOOST
   featureType: HAAR
   height: 24
   width: 24
   featureParams:
      maxCatCount: 0
   stages:
      -
         maxWeakCount: 2
         stageThreshold: 5.0000000000000000e-01
         weakClassifiers:
            -
               internalNodes: [ 0, -1, 0, 2.5000000000000000e-01 ]
               leafValues: [ -1., 1. ]
            -
               internalNodes: [ 0, -1, 1, -5.0000000000000000e-01 ]
               leafValues: [ 3.0000000000000000e-01, 7.0000000000000000e-01 ]
      -
         maxWeakCount: 1
         stageThreshold: -1.
         weakClassifiers:
            -
               internalNodes: [ 0, -1, 1, 2. ]
               leafValues: [ 1.0000000000000001e-01, 2.0000000000000001e-01 ]
   features:
      -
         rects:
            - [ 0, 0, 12, 24, -1. ]
            - [ 12, 0, 12, 24, 1. ]
         tilted: 0
      -
         rects:
            - [ 0, 0, 24, 12, -1. ]
            - [ 0, 12, 24, 12, 1. ]
         tilted: 0
`

func TestModel_ParseXML(t *testing.T) {
	d, err := ParseXML(strings.NewReader(haarXML))
	require.NoError(t, err)
	if diff := cmp.Diff(stumpDescription(), d); diff != "" {
		t.Errorf("description mismatch (-want +got):\n%s", diff)
	}
}

func TestModel_ParseYAML(t *testing.T) {
	d, err := ParseYAML(strings.NewReader(haarYAML))
	require.NoError(t, err)
	if diff := cmp.Diff(stumpDescription(), d); diff != "" {
		t.Errorf("description mismatch (-want +got):\n%s", diff)
	}
}

func TestModel_ParseDetectsFormat(t *testing.T) {
	for name, data := range map[string]string{"xml": haarXML, "yaml": haarYAML} {
		t.Run(name, func(t *testing.T) {
			d, err := Parse([]byte(data))
			require.NoError(t, err)
			assert.Equal(t, "HAAR", d.FeatureType)
		})
	}
	_, err := Parse([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestModel_LegacyXMLIsReported(t *testing.T) {
	legacy := `<?xml version="1.0"?>
<opencv_storage>
<haarcascade_frontalface_alt type_id="opencv-haar-classifier">
  <size>20 20</size>
  <stages></stages>
</haarcascade_frontalface_alt>
</opencv_storage>`
	_, err := ParseXML(strings.NewReader(legacy))
	assert.ErrorIs(t, err, ErrLegacyFormat)
}

func TestModel_MissingSectionsInXML(t *testing.T) {
	noStages := strings.Replace(haarXML, "<stages>", "<unused>", 1)
	noStages = strings.Replace(noStages, "</stages>", "</unused>", 1)
	d, err := ParseXML(strings.NewReader(noStages))
	require.NoError(t, err)
	_, err = Build(d)
	assert.ErrorIs(t, err, ErrMissingSection)

	noWidth := strings.Replace(haarXML, "<width>24</width>", "", 1)
	_, err = ParseXML(strings.NewReader(noWidth))
	assert.ErrorIs(t, err, ErrMissingSection)
}

func TestModel_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cascade.xml")
	require.NoError(t, os.WriteFile(path, []byte(haarXML), 0644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, m.Stages, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.xml"))
	assert.Error(t, err)
}
