package model

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

type yamlCascade struct {
	StageType     string `yaml:"stageType"`
	FeatureType   string `yaml:"featureType"`
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	FeatureParams struct {
		MaxCatCount int `yaml:"maxCatCount"`
	} `yaml:"featureParams"`
	Stages []struct {
		StageThreshold  float64 `yaml:"stageThreshold"`
		WeakClassifiers []struct {
			InternalNodes []float64 `yaml:"internalNodes"`
			LeafValues    []float64 `yaml:"leafValues"`
		} `yaml:"weakClassifiers"`
	} `yaml:"stages"`
	Features []struct {
		Rects  [][]float64 `yaml:"rects"`
		Tilted int         `yaml:"tilted"`
		Rect   []float64   `yaml:"rect"`
	} `yaml:"features"`
}

// IsYAML reports whether data starts like a YAML file storage document.
func IsYAML(data []byte) bool {
	data = bytes.TrimSpace(data)
	return bytes.HasPrefix(data, []byte("%YAML")) || bytes.HasPrefix(data, []byte("---"))
}

// ParseYAML reads a cascade stored in the YAML layout of the OpenCV file storage.
// The non standard "%YAML:1.0" directive line is accepted.
func ParseYAML(r io.Reader) (*Description, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("model: reading yaml cascade: %w", err)
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("%YAML")) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		} else {
			data = nil
		}
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("model: decoding yaml cascade: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode || len(doc.Content[0].Content) < 2 {
		return nil, fmt.Errorf("%w: cascade", ErrMissingSection)
	}
	top := doc.Content[0].Content[1]
	if strings.Contains(top.Tag, legacyTypeID) {
		return nil, ErrLegacyFormat
	}

	var c yamlCascade
	if err := top.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	d := &Description{
		StageType:   c.StageType,
		FeatureType: c.FeatureType,
		Width:       c.Width,
		Height:      c.Height,
		MaxCatCount: c.FeatureParams.MaxCatCount,
	}
	for _, s := range c.Stages {
		stage := StageDesc{Threshold: s.StageThreshold}
		for _, w := range s.WeakClassifiers {
			stage.Weak = append(stage.Weak, WeakDesc{InternalNodes: w.InternalNodes, LeafValues: w.LeafValues})
		}
		d.Stages = append(d.Stages, stage)
	}
	for fi, f := range c.Features {
		var fd FeatureDesc
		if len(f.Rects) > 0 {
			for _, v := range f.Rects {
				rd, ok := rectDescFromValues(v)
				if !ok {
					return nil, fmt.Errorf("%w: feature %d rectangle %v", ErrMalformed, fi, v)
				}
				fd.Rects = append(fd.Rects, rd)
			}
			fd.Tilted = f.Tilted != 0
		} else {
			fd.Rect = intsFromValues(f.Rect)
		}
		d.Features = append(d.Features, fd)
	}
	return d, nil
}
