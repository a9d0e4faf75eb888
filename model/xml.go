package model

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const legacyTypeID = "opencv-haar-classifier"

type xmlStorage struct {
	XMLName xml.Name     `xml:"opencv_storage"`
	Nodes   []xmlCascade `xml:",any"`
}

type xmlCascade struct {
	XMLName       xml.Name
	TypeID        string `xml:"type_id,attr"`
	StageType     string `xml:"stageType"`
	FeatureType   string `xml:"featureType"`
	Width         string `xml:"width"`
	Height        string `xml:"height"`
	Size          string `xml:"size"`
	FeatureParams struct {
		MaxCatCount string `xml:"maxCatCount"`
	} `xml:"featureParams"`
	Stages *struct {
		Items []xmlStage `xml:"_"`
	} `xml:"stages"`
	Features *struct {
		Items []xmlFeature `xml:"_"`
	} `xml:"features"`
}

type xmlStage struct {
	Threshold string `xml:"stageThreshold"`
	Weak      struct {
		Items []xmlWeak `xml:"_"`
	} `xml:"weakClassifiers"`
}

type xmlWeak struct {
	InternalNodes string `xml:"internalNodes"`
	LeafValues    string `xml:"leafValues"`
}

type xmlFeature struct {
	Rects *struct {
		Items []string `xml:"_"`
	} `xml:"rects"`
	Tilted string `xml:"tilted"`
	Rect   string `xml:"rect"`
}

// IsXML reports whether data looks like an XML document.
func IsXML(data []byte) bool {
	data = bytes.TrimSpace(data)
	return bytes.HasPrefix(data, []byte("<"))
}

// ParseXML reads a cascade stored in the XML layout of the OpenCV file storage.
// The first node under the root element is the cascade. Cascades in the old haar
// classifier layout are reported with ErrLegacyFormat.
func ParseXML(r io.Reader) (*Description, error) {
	var st xmlStorage
	if err := xml.NewDecoder(r).Decode(&st); err != nil {
		return nil, fmt.Errorf("model: decoding xml cascade: %w", err)
	}
	if len(st.Nodes) == 0 {
		return nil, fmt.Errorf("%w: cascade", ErrMissingSection)
	}
	c := st.Nodes[0]
	if c.TypeID == legacyTypeID || (c.StageType == "" && c.Size != "") {
		return nil, ErrLegacyFormat
	}

	d := &Description{
		StageType:   strings.TrimSpace(c.StageType),
		FeatureType: strings.TrimSpace(c.FeatureType),
	}
	var err error
	if d.Width, err = parseInt(c.Width, "width"); err != nil {
		return nil, err
	}
	if d.Height, err = parseInt(c.Height, "height"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.FeatureParams.MaxCatCount) != "" {
		if d.MaxCatCount, err = parseInt(c.FeatureParams.MaxCatCount, "maxCatCount"); err != nil {
			return nil, err
		}
	}

	if c.Stages != nil {
		d.Stages = make([]StageDesc, 0, len(c.Stages.Items))
		for si, s := range c.Stages.Items {
			thr, err := parseFloats(s.Threshold)
			if err != nil || len(thr) != 1 {
				return nil, fmt.Errorf("%w: stage %d threshold %q", ErrMalformed, si, s.Threshold)
			}
			stage := StageDesc{Threshold: thr[0]}
			for wi, w := range s.Weak.Items {
				nodes, err := parseFloats(w.InternalNodes)
				if err != nil {
					return nil, fmt.Errorf("%w: stage %d tree %d nodes: %v", ErrMalformed, si, wi, err)
				}
				leaves, err := parseFloats(w.LeafValues)
				if err != nil {
					return nil, fmt.Errorf("%w: stage %d tree %d leaves: %v", ErrMalformed, si, wi, err)
				}
				stage.Weak = append(stage.Weak, WeakDesc{InternalNodes: nodes, LeafValues: leaves})
			}
			d.Stages = append(d.Stages, stage)
		}
	}

	if c.Features != nil {
		d.Features = make([]FeatureDesc, 0, len(c.Features.Items))
		for fi, f := range c.Features.Items {
			fd, err := xmlFeatureDesc(f)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", fi, err)
			}
			d.Features = append(d.Features, fd)
		}
	}
	return d, nil
}

func xmlFeatureDesc(f xmlFeature) (FeatureDesc, error) {
	var fd FeatureDesc
	if f.Rects != nil {
		for _, item := range f.Rects.Items {
			v, err := parseFloats(item)
			if err != nil {
				return fd, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			rd, ok := rectDescFromValues(v)
			if !ok {
				return fd, fmt.Errorf("%w: rectangle %q", ErrMalformed, item)
			}
			fd.Rects = append(fd.Rects, rd)
		}
		if t := strings.TrimSpace(f.Tilted); t != "" && t != "0" {
			fd.Tilted = true
		}
		return fd, nil
	}
	v, err := parseFloats(f.Rect)
	if err != nil {
		return fd, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	fd.Rect = intsFromValues(v)
	return fd, nil
}

func parseInt(s, name string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: %s", ErrMissingSection, name)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformed, name, s)
	}
	return v, nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
