package objdetect

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"gopkg.in/yaml.v3"

	"github.com/esimov/objdetect/utils"
)

// ErrInvalidOptions is returned for detection options out of their valid range.
var ErrInvalidOptions = errors.New("objdetect: invalid options")

// resampleFilters are the filters accepted by Options.Resample.
var resampleFilters = map[string]imaging.ResampleFilter{
	"nearest":    imaging.NearestNeighbor,
	"box":        imaging.Box,
	"linear":     imaging.Linear,
	"hermite":    imaging.Hermite,
	"catmullrom": imaging.CatmullRom,
	"lanczos":    imaging.Lanczos,
	"gaussian":   imaging.Gaussian,
}

// Size is an object size, written as "WxH" (or "N" for a square) in configuration files.
type Size struct {
	Width, Height int
}

// Pt returns the size as an image.Point.
func (s Size) Pt() image.Point { return image.Pt(s.Width, s.Height) }

// IsZero reports whether either dimension is zero.
func (s Size) IsZero() bool { return s.Width == 0 || s.Height == 0 }

func (s Size) String() string { return utils.FormatSize(s.Pt()) }

// UnmarshalYAML accepts "WxH" strings as well as plain integers.
func (s *Size) UnmarshalYAML(n *yaml.Node) error {
	var v string
	if err := n.Decode(&v); err != nil {
		return err
	}
	p, err := utils.ParseSize(v)
	if err != nil {
		return err
	}
	*s = Size{Width: p.X, Height: p.Y}
	return nil
}

func (s Size) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Size) UnmarshalText(text []byte) error {
	p, err := utils.ParseSize(string(text))
	if err != nil {
		return err
	}
	*s = Size{Width: p.X, Height: p.Y}
	return nil
}

// Options controls a multi-scale detection.
type Options struct {
	// ScaleFactor is the ratio between two consecutive scales. It must be greater than 1.
	ScaleFactor float64 `yaml:"scaleFactor" json:"scaleFactor"`
	// MinNeighbors is the grouping threshold: merged detections need more raw hits than this.
	// Zero or less disables grouping.
	MinNeighbors int `yaml:"minNeighbors" json:"minNeighbors"`
	// MinSize and MaxSize bound the detected object size. A zero MaxSize means the image size.
	MinSize Size `yaml:"minSize" json:"minSize"`
	MaxSize Size `yaml:"maxSize" json:"maxSize"`
	// Workers bounds the goroutines scanning a scale. Zero means one per CPU.
	Workers int `yaml:"workers" json:"workers"`
	// Resample names the filter used to downscale the image. The default is bilinear.
	Resample string `yaml:"resample" json:"resample"`
}

// DefaultOptions returns the options commonly used for face detection.
func DefaultOptions() Options {
	return Options{
		ScaleFactor:  1.1,
		MinNeighbors: 3,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if !(o.ScaleFactor > 1) {
		return fmt.Errorf("%w: scale factor %v must be greater than 1", ErrInvalidOptions, o.ScaleFactor)
	}
	if o.MinSize.Width < 0 || o.MinSize.Height < 0 || o.MaxSize.Width < 0 || o.MaxSize.Height < 0 {
		return fmt.Errorf("%w: negative object size", ErrInvalidOptions)
	}
	if !o.MaxSize.IsZero() && (o.MinSize.Width > o.MaxSize.Width || o.MinSize.Height > o.MaxSize.Height) {
		return fmt.Errorf("%w: minimum size %v exceeds maximum size %v", ErrInvalidOptions, o.MinSize, o.MaxSize)
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: negative worker count", ErrInvalidOptions)
	}
	if _, err := resampleFilter(o.Resample); err != nil {
		return err
	}
	return nil
}

func resampleFilter(name string) (*imaging.ResampleFilter, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, nil
	}
	f, ok := resampleFilters[name]
	if !ok {
		names := make([]string, 0, len(resampleFilters))
		for n := range resampleFilters {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: unknown resample filter %q, want one of %s",
			ErrInvalidOptions, name, strings.Join(names, ", "))
	}
	return &f, nil
}

// Config is the configuration file shared by the command line tool and the server.
type Config struct {
	// Cascade is the path of the cascade file.
	Cascade string `yaml:"cascade"`
	// Addr is the listen address of the server.
	Addr string `yaml:"addr"`
	// Debug selects the development logger.
	Debug  bool    `yaml:"debug"`
	Detect Options `yaml:"detect"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Addr:   ":8080",
		Detect: DefaultOptions(),
	}
}

// LoadConfig reads a YAML configuration file. Missing fields keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Detect.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
