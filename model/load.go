package model

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// ErrUnknownFormat is returned by Parse for data that is neither XML nor YAML.
var ErrUnknownFormat = errors.New("model: unknown cascade format")

// Parse detects the storage format of data and parses it.
func Parse(data []byte) (*Description, error) {
	switch {
	case IsXML(data):
		return ParseXML(bytes.NewReader(data))
	case IsYAML(data):
		return ParseYAML(bytes.NewReader(data))
	}
	return nil, ErrUnknownFormat
}

// Load parses and builds the cascade stored in the file at path.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: reading cascade: %w", err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Build(d)
}
