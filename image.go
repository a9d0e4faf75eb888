package objdetect

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/esimov/objdetect/utils"
)

// DecodeImage decodes an image applying the EXIF orientation, if any.
// Every format known to the imaging package is supported.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("could not decode the image: %w", err)
	}
	return img, nil
}

// OpenImage opens the image file found at path.
func OpenImage(path string) (image.Image, error) {
	ctype, err := utils.DetectContentType(path)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(ctype, "image") {
		return nil, fmt.Errorf("%s is not an image file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open the image file: %w", err)
	}
	defer f.Close()

	return DecodeImage(f)
}

// EncodeImage encodes the image into w. The format is chosen from the extension
// of the destination file, falling back to JPEG for other writers.
func EncodeImage(w io.Writer, img image.Image) error {
	ext := ".jpg"
	if f, ok := w.(*os.File); ok && filepath.Ext(f.Name()) != "" {
		ext = filepath.Ext(f.Name())
	}
	return EncodeImageAs(w, img, ext)
}

// EncodeImageAs encodes the image into w using the format implied by the extension ext.
func EncodeImageAs(w io.Writer, img image.Image, ext string) error {
	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return fmt.Errorf("unsupported image format %q", ext)
	}
	switch format {
	case imaging.JPEG:
		return imaging.Encode(w, img, format, imaging.JPEGQuality(100))
	case imaging.PNG, imaging.BMP:
		return imaging.Encode(w, img, format)
	}
	return fmt.Errorf("unsupported image format %q", ext)
}
