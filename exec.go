package objdetect

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/esimov/objdetect/logger"
	"github.com/esimov/objdetect/utils"
)

// maxWorkers sets the maximum number of concurrently processed files.
const maxWorkers = 20

// PipeName is the file name standing for stdin or stdout.
const PipeName = "-"

// ValidExtensions lists the image files picked up in a directory.
var ValidExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// Ops describes a detection run. Src is an image file, a directory, an URL or PipeName.
type Ops struct {
	Src, Dst string
	Workers  int
	// JSON writes the detections as JSON instead of the annotated image.
	JSON bool
}

// Detection is a detected object in the JSON report.
type Detection struct {
	X         int `json:"x"`
	Y         int `json:"y"`
	Width     int `json:"width"`
	Height    int `json:"height"`
	Neighbors int `json:"neighbors"`
}

// Report holds the detections of a single image.
type Report struct {
	ID         string      `json:"id,omitempty"`
	Source     string      `json:"source,omitempty"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Detections []Detection `json:"detections"`
}

// Rects returns the rectangles of the detections.
func (r Report) Rects() []image.Rectangle {
	rects := make([]image.Rectangle, len(r.Detections))
	for i, d := range r.Detections {
		rects[i] = image.Rect(d.X, d.Y, d.X+d.Width, d.Y+d.Height)
	}
	return rects
}

// Result is the outcome of a processed file.
type Result struct {
	Src, Dst string
	Count    int
	Err      error
}

// Runner applies a classifier to image files.
type Runner struct {
	Classifier *Classifier
	Options    Options
	Marker     Marker
	// Spinner, if set, runs while the files are processed.
	Spinner *utils.Spinner
	// Status, if set, is called with the result of every file as it completes.
	Status func(Result)
}

// Detect runs the classifier over img and builds its report.
func (r *Runner) Detect(img image.Image) (Report, error) {
	size := img.Bounds().Size()
	report := Report{Width: size.X, Height: size.Y, Detections: []Detection{}}

	rects, neighbors, err := r.Classifier.DetectMultiScaleNumDetections(img, r.Options)
	if err != nil {
		return report, err
	}
	origin := img.Bounds().Min
	for i, rect := range rects {
		rect = rect.Add(origin)
		report.Detections = append(report.Detections, Detection{
			X:         rect.Min.X,
			Y:         rect.Min.Y,
			Width:     rect.Dx(),
			Height:    rect.Dy(),
			Neighbors: neighbors[i],
		})
	}
	return report, nil
}

// Process decodes the image read from in and writes to out either the JSON
// report or the annotated image, encoded in the format implied by ext.
func (r *Runner) Process(in io.Reader, out io.Writer, ext string, asJSON bool) (Report, error) {
	img, err := DecodeImage(in)
	if err != nil {
		return Report{}, err
	}
	report, err := r.Detect(img)
	if err != nil {
		return report, err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return report, enc.Encode(report)
	}
	if ext == "" {
		ext = ".jpg"
	}
	return report, EncodeImageAs(out, Annotate(img, report.Rects(), r.Marker), ext)
}

// Execute processes the source given in op. A directory is walked recursively and
// its images are processed concurrently into the Dst directory. The returned error
// joins the errors of every failed file.
func (r *Runner) Execute(op *Ops) error {
	if r.Classifier.Empty() {
		return errors.New("no cascade classifier loaded")
	}
	src := op.Src
	// Check if source path is a local image or URL.
	if utils.IsValidUrl(src) {
		f, err := utils.DownloadImage(src)
		if f != nil {
			defer os.Remove(f.Name())
			f.Close()
		}
		if err != nil {
			return fmt.Errorf("failed to load the source image: %w", err)
		}
		src = f.Name()
	}

	var (
		fs  os.FileInfo
		err error
	)
	// Check if the source is a pipe name or a regular file.
	if src == PipeName {
		fs, err = os.Stdin.Stat()
	} else {
		fs, err = os.Stat(src)
	}
	if err != nil {
		return fmt.Errorf("failed to load the source image: %w", err)
	}

	if r.Spinner != nil {
		r.Spinner.Start()
		defer r.Spinner.Stop()
	}

	switch mode := fs.Mode(); {
	case mode.IsDir():
		if err := os.MkdirAll(op.Dst, 0755); err != nil {
			return fmt.Errorf("unable to create the destination directory: %w", err)
		}
		return r.executeDir(src, op)

	case mode.IsRegular() || mode&os.ModeNamedPipe != 0:
		ext := strings.ToLower(filepath.Ext(op.Dst))
		if !op.JSON && op.Dst != PipeName && !isValidExtension(ext, ValidExtensions) {
			return fmt.Errorf("%v file type not supported", ext)
		}
		res := r.process(src, op.Dst, op.JSON)
		r.report(res)
		return res.Err
	}
	return fmt.Errorf("%s is neither a file nor a directory", op.Src)
}

func (r *Runner) executeDir(src string, op *Ops) error {
	workers := op.Workers
	if workers <= 0 || workers > maxWorkers {
		workers = runtime.NumCPU()
	}

	ch := make(chan Result)
	done := make(chan any)
	defer close(done)

	paths, errc := walkDir(done, src, op.Dst, ValidExtensions)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			r.consumer(src, op, ch, done, paths)
		}()
	}

	// Close the channel after the values are consumed.
	go func() {
		defer close(ch)
		wg.Wait()
	}()

	var errs []error
	for res := range ch {
		r.report(res)
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Src, res.Err))
		}
	}
	if err := <-errc; err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// consumer reads the path names from the paths channel and runs the detection over them.
// The outputs mirror the layout of the root directory inside op.Dst.
func (r *Runner) consumer(root string, op *Ops, res chan<- Result, done <-chan any, paths <-chan string) {
	for src := range paths {
		var result Result
		dst, err := destPath(root, src, op)
		if err == nil {
			err = os.MkdirAll(filepath.Dir(dst), 0755)
		}
		if err != nil {
			result = Result{Src: src, Dst: dst, Err: fmt.Errorf("unable to create the destination directory: %w", err)}
		} else {
			result = r.process(src, dst, op.JSON)
		}
		select {
		case <-done:
			return
		case res <- result:
		}
	}
}

// destPath returns the output file of src, found under root, in op.Dst.
func destPath(root, src string, op *Ops) (string, error) {
	rel, err := filepath.Rel(root, src)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(op.Dst, rel)
	if op.JSON {
		dst = strings.TrimSuffix(dst, filepath.Ext(dst)) + ".json"
	}
	return dst, nil
}

// process runs the detection over a single file. The destination is removed on failure.
func (r *Runner) process(in, out string, asJSON bool) Result {
	res := Result{Src: in, Dst: out}

	src, dst, err := pathToFile(in, out)
	if err != nil {
		res.Err = err
		return res
	}
	if f, ok := src.(*os.File); ok && f != os.Stdin {
		defer f.Close()
	}

	report, err := r.Process(src, dst, filepath.Ext(out), asJSON)
	res.Count = len(report.Detections)

	if f, ok := dst.(*os.File); ok && f != os.Stdout {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out)
		}
	}
	res.Err = err
	return res
}

func (r *Runner) report(res Result) {
	if res.Err != nil {
		logger.L().Debug("detection failed", zap.String("src", res.Src), zap.Error(res.Err))
	} else {
		logger.L().Debug("detection saved", zap.String("src", res.Src),
			zap.String("dst", res.Dst), zap.Int("detections", res.Count))
	}
	if r.Status != nil {
		r.Status(res)
	}
}

// pathToFile converts the source and destination paths to readable and writable files.
func pathToFile(in, out string) (io.Reader, io.Writer, error) {
	var (
		src io.Reader
		dst io.Writer
		err error
	)
	if in == PipeName {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, nil, errors.New("`-` should be used with a pipe for stdin")
		}
		src = os.Stdin
	} else {
		src, err = os.Open(in)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open the source file: %w", err)
		}
	}

	if out == PipeName {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			if f, ok := src.(*os.File); ok && f != os.Stdin {
				f.Close()
			}
			return nil, nil, errors.New("`-` should be used with a pipe for stdout")
		}
		dst = os.Stdout
	} else {
		dst, err = os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			if f, ok := src.(*os.File); ok && f != os.Stdin {
				f.Close()
			}
			return nil, nil, fmt.Errorf("unable to create the destination file: %w", err)
		}
	}
	return src, dst, nil
}

// walkDir starts a new goroutine to walk the specified directory tree
// in recursive manner and sends the path of each image file to a new channel.
// The skip directory, usually the destination, is not entered.
// It finishes in case the done channel is getting closed.
func walkDir(done <-chan any, src, skip string, srcExts []string) (<-chan string, <-chan error) {
	pathChan := make(chan string)
	errChan := make(chan error, 1)
	skipAbs, skipErr := filepath.Abs(skip)

	go func() {
		// Close the paths channel after Walk returns.
		defer close(pathChan)

		errChan <- filepath.Walk(src, func(path string, f os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if f.IsDir() && path != src && skip != "" && skipErr == nil {
				if abs, err := filepath.Abs(path); err == nil && abs == skipAbs {
					return filepath.SkipDir
				}
			}
			if !f.Mode().IsRegular() || !isValidExtension(strings.ToLower(filepath.Ext(f.Name())), srcExts) {
				return nil
			}
			select {
			case <-done:
				return errors.New("directory walk cancelled")
			case pathChan <- path:
			}
			return nil
		})
	}()
	return pathChan, errChan
}

// isValidExtension checks for the supported extensions.
func isValidExtension(ext string, extensions []string) bool {
	for _, ex := range extensions {
		if ex == ext {
			return true
		}
	}
	return false
}
