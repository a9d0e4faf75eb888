package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/esimov/objdetect"
	"github.com/esimov/objdetect/accel"
	"github.com/esimov/objdetect/imop"
	_ "github.com/esimov/objdetect/legacy/pigocascade"
	"github.com/esimov/objdetect/logger"
	"github.com/esimov/objdetect/utils"
)

const HelpBanner = `
┌─┐┌┐  ┬┌┬┐┌─┐┌┬┐┌─┐┌─┐┌┬┐
│ │├┴┐ │ ││├┤  │ ├┤ │   │
└─┘└─┘└┘─┴┘└─┘ ┴ └─┘└─┘ ┴

Boosted cascade object detector.
    Version: %s

`

// Version indicates the current build version.
var Version string

var (
	// Flags
	source      = flag.String("in", objdetect.PipeName, "Source image, directory or URL")
	destination = flag.String("out", objdetect.PipeName, "Destination image, JSON file or directory")
	cascade     = flag.String("cc", "", "Cascade classifier file or URL")
	configFile  = flag.String("config", "", "YAML configuration file")
	scaleFactor = flag.Float64("scale", 1.1, "Scale factor between two consecutive scales")
	neighbors   = flag.Int("neighbors", 3, "Minimum neighbors of a grouped detection")
	minSize     = flag.String("min", "", "Minimum object size, as WxH")
	maxSize     = flag.String("max", "", "Maximum object size, as WxH")
	resample    = flag.String("resample", "", "Downscaling filter (nearest, box, linear, hermite, catmullrom, lanczos, gaussian)")
	device      = flag.String("device", "", "Offload stump cascades to a device (software, wgsl)")
	asJSON      = flag.Bool("json", false, "Write the detections as JSON")
	shape       = flag.String("marker", string(objdetect.ShapeRect), "Detection marker (rect, circle)")
	markerColor = flag.String("color", "#ff0000", "Detection marker color")
	thickness   = flag.Int("thickness", 2, "Detection marker thickness")
	fillMode    = flag.String("fill", "", "Blend the marker color inside the detections (normal, darken, lighten, multiply, screen, overlay)")
	workers     = flag.Int("conc", 0, "Number of files to process concurrently")
	debug       = flag.Bool("debug", false, "Log the detection of every scale")
)

func main() {
	log.SetFlags(0)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, HelpBanner, Version)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fatal("Invalid configuration: %v", err)
	}
	if cfg.Debug {
		if err := logger.InitDevelopment(); err != nil {
			fatal("Unable to create the logger: %v", err)
		}
		defer logger.Sync()
	}
	if len(cfg.Cascade) == 0 {
		flag.Usage()
		fatal("Please provide a cascade classifier with the -cc flag!")
	}

	if err := registerDevice(*device); err != nil {
		fatal("Unable to initialize the %s device: %v", *device, err)
	}
	defer accel.Unregister()

	classifier, err := loadCascade(cfg.Cascade)
	if err != nil {
		fatal("Failed to load the cascade classifier: %v", err)
	}
	defer classifier.Close()

	marker, err := buildMarker()
	if err != nil {
		fatal("Invalid marker: %v", err)
	}

	spinnerText := fmt.Sprintf("%s %s",
		utils.DecorateText("⚡ OBJDETECT", utils.StatusMessage),
		utils.DecorateText("is detecting objects...", utils.DefaultMessage))
	spinner := utils.NewSpinner(spinnerText, time.Millisecond*200, true)

	// Capture CTRL-C signal and restore the cursor visibility back.
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		spinner.RestoreCursor()
		os.Exit(1)
	}()

	runner := &objdetect.Runner{
		Classifier: classifier,
		Options:    cfg.Detect,
		Marker:     marker,
		Spinner:    spinner,
	}
	var processed int
	runner.Status = func(res objdetect.Result) {
		processed++
		spinner.SetMessage(fmt.Sprintf("%s %s",
			utils.DecorateText("⚡ OBJDETECT", utils.StatusMessage),
			utils.DecorateText(fmt.Sprintf("is detecting objects... %d file(s) done", processed), utils.DefaultMessage)))
		printStatus(res)
	}
	spinner.StopMsg = fmt.Sprintf("%s %s\n",
		utils.DecorateText("⚡ OBJDETECT", utils.StatusMessage),
		utils.DecorateText("is detecting objects... ✔", utils.DefaultMessage))

	now := time.Now()
	err = runner.Execute(&objdetect.Ops{
		Src:     *source,
		Dst:     *destination,
		Workers: *workers,
		JSON:    *asJSON,
	})
	if err != nil {
		fatal("Detection failed: %v", err)
	}
	fmt.Fprintf(os.Stderr, "\nExecution time: %s\n", utils.DecorateText(utils.FormatTime(time.Since(now)), utils.SuccessMessage))
}

// loadConfig reads the configuration file, if any, and applies the flags given explicitly over it.
func loadConfig() (*objdetect.Config, error) {
	cfg := objdetect.DefaultConfig()
	if *configFile != "" {
		c, err := objdetect.LoadConfig(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = *c
	}

	var err error
	flag.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "cc":
			cfg.Cascade = *cascade
		case "scale":
			cfg.Detect.ScaleFactor = *scaleFactor
		case "neighbors":
			cfg.Detect.MinNeighbors = *neighbors
		case "min":
			err = cfg.Detect.MinSize.UnmarshalText([]byte(*minSize))
		case "max":
			err = cfg.Detect.MaxSize.UnmarshalText([]byte(*maxSize))
		case "resample":
			cfg.Detect.Resample = *resample
		case "debug":
			cfg.Debug = *debug
		}
	})
	if err != nil {
		return nil, err
	}
	return &cfg, cfg.Detect.Validate()
}

// loadCascade loads the cascade from a local file or downloads it first.
func loadCascade(path string) (*objdetect.Classifier, error) {
	if !utils.IsValidUrl(path) {
		return objdetect.Load(path)
	}
	f, err := utils.DownloadFile(path, "cascade*"+filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	f.Close()
	return objdetect.Load(f.Name())
}

func registerDevice(name string) error {
	switch strings.ToLower(name) {
	case "":
		return nil
	case "software":
		return accel.Register(accel.NewSoftwareDevice(0))
	case "wgsl":
		return accel.Register(accel.NewShaderDevice(0))
	}
	return fmt.Errorf("unknown device %q", name)
}

func buildMarker() (objdetect.Marker, error) {
	c, err := utils.HexToRGBA(*markerColor)
	if err != nil {
		return objdetect.Marker{}, err
	}
	mk := objdetect.Marker{Shape: objdetect.ShapeType(*shape), Color: c, Thickness: *thickness}
	if *fillMode != "" {
		if mk.Fill, err = imop.ParseMode(*fillMode); err != nil {
			return mk, err
		}
	}
	switch mk.Shape {
	case objdetect.ShapeRect, objdetect.ShapeCircle:
	default:
		return mk, fmt.Errorf("unknown marker shape %q", *shape)
	}
	return mk, nil
}

// printStatus displays the relevant information about a processed file.
func printStatus(res objdetect.Result) {
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "\n%s%s",
			utils.DecorateText(fmt.Sprintf("Error processing %s", filepath.Base(res.Src)), utils.ErrorMessage),
			utils.DecorateText(fmt.Sprintf("\n\tReason: %v\n", res.Err), utils.DefaultMessage),
		)
		return
	}
	if res.Dst != objdetect.PipeName {
		fmt.Fprintf(os.Stderr, "\n%d object(s) detected, saved as: %s %s\n",
			res.Count,
			utils.DecorateText(filepath.Base(res.Dst), utils.SuccessMessage),
			utils.DefaultColor,
		)
	}
}

func fatal(format string, args ...any) {
	log.Fatal(utils.DecorateText(fmt.Sprintf("\n"+format, args...), utils.ErrorMessage))
}
