// Package server exposes a cascade classifier over HTTP.
//
//	GET  /api/ping     liveness probe
//	GET  /api/cascade  description of the loaded cascade
//	POST /api/detect   multipart image upload, answered with the JSON report
//	                   or, with annotate=true, the annotated PNG image
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/esimov/objdetect"
	"github.com/esimov/objdetect/logger"
	"github.com/esimov/objdetect/utils"
)

const (
	// maxUploadSize bounds the in-memory part of a multipart upload.
	maxUploadSize = 32 << 20

	requestIDHeader = "X-Request-Id"
	shutdownTimeout = 5 * time.Second
)

// Server answers detection requests with a single shared classifier.
type Server struct {
	classifier *objdetect.Classifier
	options    objdetect.Options
	marker     objdetect.Marker
	engine     *gin.Engine
}

// detectParams overrides the default detection options for one request.
type detectParams struct {
	ScaleFactor  *float64 `form:"scaleFactor"`
	MinNeighbors *int     `form:"minNeighbors"`
	MinSize      string   `form:"minSize"`
	MaxSize      string   `form:"maxSize"`
	Annotate     bool     `form:"annotate"`
}

// New returns a server detecting with c. opts are the defaults of every request.
func New(c *objdetect.Classifier, opts objdetect.Options) *Server {
	s := &Server{
		classifier: c,
		options:    opts,
		marker:     objdetect.DefaultMarker(),
	}

	r := gin.New()
	r.MaxMultipartMemory = maxUploadSize
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/cascade", s.cascadeInfo)
	r.POST("/api/detect", s.detect)

	s.engine = r
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errc := make(chan error, 1)
	go func() {
		logger.L().Info("server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) cascadeInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"featureType": s.classifier.FeatureType().String(),
		"window":      utils.FormatSize(s.classifier.OriginalWindowSize()),
		"oldFormat":   s.classifier.IsOldFormat(),
		"device":      s.classifier.DeviceEnabled(),
		"options":     s.options,
	})
}

func (s *Server) detect(c *gin.Context) {
	id := c.GetString(requestIDHeader)
	fail := func(status int, err error) {
		logger.L().Debug("detect request failed", zap.String("id", id), zap.Int("status", status), zap.Error(err))
		c.JSON(status, gin.H{"id": id, "error": err.Error()})
	}

	var params detectParams
	if err := c.ShouldBind(&params); err != nil {
		fail(http.StatusBadRequest, err)
		return
	}
	opts, err := s.requestOptions(params)
	if err != nil {
		fail(http.StatusBadRequest, err)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		fail(http.StatusBadRequest, fmt.Errorf("file upload failed: %w", err))
		return
	}
	f, err := file.Open()
	if err != nil {
		fail(http.StatusBadRequest, fmt.Errorf("file upload failed: %w", err))
		return
	}
	defer f.Close()

	img, err := objdetect.DecodeImage(f)
	if err != nil {
		fail(http.StatusUnsupportedMediaType, err)
		return
	}

	runner := &objdetect.Runner{Classifier: s.classifier, Options: opts, Marker: s.marker}
	start := time.Now()
	report, err := runner.Detect(img)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, objdetect.ErrInvalidOptions) {
			status = http.StatusBadRequest
		}
		fail(status, err)
		return
	}
	report.ID = id
	report.Source = file.Filename
	logger.L().Info("detect request done", zap.String("id", id), zap.String("file", file.Filename),
		zap.Int("detections", len(report.Detections)), zap.Duration("elapsed", time.Since(start)))

	if params.Annotate {
		c.Status(http.StatusOK)
		c.Header("Content-Type", "image/png")
		if err := objdetect.EncodeImageAs(c.Writer, objdetect.Annotate(img, report.Rects(), s.marker), ".png"); err != nil {
			logger.L().Warn("could not encode the annotated image", zap.String("id", id), zap.Error(err))
		}
		return
	}
	c.JSON(http.StatusOK, report)
}

// requestOptions applies the request parameters over the server defaults.
func (s *Server) requestOptions(p detectParams) (objdetect.Options, error) {
	opts := s.options
	if p.ScaleFactor != nil {
		opts.ScaleFactor = *p.ScaleFactor
	}
	if p.MinNeighbors != nil {
		opts.MinNeighbors = *p.MinNeighbors
	}
	if p.MinSize != "" {
		size, err := utils.ParseSize(p.MinSize)
		if err != nil {
			return opts, err
		}
		opts.MinSize = objdetect.Size{Width: size.X, Height: size.Y}
	}
	if p.MaxSize != "" {
		size, err := utils.ParseSize(p.MaxSize)
		if err != nil {
			return opts, err
		}
		opts.MaxSize = objdetect.Size{Width: size.X, Height: size.Y}
	}
	return opts, opts.Validate()
}

// requestLogger tags every request with an id and logs it once served.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()
		logger.L().Debug("request served",
			zap.String("id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
