package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esimov/objdetect"
	"github.com/esimov/objdetect/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// blockCascade responds to a bright square in the middle of a 12x12 window.
func blockCascade(t *testing.T) *objdetect.Classifier {
	d := &model.Description{
		StageType:   "BOOST",
		FeatureType: "HAAR",
		Width:       12,
		Height:      12,
		Stages: []model.StageDesc{
			{Threshold: 0.5, Weak: []model.WeakDesc{
				{InternalNodes: []float64{0, -1, 0, 0.5}, LeafValues: []float64{-1, 1}},
			}},
			{Threshold: 0.5, Weak: []model.WeakDesc{
				{InternalNodes: []float64{0, -1, 1, 0.1}, LeafValues: []float64{1, -1}},
			}},
		},
		Features: []model.FeatureDesc{
			{Rects: []model.RectDesc{
				{X: 0, Y: 0, Width: 12, Height: 12, Weight: -1},
				{X: 3, Y: 3, Width: 6, Height: 6, Weight: 4},
			}},
			{Rects: []model.RectDesc{
				{X: 3, Y: 3, Width: 6, Height: 3, Weight: 1},
				{X: 3, Y: 6, Width: 6, Height: 3, Weight: -1},
			}},
		},
	}
	m, err := model.Build(d)
	require.NoError(t, err)
	return objdetect.NewClassifier(m)
}

func blockPNG(t *testing.T) []byte {
	img := image.NewGray(image.Rect(0, 0, 48, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			v := uint8(20)
			if x >= 19 && x < 25 && y >= 19 && y < 25 {
				v = 230
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newServer(t *testing.T) *Server {
	opts := objdetect.DefaultOptions()
	opts.MinNeighbors = 0
	return New(blockCascade(t), opts)
}

func uploadRequest(t *testing.T, file []byte, fields map[string]string) *http.Request {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		fw, err := w.CreateFormFile("file", "block.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/detect", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestServer_Ping(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(t).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"pong"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestServer_CascadeInfo(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(t).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cascade", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info struct {
		FeatureType string            `json:"featureType"`
		Window      string            `json:"window"`
		OldFormat   bool              `json:"oldFormat"`
		Options     objdetect.Options `json:"options"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "12x12", info.Window)
	assert.False(t, info.OldFormat)
	assert.NotEmpty(t, info.FeatureType)
	assert.Equal(t, 1.1, info.Options.ScaleFactor)
}

func TestServer_Detect(t *testing.T) {
	s := newServer(t)
	req := uploadRequest(t, blockPNG(t), nil)
	req.Header.Set(requestIDHeader, "req-1")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report objdetect.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "req-1", report.ID)
	assert.Equal(t, "block.png", report.Source)
	assert.Equal(t, 48, report.Width)
	assert.Contains(t, report.Rects(), image.Rect(16, 16, 28, 28))
}

func TestServer_DetectAnnotated(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(t).Handler().ServeHTTP(rec, uploadRequest(t, blockPNG(t), map[string]string{"annotate": "true"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 48, 48), img.Bounds())
}

func TestServer_DetectParams(t *testing.T) {
	s := newServer(t)

	// windows above the block size only
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, blockPNG(t), map[string]string{"minSize": "30", "minNeighbors": "0"}))
	require.Equal(t, http.StatusOK, rec.Code)
	var report objdetect.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	for _, d := range report.Detections {
		assert.GreaterOrEqual(t, d.Width, 30)
	}
}

func TestServer_DetectErrors(t *testing.T) {
	testCases := []struct {
		name   string
		file   []byte
		fields map[string]string
		status int
	}{
		{name: "missing file", status: http.StatusBadRequest},
		{name: "not an image", file: []byte("hello"), status: http.StatusUnsupportedMediaType},
		{name: "bad scale factor", file: []byte("x"), fields: map[string]string{"scaleFactor": "0.5"}, status: http.StatusBadRequest},
		{name: "unparsable scale factor", file: []byte("x"), fields: map[string]string{"scaleFactor": "big"}, status: http.StatusBadRequest},
		{name: "bad size", file: []byte("x"), fields: map[string]string{"maxSize": "10xfoo"}, status: http.StatusBadRequest},
	}

	s := newServer(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, uploadRequest(t, tc.file, tc.fields))
			assert.Equal(t, tc.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.Equal(t, rec.Header().Get(requestIDHeader), body["id"])
		})
	}
}
