package detect

import (
	"context"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/internal/entity"
)

func blankPage(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func newDetectorFor(t *testing.T, h http.HandlerFunc) *HTTPDetector {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	d, err := NewHTTPDetector(srv.URL+"/predict", 5*time.Second, nil)
	require.NoError(t, err)
	return d
}

func TestHTTPDetectorParsesDetections(t *testing.T) {
	d := newDetectorFor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.NotEmpty(t, data)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"detections":[{"label":"Signature","confidence":0.92,"bbox":[10.4,20.6,110.2,80.9]}]}`)
	})

	dets, err := d.Detect(context.Background(), blankPage(200, 200))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, entity.Detection{Label: "Signature", Confidence: 0.92, BBox: entity.BBox{10, 20, 111, 81}}, dets[0])
}

func TestHTTPDetectorErrorClasses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusServiceUnavailable, `{}`, ErrBackendUnavailable},
		{"missing model", http.StatusNotFound, `{}`, ErrSystemic},
		{"bad schema", http.StatusOK, `{"detections":[{"label":"x","confidence":3,"bbox":[1,2,3,4]}]}`, ErrInvalidResponse},
		{"not json", http.StatusOK, `<html>`, ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDetectorFor(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := d.Detect(context.Background(), blankPage(10, 10))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestHTTPDetectorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d, err := NewHTTPDetector(url+"/predict", time.Second, nil)
	require.NoError(t, err)
	_, err = d.Detect(context.Background(), blankPage(10, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendUnavailable))
}

func TestHTTPDetectorProbe(t *testing.T) {
	d := newDetectorFor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusTeapot)
	})
	assert.NoError(t, d.Probe(context.Background()))
}

func TestNewHTTPDetectorRejectsBadURL(t *testing.T) {
	_, err := NewHTTPDetector("not a url", time.Second, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSystemic))
}

func TestRateLimitedDetectorHonoursContext(t *testing.T) {
	d := newDetectorFor(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"detections":[]}`)
	})
	WithRateLimit(0.001)(d)

	_, err := d.Detect(context.Background(), blankPage(5, 5))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = d.Detect(ctx, blankPage(5, 5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendUnavailable))
}
