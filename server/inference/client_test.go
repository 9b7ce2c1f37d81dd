package inference

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func predictServer(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(logs.NewTestingLog(t), srv.URL, time.Second)
}

func requireReason(t *testing.T, err error, reason Reason) {
	var iErr *Error
	require.True(t, errors.As(err, &iErr), "expected *inference.Error, got %v", err)
	require.Equal(t, reason, iErr.Reason)
}

func TestPredictSuccess(t *testing.T) {
	c := predictServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/predict/", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		f, _, err := r.FormFile("image")
		require.NoError(t, err)
		b, _ := io.ReadAll(f)
		require.Equal(t, []byte("jpegdata"), b)
		w.Write([]byte(`{"success": true, "prediction": {"bbox": [0.1, 0.2, 0.5, 0.6], "confidence": 0.93}}`))
	})
	det, err := c.Predict(context.Background(), "tok", []byte("jpegdata"))
	require.NoError(t, err)
	require.True(t, det.Success)
	require.Equal(t, 0.93, det.Confidence)
	require.Equal(t, 0.5, det.Box.XMax())
}

func TestPredictFailureReasons(t *testing.T) {
	c := predictServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "error": "no person"}`))
	})
	_, err := c.Predict(context.Background(), "", []byte("x"))
	requireReason(t, err, ReasonUnsuccessful)

	c = predictServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err = c.Predict(context.Background(), "", []byte("x"))
	requireReason(t, err, ReasonHTTPStatus)
	var iErr *Error
	errors.As(err, &iErr)
	require.Equal(t, 500, iErr.StatusCode)

	c = predictServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "prediction": {"bbox": [0.1, 0.2], "confidence": 0.9}}`))
	})
	_, err = c.Predict(context.Background(), "", []byte("x"))
	requireReason(t, err, ReasonDecode)

	c = predictServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	})
	_, err = c.Predict(context.Background(), "", []byte("x"))
	requireReason(t, err, ReasonDecode)
}

func TestPredictTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	c := predictServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})
	c.timeout = 50 * time.Millisecond
	_, err := c.Predict(context.Background(), "", []byte("x"))
	requireReason(t, err, ReasonTimeout)
}

func TestPredictNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := NewClient(logs.NewTestingLog(t), url, time.Second)
	_, err := c.Predict(context.Background(), "", []byte("x"))
	requireReason(t, err, ReasonNetwork)
}

func TestPredictEmptyFrame(t *testing.T) {
	called := false
	c := predictServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	_, err := c.Predict(context.Background(), "tok", nil)
	requireReason(t, err, ReasonNoFrame)
	require.False(t, called)
}
