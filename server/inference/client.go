package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/buddywatch/buddywatch/server/defs"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/www"
)

// Predictor submits a frame to a detection backend
type Predictor interface {
	Predict(ctx context.Context, token string, jpeg []byte) (defs.Detection, error)
}

// Client talks to the remote object detection API
type Client struct {
	Log     logs.Log
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// SYNC-PREDICT-RESPONSE-JSON
type predictResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Prediction *struct {
		BBox       []float64 `json:"bbox"`
		Confidence float64   `json:"confidence"`
	} `json:"prediction"`
}

func NewClient(log logs.Log, baseURL string, timeout time.Duration) *Client {
	return &Client{
		Log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Predict posts the JPEG as the multipart field "image", and parses the detection.
// Every failure mode is returned as an *Error, with a Reason.
func (c *Client) Predict(ctx context.Context, token string, jpeg []byte) (defs.Detection, error) {
	if len(jpeg) == 0 {
		return defs.Detection{}, newError(ReasonNoFrame, errors.New("empty frame"))
	}
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return defs.Detection{}, newError(ReasonEncode, err)
	}
	if _, err := part.Write(jpeg); err != nil {
		return defs.Detection{}, newError(ReasonEncode, err)
	}
	if err := mw.Close(); err != nil {
		return defs.Detection{}, newError(ReasonEncode, err)
	}

	if c.timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/predict/", body)
	if err != nil {
		return defs.Detection{}, newError(ReasonEncode, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return defs.Detection{}, newError(ReasonTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return defs.Detection{}, newError(ReasonCanceled, err)
		}
		return defs.Detection{}, newError(ReasonNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := resp.StatusCode
		return defs.Detection{}, &Error{
			Reason:     ReasonHTTPStatus,
			StatusCode: status,
			Err:        errors.New(www.FailedRequestSummary(resp, nil)),
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return defs.Detection{}, newError(ReasonNetwork, err)
	}
	return parseResponse(raw)
}

func parseResponse(raw []byte) (defs.Detection, error) {
	r := predictResponse{}
	if err := json.Unmarshal(raw, &r); err != nil {
		return defs.Detection{}, newError(ReasonDecode, err)
	}
	if !r.Success {
		msg := r.Error
		if msg == "" {
			msg = "backend reported success=false"
		}
		return defs.Detection{}, newError(ReasonUnsuccessful, errors.New(msg))
	}
	if r.Prediction == nil {
		return defs.Detection{}, newError(ReasonDecode, errors.New("response has no prediction"))
	}
	if len(r.Prediction.BBox) != 4 {
		return defs.Detection{}, newError(ReasonDecode, fmt.Errorf("bbox has %v elements, expected 4", len(r.Prediction.BBox)))
	}
	det := defs.Detection{
		Success:    true,
		Confidence: r.Prediction.Confidence,
	}
	copy(det.Box[:], r.Prediction.BBox)
	if !det.Box.Valid() {
		return defs.Detection{}, newError(ReasonDecode, fmt.Errorf("bbox %v is not normalized", det.Box))
	}
	return det, nil
}
