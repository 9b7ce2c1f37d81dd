package pipeline

import (
	"context"
	"time"

	"github.com/buddywatch/buddywatch/server/camera"
	"github.com/buddywatch/buddywatch/server/defs"
	"github.com/buddywatch/buddywatch/server/inference"
	"github.com/buddywatch/buddywatch/server/metrics"
	"github.com/buddywatch/buddywatch/server/overlay"
)

// TokenSource supplies the bearer token for the inference backend
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Result of one capture -> infer cycle
type Result struct {
	Detection  defs.Detection `json:"detection"`
	FrameSeq   uint64         `json:"frameSeq"`
	CapturedAt time.Time      `json:"capturedAt"`
	Latency    time.Duration  `json:"latency"` // Time spent waiting for the backend
	Drawn      bool           `json:"drawn"`   // True if the detection was drawn on the overlay
}

// Pipeline is the per-tick unit of work: capture the latest frame, send it to the
// detection backend, and draw the result.
type Pipeline struct {
	Source    camera.Source
	Predictor inference.Predictor
	Tokens    TokenSource
	Canvas    *overlay.Canvas
	Metrics   *metrics.Metrics // May be nil
}

// Infer captures the most recent frame and submits it for detection, without drawing.
// Camera absence returns camera.ErrNoMediaSource. Every other failure is an *inference.Error.
func (p *Pipeline) Infer(ctx context.Context) (Result, error) {
	frame, err := p.Source.LatestFrame()
	if err != nil {
		return Result{}, err
	}
	token, err := p.Tokens.AccessToken(ctx)
	if err != nil {
		return Result{}, inference.NewError(inference.ReasonAuth, err)
	}

	start := time.Now()
	det, err := p.Predictor.Predict(ctx, token, frame.JPEG)
	latency := time.Since(start)
	if p.Metrics != nil {
		p.Metrics.ObserveInference(latency, err)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{
		Detection:  det,
		FrameSeq:   frame.Seq,
		CapturedAt: frame.At,
		Latency:    latency,
	}, nil
}

// Draw renders a result on the overlay, and returns true if a box was drawn
func (p *Pipeline) Draw(res *Result) bool {
	res.Drawn = p.Canvas.Render(res.Detection)
	if res.Drawn && p.Metrics != nil {
		p.Metrics.BoxesDrawn.Add(1)
	}
	return res.Drawn
}

// RunOnce is Infer followed by Draw. On failure, nothing is drawn.
func (p *Pipeline) RunOnce(ctx context.Context) (Result, error) {
	res, err := p.Infer(ctx)
	if err != nil {
		return Result{}, err
	}
	p.Draw(&res)
	return res, nil
}
