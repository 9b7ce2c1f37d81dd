package surveillance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buddywatch/buddywatch/server/camera"
	"github.com/buddywatch/buddywatch/server/config"
	"github.com/buddywatch/buddywatch/server/defs"
	"github.com/buddywatch/buddywatch/server/inference"
	"github.com/buddywatch/buddywatch/server/log"
	"github.com/buddywatch/buddywatch/server/notify"
	"github.com/buddywatch/buddywatch/server/pipeline"
	"github.com/buddywatch/buddywatch/server/recorder"
	"github.com/cyclopcam/logs"
)

var ErrManualWhileAutoRecord = errors.New("Manual recording is not available while auto-record is enabled")
var ErrAutoRecordWhileRecording = errors.New("Auto-record can't be changed while a recording is in progress")
var ErrClosed = errors.New("Surveillance controller is closed")

// Repeated tick failures of the same kind produce at most one log line and notice per interval
const FailureNoticeInterval = 15 * time.Second

// Exports run detached from the controller, with this deadline
const closeExportTimeout = 30 * time.Second

// Exporter hands a finished recording to its destination
type Exporter interface {
	Export(ctx context.Context, art *recorder.Artifact, mode config.ExportMode) error
}

// DetectionPublisher receives every live detection result
type DetectionPublisher interface {
	PublishDetection(det defs.Detection, frameSeq uint64, drawn bool)
}

// OwnerSource names the user that recordings belong to
type OwnerSource interface {
	Username() string
}

type Options struct {
	TickPeriod        time.Duration
	MaxInFlight       int
	ClearOverlayDelay time.Duration
	AutoRecordExport  config.ExportMode // Where auto-recorded clips go
}

// Controller owns the surveillance session: the tick loop, the auto-record policy,
// and the recording lifecycle.
//
// Liveness: every time surveillance is switched on or off, generation is incremented.
// A tick captures the generation when it starts its pipeline run, and the result is
// only applied if the generation is unchanged when the run finishes.
type Controller struct {
	Log        logs.Log
	Detections DetectionPublisher // May be nil

	errLog   *log.Throttled
	pipeline *pipeline.Pipeline
	recorder *recorder.Buffer
	exporter Exporter
	notifier notify.Notifier
	owner    OwnerSource
	opts     Options

	// Background work (in-flight pipeline runs, exports) is tied to this context,
	// which is only cancelled by Close.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	background sync.WaitGroup

	// Serializes operations that start or stop the tick loop, so that we can wait
	// for the old loop to exit without holding 'lock'.
	toggleLock sync.Mutex

	lock            sync.Mutex
	closed          bool
	surveilling     bool
	generation      uint64
	recording       bool // Our view of RecordingState
	recordingByAuto bool // The current recording was started by the auto-record policy
	policy          AutoRecordPolicy
	lastResult      *pipeline.Result
	lastError       string
	cancelLoop      context.CancelFunc
	loopDone        chan bool
	clearTimer      *time.Timer

	activeLoops atomic.Int32
	inFlight    atomic.Int32
}

func NewController(logger logs.Log, p *pipeline.Pipeline, rec *recorder.Buffer, exporter Exporter, notifier notify.Notifier, owner OwnerSource, opts Options) *Controller {
	if opts.TickPeriod <= 0 {
		opts.TickPeriod = 100 * time.Millisecond
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 2
	}
	if opts.AutoRecordExport == "" {
		opts.AutoRecordExport = config.ExportRemoteUpload
	}
	logger = log.NewPrefixLogger(logger, "Surveillance")
	baseCtx, baseCancel := context.WithCancel(context.Background())
	c := &Controller{
		Log:        logger,
		errLog:     log.NewThrottled(logger, FailureNoticeInterval),
		pipeline:   p,
		recorder:   rec,
		exporter:   exporter,
		notifier:   notifier,
		owner:      owner,
		opts:       opts,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		policy:     NewAutoRecordPolicy(),
	}
	return c
}

// ToggleSurveillance switches between Idle and Surveilling, and returns the new state
func (c *Controller) ToggleSurveillance() (bool, error) {
	c.toggleLock.Lock()
	defer c.toggleLock.Unlock()

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return false, ErrClosed
	}
	if !c.surveilling {
		// Never leave an old loop running alongside the new one
		loopDone := c.cancelLoopLocked()
		c.lock.Unlock()
		if loopDone != nil {
			<-loopDone
		}
		c.lock.Lock()
		c.surveilling = true
		c.generation++
		c.lastError = ""
		ctx, cancel := context.WithCancel(c.baseCtx)
		c.cancelLoop = cancel
		c.loopDone = make(chan bool)
		c.activeLoops.Add(1)
		go c.loop(ctx, c.generation, c.loopDone)
		c.lock.Unlock()
		c.Log.Infof("Surveillance on")
		c.notify(notify.KindSurveillanceState, notify.LevelInfo, "Surveillance on")
		return true, nil
	}

	c.surveilling = false
	c.generation++
	loopDone := c.cancelLoopLocked()
	stopAuto := c.recording && c.recordingByAuto
	if stopAuto {
		c.recording = false
		c.recordingByAuto = false
		c.policy.Reset()
	}
	c.scheduleOverlayClearLocked(c.generation)
	c.lock.Unlock()

	if loopDone != nil {
		<-loopDone
	}
	if stopAuto {
		c.stopAndExportInBackground("surveillance stopped")
	}
	c.Log.Infof("Surveillance off")
	c.notify(notify.KindSurveillanceState, notify.LevelInfo, "Surveillance off")
	return false, nil
}

// Cancel the tick loop, if there is one. Idempotent.
// Returns a channel that is closed when the loop has exited.
func (c *Controller) cancelLoopLocked() chan bool {
	if c.cancelLoop == nil {
		return nil
	}
	c.cancelLoop()
	c.cancelLoop = nil
	done := c.loopDone
	c.loopDone = nil
	return done
}

// Clear the overlay after a short delay, so that late results don't leave a box behind.
// If surveillance is switched on again before the delay expires, the clear is skipped.
func (c *Controller) scheduleOverlayClearLocked(gen uint64) {
	if c.clearTimer != nil {
		c.clearTimer.Stop()
	}
	c.clearTimer = time.AfterFunc(c.opts.ClearOverlayDelay, func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		if c.generation == gen && !c.surveilling {
			c.pipeline.Canvas.Clear()
		}
	})
}

func (c *Controller) loop(ctx context.Context, gen uint64, done chan bool) {
	defer close(done)
	defer c.activeLoops.Add(-1)

	ticker := time.NewTicker(c.opts.TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(gen)
		}
	}
}

// Launch a pipeline run, unless too many are already in flight
func (c *Controller) tick(gen uint64) {
	m := c.pipeline.Metrics
	if m != nil {
		m.Ticks.Add(1)
	}
	if int(c.inFlight.Add(1)) > c.opts.MaxInFlight {
		c.inFlight.Add(-1)
		if m != nil {
			m.TicksSkipped.Add(1)
		}
		return
	}
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		defer c.inFlight.Add(-1)
		// The request is not tied to the loop's context: an in-flight request is allowed to
		// complete after surveillance is switched off, and its result is then discarded.
		res, err := c.pipeline.Infer(c.baseCtx)
		c.applyResult(gen, res, err)
	}()
}

func (c *Controller) applyResult(gen uint64, res pipeline.Result, err error) {
	c.lock.Lock()
	if !c.surveilling || c.generation != gen {
		c.lock.Unlock()
		if m := c.pipeline.Metrics; m != nil {
			m.StaleResults.Add(1)
		}
		return
	}

	confidence := 0.0
	if err != nil {
		c.lastError = err.Error()
		var iErr *inference.Error
		// A backend that answers success=false saw nothing, which is a miss for auto-record.
		// Every other failure tells us nothing about the scene.
		if !errors.As(err, &iErr) || iErr.Reason != inference.ReasonUnsuccessful {
			c.lock.Unlock()
			c.tickFailed(err)
			return
		}
	} else {
		c.pipeline.Draw(&res)
		c.lastResult = &res
		c.lastError = ""
		confidence = res.Detection.Confidence
	}

	action := c.policy.Observe(confidence, c.recording, c.surveilling)
	var stopAuto bool
	var startErr error
	switch action {
	case ActionStartRecording:
		startErr = c.recorder.Start(c.pipeline.Source, c.ownerName())
		if startErr == nil {
			c.recording = true
			c.recordingByAuto = true
		}
	case ActionStopRecording:
		c.recording = false
		c.recordingByAuto = false
		stopAuto = true
	}
	c.lock.Unlock()

	if err != nil {
		c.tickFailed(err)
	} else if c.Detections != nil {
		c.Detections.PublishDetection(res.Detection, res.FrameSeq, res.Drawn)
	}

	switch {
	case action == ActionStartRecording && startErr != nil:
		if c.errLog.Errorf("autorecord-start", "Auto-record failed to start: %v", startErr) {
			kind := notify.KindRecordingFailed
			if errors.Is(startErr, camera.ErrNoMediaSource) {
				kind = notify.KindNoMediaSource
			}
			c.notify(kind, notify.LevelError, fmt.Sprintf("Auto-record could not start: %v", startErr))
		}
	case action == ActionStartRecording:
		c.notify(notify.KindRecordingStarted, notify.LevelInfo, fmt.Sprintf("Auto-record started (confidence %.2f)", confidence))
	case stopAuto:
		c.stopAndExportInBackground(fmt.Sprintf("%v consecutive misses", c.policy.MissThreshold))
	}
}

// Surface a tick failure. The loop carries on, and the next tick is a fresh attempt.
func (c *Controller) tickFailed(err error) {
	key := "other"
	var iErr *inference.Error
	if errors.As(err, &iErr) {
		key = string(iErr.Reason)
	} else if errors.Is(err, camera.ErrNoMediaSource) {
		key = "no-media-source"
	}
	if c.errLog.Errorf(key, "Tick failed: %v", err) {
		c.notifyFailure(err)
	}
}

func (c *Controller) notifyFailure(err error) {
	if errors.Is(err, camera.ErrNoMediaSource) {
		c.notify(notify.KindNoMediaSource, notify.LevelError, err.Error())
		return
	}
	var iErr *inference.Error
	if errors.As(err, &iErr) && iErr.Reason == inference.ReasonAuth {
		c.notify(notify.KindAuthExpired, notify.LevelError, err.Error())
		return
	}
	c.notify(notify.KindInferenceFailed, notify.LevelError, err.Error())
}

func (c *Controller) stopAndExportInBackground(reason string) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		art, err := c.recorder.Stop()
		if err != nil {
			c.Log.Errorf("Failed to stop auto-recording: %v", err)
			return
		}
		c.notify(notify.KindRecordingStopped, notify.LevelInfo, fmt.Sprintf("Auto-record stopped (%v)", reason))
		c.exportDetached(art)
	}()
}

// Exports must survive Close, so they get their own deadline instead of baseCtx
func (c *Controller) exportDetached(art *recorder.Artifact) {
	ctx, cancel := context.WithTimeout(context.Background(), closeExportTimeout)
	defer cancel()
	if err := c.exporter.Export(ctx, art, c.opts.AutoRecordExport); err != nil {
		c.Log.Errorf("Export of %v failed: %v", art.Filename(), err)
	}
}

// ToggleAutoRecord flips the auto-record policy, and returns the new state.
// Rejected while a recording is in progress.
func (c *Controller) ToggleAutoRecord() (bool, error) {
	c.lock.Lock()
	if c.recording {
		enabled := c.policy.Enabled
		c.lock.Unlock()
		c.rejected(ErrAutoRecordWhileRecording)
		return enabled, ErrAutoRecordWhileRecording
	}
	c.policy.Enabled = !c.policy.Enabled
	c.policy.Reset()
	enabled := c.policy.Enabled
	c.lock.Unlock()
	c.Log.Infof("Auto-record %v", onOff(enabled))
	return enabled, nil
}

// StartRecordingManual starts a recording, whether or not surveillance is on.
// Rejected while auto-record is enabled.
func (c *Controller) StartRecordingManual() error {
	err := c.startRecordingManual()
	if errors.Is(err, ErrManualWhileAutoRecord) {
		c.rejected(err)
	}
	return err
}

func (c *Controller) startRecordingManual() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.policy.Enabled {
		return ErrManualWhileAutoRecord
	}
	if c.recording {
		return recorder.ErrAlreadyRecording
	}
	if err := c.recorder.Start(c.pipeline.Source, c.ownerName()); err != nil {
		return err
	}
	c.recording = true
	c.recordingByAuto = false
	return nil
}

// StopRecordingManual stops the recording and exports it.
// If the export fails, the artifact is returned along with the error, and it remains
// available for a retry.
func (c *Controller) StopRecordingManual(ctx context.Context, mode config.ExportMode) (*recorder.Artifact, error) {
	c.lock.Lock()
	if c.policy.Enabled {
		c.lock.Unlock()
		c.rejected(ErrManualWhileAutoRecord)
		return nil, ErrManualWhileAutoRecord
	}
	if !c.recording {
		c.lock.Unlock()
		return nil, recorder.ErrNotRecording
	}
	c.recording = false
	c.lock.Unlock()

	art, err := c.recorder.Stop()
	if err != nil {
		return nil, err
	}
	return art, c.exporter.Export(ctx, art, mode)
}

// CaptureOnce runs a single capture, infer, draw cycle, regardless of whether surveillance is on.
// A failure produces exactly one notice.
func (c *Controller) CaptureOnce(ctx context.Context) (pipeline.Result, error) {
	res, err := c.pipeline.RunOnce(ctx)
	if err != nil {
		c.Log.Errorf("Capture failed: %v", err)
		c.notifyFailure(err)
		return res, err
	}
	c.lock.Lock()
	c.lastResult = &res
	c.lock.Unlock()
	if c.Detections != nil {
		c.Detections.PublishDetection(res.Detection, res.FrameSeq, res.Drawn)
	}
	return res, nil
}

// SetDrawThreshold tunes the overlay, and returns the value that was actually applied
func (c *Controller) SetDrawThreshold(v float64) float64 {
	return c.pipeline.Canvas.SetThreshold(v)
}

type Status struct {
	Surveilling     bool              `json:"surveilling"`
	Recording       bool              `json:"recording"`
	RecordingByAuto bool              `json:"recordingByAuto"`
	AutoRecord      bool              `json:"autoRecord"`
	MissStreak      int               `json:"missStreak"`
	Generation      uint64            `json:"generation"`
	ActiveLoops     int               `json:"activeLoops"`
	InFlight        int               `json:"inFlight"`
	DrawThreshold   float64           `json:"drawThreshold"`
	CameraActive    bool              `json:"cameraActive"`
	LastResult      *pipeline.Result  `json:"lastResult,omitempty"`
	LastError       string            `json:"lastError,omitempty"`
	Progress        recorder.Progress `json:"progress"`
}

func (c *Controller) Status() Status {
	c.lock.Lock()
	s := Status{
		Surveilling:     c.surveilling,
		Recording:       c.recording,
		RecordingByAuto: c.recordingByAuto,
		AutoRecord:      c.policy.Enabled,
		MissStreak:      c.policy.MissStreak,
		Generation:      c.generation,
		LastResult:      c.lastResult,
		LastError:       c.lastError,
	}
	c.lock.Unlock()
	s.ActiveLoops = c.ActiveLoops()
	s.InFlight = int(c.inFlight.Load())
	s.DrawThreshold = c.pipeline.Canvas.Threshold()
	s.CameraActive = c.pipeline.Source.Active()
	s.Progress = c.recorder.Progress()
	return s
}

func (c *Controller) IsSurveilling() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.surveilling
}

func (c *Controller) IsRecording() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.recording
}

// ActiveLoops is the number of tick loops currently running. Never more than 1.
func (c *Controller) ActiveLoops() int {
	return int(c.activeLoops.Load())
}

// Close stops surveillance, aborts in-flight requests, and exports any recording in progress
// using the auto-record export mode. Safe to call more than once.
func (c *Controller) Close() {
	c.toggleLock.Lock()
	defer c.toggleLock.Unlock()

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return
	}
	c.closed = true
	c.surveilling = false
	c.generation++
	loopDone := c.cancelLoopLocked()
	if c.clearTimer != nil {
		c.clearTimer.Stop()
	}
	wasRecording := c.recording
	c.recording = false
	c.recordingByAuto = false
	c.lock.Unlock()

	if loopDone != nil {
		<-loopDone
	}
	c.baseCancel()

	if wasRecording {
		if art, err := c.recorder.Stop(); err == nil {
			c.exportDetached(art)
		}
	}
	c.background.Wait()
	c.Log.Infof("Closed")
}

func (c *Controller) ownerName() string {
	if c.owner == nil {
		return ""
	}
	return c.owner.Username()
}

func (c *Controller) notify(kind notify.Kind, level notify.Level, msg string) {
	if c.notifier != nil {
		c.notifier.Notify(notify.Notice{Kind: kind, Level: level, Message: msg})
	}
}

// A control request that conflicts with the current mode is also reported to the user
func (c *Controller) rejected(err error) {
	c.Log.Infof("Rejected: %v", err)
	c.notify(notify.KindRejected, notify.LevelWarn, err.Error())
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
