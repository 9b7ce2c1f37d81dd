package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/buddywatch/buddywatch/pkg/storage"
	"github.com/buddywatch/buddywatch/server/auth"
	"github.com/buddywatch/buddywatch/server/camera"
	"github.com/buddywatch/buddywatch/server/cliplog"
	"github.com/buddywatch/buddywatch/server/config"
	"github.com/buddywatch/buddywatch/server/inference"
	"github.com/buddywatch/buddywatch/server/log"
	"github.com/buddywatch/buddywatch/server/metrics"
	"github.com/buddywatch/buddywatch/server/notify"
	"github.com/buddywatch/buddywatch/server/overlay"
	"github.com/buddywatch/buddywatch/server/pipeline"
	"github.com/buddywatch/buddywatch/server/recorder"
	"github.com/buddywatch/buddywatch/server/surveillance"
	"github.com/buddywatch/buddywatch/server/videolib"
	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	HotReloadWWW bool
	Log          logs.Log
	Config       *config.Config
	ShutdownDone chan bool // Closed when Shutdown has finished

	signalIn     chan os.Signal
	shutdownOnce sync.Once
	httpServer   *http.Server
	httpRouter   *httprouter.Router

	session    *auth.Session
	library    *videolib.Client
	source     camera.Source
	stopSource func()
	canvas     *overlay.Canvas
	metrics    *metrics.Metrics
	hub        *notify.Hub
	mqttClient *notify.MQTTClient // nil if MQTT is not configured
	mqttBridge *notify.MQTTBridge
	storage    storage.Storage
	clips      *cliplog.ClipLog
	recorder   *recorder.Buffer
	exporter   *recorder.Exporter
	controller *surveillance.Controller
	startedAt  time.Time
}

// NewServer wires up all of the components described by cfg.
// The camera is started, but surveillance is not.
func NewServer(logger logs.Log, cfg *config.Config, hotReloadWWW bool) (*Server, error) {
	s := &Server{
		HotReloadWWW: hotReloadWWW,
		Log:          logger,
		Config:       cfg,
		ShutdownDone: make(chan bool),
		startedAt:    time.Now(),
	}

	s.metrics = metrics.New()
	s.hub = notify.NewHub(log.NewPrefixLogger(logger, "Notice"), s.metrics)

	s.session = auth.NewSession(log.NewPrefixLogger(logger, "Auth"), cfg.BackendURL)
	s.session.OnExpired = func() {
		s.hub.Notify(notify.Notice{Kind: notify.KindAuthExpired, Level: notify.LevelError, Message: "Your session has expired. Please log in again."})
	}
	s.library = videolib.NewClient(log.NewPrefixLogger(logger, "Library"), cfg.BackendURL)

	var err error
	if s.storage, err = openStorage(logger, &cfg.Storage); err != nil {
		return nil, err
	}
	logger.Infof("Local exports go to %v", s.storage.Describe())

	if s.clips, err = cliplog.NewClipLog(logger, cfg.DBPath); err != nil {
		return nil, err
	}
	if n, err := s.clips.MarkOrphans(); err != nil {
		logger.Warnf("Failed to mark orphaned clips: %v", err)
	} else if n != 0 {
		logger.Infof("%v clips from a previous run can no longer be retried", n)
	}

	if cfg.MQTT != nil {
		s.mqttClient, err = notify.ConnectMQTT(cfg.MQTT)
		if err != nil {
			// Notices still reach the web UI, so this is not fatal
			logger.Errorf("%v", err)
		} else {
			s.mqttBridge = notify.NewMQTTBridge(logger, s.hub, s.mqttClient, cfg.MQTT.Topic)
			s.mqttBridge.Start()
			logger.Infof("Publishing notices to MQTT topic %v/#", cfg.MQTT.Topic)
		}
	}

	if s.source, s.stopSource, err = openSource(logger, &cfg.Camera, cfg.OverlayWidth, cfg.OverlayHeight); err != nil {
		s.closeOpened()
		return nil, err
	}

	s.canvas = overlay.NewCanvas(cfg.OverlayWidth, cfg.OverlayHeight, cfg.DrawThreshold)
	p := &pipeline.Pipeline{
		Source:    s.source,
		Predictor: inference.NewClient(log.NewPrefixLogger(logger, "Inference"), cfg.BackendURL, cfg.InferenceTimeout()),
		Tokens:    s.session,
		Canvas:    s.canvas,
		Metrics:   s.metrics,
	}

	s.recorder = recorder.NewBuffer(log.NewPrefixLogger(logger, "Recorder"), s.metrics)
	s.exporter = recorder.NewExporter(log.NewPrefixLogger(logger, "Export"), s.storage, s.library, s.session, s.hub)
	s.exporter.Clips = s.clips
	s.exporter.Metrics = s.metrics
	s.exporter.MinFreeBytes = uint64(cfg.MinFreeDiskMB) * 1024 * 1024

	s.controller = surveillance.NewController(logger, p, s.recorder, s.exporter, s.hub, s.session, surveillance.Options{
		TickPeriod:        cfg.TickPeriod(),
		MaxInFlight:       cfg.MaxInFlight,
		ClearOverlayDelay: cfg.ClearOverlayDelay(),
		AutoRecordExport:  cfg.AutoRecordExport,
	})
	s.controller.Detections = s.hub
	s.metrics.RegisterState(s.controller.IsSurveilling, s.controller.IsRecording, s.controller.ActiveLoops)

	if err := s.setupHttpRoutes(); err != nil {
		s.closeOpened()
		return nil, err
	}
	return s, nil
}

func openStorage(logger logs.Log, cfg *config.StorageConfig) (storage.Storage, error) {
	switch {
	case cfg.Minio != nil:
		return storage.NewStorageMinio(logger, *cfg.Minio)
	case cfg.GCS != nil:
		return storage.NewStorageGCS(logger, cfg.GCS.Bucket, cfg.GCS.Prefix)
	case cfg.Filesystem != nil:
		return storage.NewStorageFS(logger, cfg.Filesystem.Root)
	}
	return nil, fmt.Errorf("One of the storage options must be configured (i.e. 'filesystem', 'gcs' or 'minio')")
}

// openSource starts the configured camera. The returned function stops it.
func openSource(logger logs.Log, cfg *config.CameraConfig, width, height int) (camera.Source, func(), error) {
	encoder := camera.NewFFmpegEncoder(log.NewPrefixLogger(logger, "ffmpeg"), cfg.FFmpeg, cfg.FPS)
	if err := encoder.Check(); err != nil {
		logger.Warnf("%v", err)
		encoder = nil
	}

	switch cfg.Kind {
	case config.CameraKindMJPEG:
		src := camera.NewMJPEGSource(log.NewPrefixLogger(logger, "Camera"), "camera", cfg.URL, encoder)
		src.Start()
		return src, src.Stop, nil
	case config.CameraKindDir:
		src := camera.NewDirSource(log.NewPrefixLogger(logger, "Camera"), "camera", cfg.Dir, encoder)
		if err := src.Start(); err != nil {
			return nil, nil, err
		}
		return src, src.Stop, nil
	case config.CameraKindDemo:
		src := camera.NewStaticSource("demo")
		if encoder != nil {
			src.UseEncoder(encoder)
		}
		ctx, cancel := context.WithCancel(context.Background())
		go src.RunDemoFrames(ctx, width, height, cfg.FPS)
		logger.Infof("Using synthetic demo camera")
		return src, cancel, nil
	}
	return nil, nil, fmt.Errorf("Unknown camera kind '%v'", cfg.Kind)
}

// LoginAtStartup logs in with the configured credentials, if there are any
func (s *Server) LoginAtStartup(ctx context.Context) {
	a := s.Config.Auth
	if a.Username == "" {
		s.Log.Infof("No credentials configured. Waiting for a login through the control API.")
		return
	}
	if err := s.session.Login(ctx, a.Username, a.Password); err != nil {
		s.Log.Errorf("Login as %v failed: %v", a.Username, err)
		return
	}
	s.Log.Infof("Logged in as %v", a.Username)
}

// addr example: ":8090"
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpRouter,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. Shutting down", sig.String())
			s.Shutdown()
		}
	}()
}

// Shutdown stops surveillance (exporting any recording in progress), and then the HTTP server
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	s.controller.Close()
	s.closeOpened()

	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP server shutdown: %v", err)
		}
	}
	s.Log.Infof("Shutdown complete")
	close(s.ShutdownDone)
}

// Close the things that NewServer may have opened before it failed
func (s *Server) closeOpened() {
	if s.stopSource != nil {
		s.stopSource()
	}
	if s.mqttBridge != nil {
		s.mqttBridge.Stop()
	}
	if s.mqttClient != nil {
		s.mqttClient.Close()
	}
}

// StartSurveillance turns surveillance on, if it is not already on
func (s *Server) StartSurveillance() {
	if s.controller.IsSurveilling() {
		return
	}
	if _, err := s.controller.ToggleSurveillance(); err != nil {
		s.Log.Errorf("Failed to start surveillance: %v", err)
	}
}
