package server

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/buddywatch/buddywatch/server/notify"
	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

//go:embed www
var staticWWW embed.FS

// The control API is only expected to be reachable from the local machine or LAN
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func (s *Server) setupHttpRoutes() error {
	logEveryRequest := os.Getenv("BUDDYWATCH_LOG_REQUESTS") == "1"
	router := httprouter.New()

	handle := func(method, route string, h httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP %v %v", method, r.URL.Path)
			}
			h(w, r, params)
		})
	}

	// loggedIn creates a handler that fails with 403 until the session has a user
	loggedIn := func(method, route string, h httprouter.Handle) {
		handle(method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if !s.session.Info().LoggedIn {
				www.PanicForbiddenf("Not logged in")
			}
			h(w, r, params)
		})
	}

	// Each rate limited route gets its own limiter, keyed by IP
	ratelimited := func(method, route string, h httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		handle(method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)
	handle("GET", "/api/system/info", s.httpSystemInfo)

	ratelimited("POST", "/api/auth/login", s.httpAuthLogin, 10, time.Minute)
	ratelimited("POST", "/api/auth/register", s.httpAuthRegister, 5, time.Minute)
	handle("POST", "/api/auth/logout", s.httpAuthLogout)
	handle("GET", "/api/auth/info", s.httpAuthInfo)

	handle("GET", "/api/status", s.httpStatus)
	handle("POST", "/api/surveillance/toggle", s.httpToggleSurveillance)
	handle("POST", "/api/autorecord/toggle", s.httpToggleAutoRecord)
	handle("POST", "/api/recording/start", s.httpRecordingStart)
	handle("POST", "/api/recording/stop", s.httpRecordingStop)
	ratelimited("POST", "/api/capture", s.httpCapture, 60, time.Minute)
	handle("GET", "/api/overlay.png", s.httpOverlayPNG)
	handle("POST", "/api/overlay/threshold", s.httpSetDrawThreshold)
	handle("GET", "/api/notices", s.httpNotices)
	handle("GET", "/api/ws", s.httpWebSocket)

	handle("GET", "/api/recordings", s.httpRecordingsList)
	handle("POST", "/api/recordings/:id/retry", s.httpRecordingRetry)
	handle("GET", "/api/recordings/:id/download", s.httpRecordingDownload)

	loggedIn("GET", "/api/videos", s.httpVideosList)
	loggedIn("DELETE", "/api/videos/:id", s.httpVideoDelete)
	loggedIn("GET", "/api/videos/:id/download", s.httpVideoDownload)

	metricsHandler := s.metrics.Handler()
	handle("GET", "/metrics", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		metricsHandler.ServeHTTP(w, r)
	})

	isImmutable := true
	var fsys fs.FS
	fsysRoot := "www"
	fsys = staticWWW
	if s.HotReloadWWW {
		relRoot := "server/www"
		absRoot, err := filepath.Abs(relRoot)
		if err != nil {
			s.Log.Errorf("Failed to resolve static file directory %v: %v", relRoot, err)
			return errors.New("Failed to resolve static file directory for hot reload")
		}
		s.Log.Infof("Serving static files from %v, with hot reload", absRoot)
		fsys = os.DirFS(absRoot)
		fsysRoot = ""
		isImmutable = false
	}

	static, err := staticfiles.NewCachedStaticFileServer(fsys, fsysRoot, []string{"/api/", "/metrics"}, s.Log, isImmutable, nil)
	if err != nil {
		s.Log.Warnf("Error in static files: %v", err)
	} else {
		router.NotFound = static
	}

	s.httpRouter = router
	return nil
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendText(w, "pong")
}

func (s *Server) httpNotices(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.hub.Recent())
}

func (s *Server) httpWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		s.Log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	notify.RunWebSocketStreamer(s.Log, conn, s.hub)
}
