package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/buddywatch/buddywatch/server/auth"
	"github.com/buddywatch/buddywatch/server/config"
	"github.com/buddywatch/buddywatch/server/notify"
	"github.com/buddywatch/buddywatch/server/videolib"
	"github.com/cyclopcam/logs"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func makeToken(t *testing.T) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

// fakeBackend serves the auth, predict and video library endpoints
func fakeBackend(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token/", func(w http.ResponseWriter, r *http.Request) {
		creds := map[string]string{}
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["password"] != "secret" {
			http.Error(w, `{"detail":"No active account found"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(auth.Tokens{Access: makeToken(t), Refresh: makeToken(t)})
	})
	mux.HandleFunc("/api/predict/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "prediction": {"bbox": [0.1, 0.2, 0.5, 0.6], "confidence": 0.93}}`))
	})
	mux.HandleFunc("/api/videos/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]videolib.Video{{ID: 3, Title: "BuddyWatch clip"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testServer struct {
	t       *testing.T
	server  *Server
	httpSrv *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	backend := fakeBackend(t)
	dir := t.TempDir()
	cfg := &config.Config{
		BackendURL:   backend.URL,
		TickPeriodMS: 20,
		DBPath:       filepath.Join(dir, "clips.sqlite"),
		Camera: config.CameraConfig{
			Kind:   config.CameraKindDemo,
			FFmpeg: filepath.Join(dir, "no-such-ffmpeg"),
			FPS:    20,
		},
		Storage: config.StorageConfig{
			Filesystem: &config.StorageConfigFS{Root: filepath.Join(dir, "recordings")},
		},
	}
	cfg.ApplyDefaults()
	s, err := NewServer(logs.NewTestingLog(t), cfg, false)
	require.NoError(t, err)
	httpSrv := httptest.NewServer(s.httpRouter)
	t.Cleanup(func() {
		httpSrv.Close()
		s.Shutdown()
	})
	// Wait for the demo camera to produce its first frame
	require.Eventually(t, s.source.Active, 5*time.Second, 10*time.Millisecond)
	return &testServer{t: t, server: s, httpSrv: httpSrv}
}

func (ts *testServer) do(method, path, body string) (int, string) {
	req, err := http.NewRequest(method, ts.httpSrv.URL+path, strings.NewReader(body))
	require.NoError(ts.t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(raw)
}

func (ts *testServer) status() statusJSON {
	code, body := ts.do("GET", "/api/status", "")
	require.Equal(ts.t, 200, code)
	st := statusJSON{}
	require.NoError(ts.t, json.Unmarshal([]byte(body), &st))
	return st
}

func TestAuthRoutes(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do("GET", "/api/ping", "")
	require.Equal(t, 200, code)

	code, _ = ts.do("POST", "/api/auth/login", `{"username":"alice","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, code)
	require.False(t, ts.status().Session.LoggedIn)

	// Videos require a session
	code, _ = ts.do("GET", "/api/videos", "")
	require.Equal(t, http.StatusForbidden, code)

	code, _ = ts.do("POST", "/api/auth/login", `{"username":"alice","password":"secret"}`)
	require.Equal(t, 200, code)
	st := ts.status()
	require.True(t, st.Session.LoggedIn)
	require.Equal(t, "alice", st.Session.Username)

	code, body := ts.do("GET", "/api/videos", "")
	require.Equal(t, 200, code)
	require.Contains(t, body, "BuddyWatch clip")

	code, _ = ts.do("POST", "/api/auth/logout", "")
	require.Equal(t, 200, code)
	require.False(t, ts.status().Session.LoggedIn)
}

func TestCaptureAndOverlay(t *testing.T) {
	ts := newTestServer(t)

	// Capture without a session fails with a single notice
	code, _ := ts.do("POST", "/api/capture", "")
	require.Equal(t, http.StatusUnauthorized, code)

	ts.do("POST", "/api/auth/login", `{"username":"alice","password":"secret"}`)
	code, body := ts.do("POST", "/api/capture", "")
	require.Equal(t, 200, code, body)
	require.Contains(t, body, `"drawn":true`)

	req, _ := http.NewRequest("GET", ts.httpSrv.URL+"/api/overlay.png", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	code, body = ts.do("POST", "/api/overlay/threshold?value=0.95", "")
	require.Equal(t, 200, code)
	require.Contains(t, body, "0.8")
	code, _ = ts.do("POST", "/api/overlay/threshold?value=abc", "")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestSurveillanceRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.do("POST", "/api/auth/login", `{"username":"alice","password":"secret"}`)

	code, body := ts.do("POST", "/api/surveillance/toggle", "")
	require.Equal(t, 200, code)
	require.Contains(t, body, `"surveilling":true`)
	require.Eventually(t, func() bool {
		st := ts.status()
		return st.LastResult != nil && st.LastResult.Detection.Confidence == 0.93
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, ts.status().ActiveLoops)

	code, body = ts.do("POST", "/api/surveillance/toggle", "")
	require.Equal(t, 200, code)
	require.Contains(t, body, `"surveilling":false`)
	st := ts.status()
	require.False(t, st.Surveilling)
	require.Equal(t, 0, st.ActiveLoops)

	code, _ = ts.do("GET", "/metrics", "")
	require.Equal(t, 200, code)
}

func TestRecordingRoutes(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do("POST", "/api/recording/stop", "")
	require.Equal(t, http.StatusConflict, code)

	code, _ = ts.do("POST", "/api/recording/stop?mode=sideways", "")
	require.Equal(t, http.StatusBadRequest, code)

	// Manual recording is rejected while auto-record is on
	code, _ = ts.do("POST", "/api/autorecord/toggle", "")
	require.Equal(t, 200, code)
	code, _ = ts.do("POST", "/api/recording/start", "")
	require.Equal(t, http.StatusConflict, code)
	ts.do("POST", "/api/autorecord/toggle", "")

	// Without ffmpeg, the demo camera produces no media, so the export is skipped
	code, _ = ts.do("POST", "/api/recording/start", "")
	require.Equal(t, 200, code)
	require.True(t, ts.status().Recording)
	code, _ = ts.do("POST", "/api/recording/start", "")
	require.Equal(t, http.StatusConflict, code)
	code, body := ts.do("POST", "/api/recording/stop?mode=download", "")
	require.Equal(t, 200, code, body)
	require.Contains(t, body, `"exported":false`)

	code, body = ts.do("GET", "/api/notices", "")
	require.Equal(t, 200, code)
	require.Contains(t, body, string(notify.KindNothingRecorded))

	code, body = ts.do("GET", "/api/recordings", "")
	require.Equal(t, 200, code)
	require.Equal(t, "[]", strings.TrimSpace(body))

	code, _ = ts.do("POST", "/api/recordings/999/retry", "")
	require.Equal(t, http.StatusNotFound, code)
	code, _ = ts.do("GET", "/api/recordings/999/download", "")
	require.Equal(t, http.StatusNotFound, code)
}
