package server

import (
	"net/http"
	"strconv"

	"github.com/buddywatch/buddywatch/server/auth"
	"github.com/buddywatch/buddywatch/server/config"
	"github.com/buddywatch/buddywatch/server/surveillance"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// SYNC-STATUS-JSON
type statusJSON struct {
	surveillance.Status
	Session  auth.Info `json:"session"`
	Retained []int64   `json:"retained"` // IDs of recordings whose export failed, and can be retried
}

// SYNC-STOP-RECORDING-JSON
type stopRecordingJSON struct {
	Exported  bool   `json:"exported"`
	NumChunks int    `json:"numChunks"`
	Size      int64  `json:"size"`
	Filename  string `json:"filename"`
	ClipID    int64  `json:"clipID"` // Zero when nothing was recorded
}

func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, &statusJSON{
		Status:   s.controller.Status(),
		Session:  s.session.Info(),
		Retained: s.exporter.RetainedIDs(),
	})
}

func (s *Server) httpToggleSurveillance(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	on, err := s.controller.ToggleSurveillance()
	if err != nil {
		sendError(w, err)
		return
	}
	www.SendJSON(w, map[string]bool{"surveilling": on})
}

func (s *Server) httpToggleAutoRecord(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	on, err := s.controller.ToggleAutoRecord()
	if err != nil {
		sendError(w, err)
		return
	}
	www.SendJSON(w, map[string]bool{"autoRecord": on})
}

func (s *Server) httpRecordingStart(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if err := s.controller.StartRecordingManual(); err != nil {
		sendError(w, err)
		return
	}
	www.SendOK(w)
}

// parseExportMode reads ?mode=download|upload, defaulting to download
func parseExportMode(r *http.Request) config.ExportMode {
	switch mode := config.ExportMode(www.QueryValue(r, "mode")); mode {
	case "":
		return config.ExportLocalDownload
	case config.ExportLocalDownload, config.ExportRemoteUpload:
		return mode
	default:
		www.PanicBadRequestf("Invalid mode '%v'. Must be 'download' or 'upload'", mode)
	}
	return ""
}

func (s *Server) httpRecordingStop(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	mode := parseExportMode(r)
	art, err := s.controller.StopRecordingManual(r.Context(), mode)
	if art == nil && err != nil {
		sendError(w, err)
		return
	}
	if err != nil {
		// The export failed, but the recording is retained, and the user has been notified
		s.Log.Warnf("Export of recording %v failed: %v", art.ID, err)
		sendError(w, err)
		return
	}
	resp := stopRecordingJSON{
		Exported:  art.NumChunks() != 0,
		NumChunks: art.NumChunks(),
		Size:      art.Size(),
		ClipID:    art.ID,
	}
	if resp.Exported {
		resp.Filename = art.Filename()
	}
	www.SendJSON(w, &resp)
}

func (s *Server) httpCapture(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	res, err := s.controller.CaptureOnce(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	www.SendJSON(w, &res)
}

func (s *Server) httpOverlayPNG(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	w.Header().Set("Content-Type", "image/png")
	if err := s.canvas.WritePNG(w); err != nil {
		s.Log.Errorf("Failed to encode overlay: %v", err)
	}
}

func (s *Server) httpSetDrawThreshold(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	v, err := strconv.ParseFloat(www.QueryValue(r, "value"), 64)
	if err != nil {
		www.PanicBadRequestf("Invalid threshold: %v", err)
	}
	applied := s.controller.SetDrawThreshold(v)
	www.SendJSON(w, map[string]float64{"drawThreshold": applied})
}
