package server

import (
	"errors"
	"io"
	"net/http"
	"os"
	"slices"
	"strconv"

	"github.com/buddywatch/buddywatch/server/cliplog"
	"github.com/buddywatch/buddywatch/server/config"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// SYNC-CLIP-JSON
type clipJSON struct {
	cliplog.Clip
	Retryable bool `json:"retryable"` // The media is still in memory
}

func (s *Server) httpRecordingsList(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	limit := www.QueryInt(r, "limit")
	if limit <= 0 {
		limit = 100
	}
	clips, err := s.clips.List(limit)
	www.Check(err)
	retained := s.exporter.RetainedIDs()
	resp := make([]clipJSON, 0, len(clips))
	for _, c := range clips {
		resp = append(resp, clipJSON{Clip: c, Retryable: slices.Contains(retained, c.ID)})
	}
	www.SendJSON(w, resp)
}

func (s *Server) httpRecordingRetry(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("id"))
	mode := parseExportMode(r)
	if www.QueryValue(r, "mode") == "" {
		// Retry the same way that the original export was attempted
		if clip, err := s.clips.Get(id); err == nil && clip.Mode != "" {
			mode = config.ExportMode(clip.Mode)
		}
	}
	if err := s.exporter.Retry(r.Context(), id, mode); err != nil {
		sendError(w, err)
		return
	}
	www.SendOK(w)
}

// Stream a recording that was exported to blob storage
func (s *Server) httpRecordingDownload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("id"))
	clip, err := s.clips.Get(id)
	if err != nil {
		sendError(w, err)
		return
	}
	if clip.Status != cliplog.StatusExported || clip.Mode != string(config.ExportLocalDownload) {
		www.PanicBadRequestf("Recording %v is not in local storage", id)
	}
	f, err := s.storage.ReadFile(clip.Location)
	if errors.Is(err, os.ErrNotExist) {
		www.SendError(w, "Recording file has been removed from storage", http.StatusNotFound)
		return
	}
	www.Check(err)
	defer f.Reader.Close()

	w.Header().Set("Content-Type", "video/webm")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+clip.Location+"\"")
	if f.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	}
	if _, err := io.Copy(w, f.Reader); err != nil {
		s.Log.Infof("Download of recording %v interrupted: %v", id, err)
	}
}
