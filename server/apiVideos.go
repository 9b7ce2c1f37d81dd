package server

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// These are thin proxies to the remote video library, so that the browser never needs the bearer token

func (s *Server) httpVideosList(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	token, err := s.session.AccessToken(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	videos, err := s.library.List(r.Context(), token)
	if err != nil {
		sendError(w, err)
		return
	}
	www.SendJSON(w, videos)
}

func (s *Server) httpVideoDelete(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("id"))
	token, err := s.session.AccessToken(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	if err := s.library.Delete(r.Context(), token, id); err != nil {
		sendError(w, err)
		return
	}
	s.Log.Infof("Deleted video %v from the library", id)
	www.SendOK(w)
}

func (s *Server) httpVideoDownload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("id"))
	token, err := s.session.AccessToken(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	// Buffer the body, so that a failure halfway through can still produce a proper error status
	buf := &bytes.Buffer{}
	contentType, err := s.library.Download(r.Context(), token, id, buf)
	if err != nil {
		sendError(w, err)
		return
	}
	if contentType == "" {
		contentType = "video/webm"
	}
	www.SendFileDownload(w, "video-"+strconv.FormatInt(id, 10)+".webm", contentType, buf.Bytes())
}
