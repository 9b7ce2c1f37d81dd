package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/buddywatch/buddywatch/server/auth"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// SYNC-CREDENTIALS-JSON
type credentialsJSON struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SYNC-REGISTER-ERROR-JSON
type registerErrorJSON struct {
	Message string              `json:"message"`
	Fields  map[string][]string `json:"fields"`
}

func readCredentials(w http.ResponseWriter, r *http.Request) credentialsJSON {
	cred := credentialsJSON{}
	www.ReadJSON(w, r, &cred, 64*1024)
	cred.Username = strings.TrimSpace(cred.Username)
	if cred.Username == "" || cred.Password == "" {
		www.PanicBadRequestf("username and password are required")
	}
	return cred
}

func (s *Server) httpAuthLogin(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cred := readCredentials(w, r)
	if err := s.session.Login(r.Context(), cred.Username, cred.Password); err != nil {
		s.Log.Infof("Login as %v failed: %v", cred.Username, err)
		sendError(w, err)
		return
	}
	s.Log.Infof("Logged in as %v", cred.Username)
	www.SendJSON(w, s.session.Info())
}

func (s *Server) httpAuthRegister(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cred := readCredentials(w, r)
	err := s.session.Register(r.Context(), cred.Username, cred.Password)
	if regErr, ok := err.(*auth.RegisterError); ok {
		// Field errors go back as JSON, so that the UI can show them next to the inputs
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(registerErrorJSON{Message: regErr.Error(), Fields: regErr.Fields})
		return
	} else if err != nil {
		sendError(w, err)
		return
	}
	s.Log.Infof("Registered new user %v", cred.Username)
	www.SendOK(w)
}

func (s *Server) httpAuthLogout(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.session.Logout()
	www.SendOK(w)
}

func (s *Server) httpAuthInfo(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.session.Info())
}
