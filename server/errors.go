package server

import (
	"errors"
	"net/http"

	"github.com/buddywatch/buddywatch/server/auth"
	"github.com/buddywatch/buddywatch/server/camera"
	"github.com/buddywatch/buddywatch/server/cliplog"
	"github.com/buddywatch/buddywatch/server/inference"
	"github.com/buddywatch/buddywatch/server/recorder"
	"github.com/buddywatch/buddywatch/server/surveillance"
	"github.com/buddywatch/buddywatch/server/videolib"
	"github.com/cyclopcam/www"
)

// errorStatus maps a domain error to the HTTP status code that the control API reports it with
func errorStatus(err error) int {
	var regErr *auth.RegisterError
	var infErr *inference.Error
	var upErr *videolib.UploadError
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrNotLoggedIn),
		errors.Is(err, auth.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.As(err, &regErr):
		return http.StatusBadRequest
	case errors.Is(err, surveillance.ErrManualWhileAutoRecord),
		errors.Is(err, surveillance.ErrAutoRecordWhileRecording),
		errors.Is(err, recorder.ErrAlreadyRecording),
		errors.Is(err, recorder.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, surveillance.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, camera.ErrNoMediaSource):
		return http.StatusServiceUnavailable
	case errors.Is(err, recorder.ErrNoRetainedArtifact),
		errors.Is(err, cliplog.ErrNotFound),
		errors.Is(err, videolib.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, recorder.ErrInsufficientSpace):
		return http.StatusInsufficientStorage
	case errors.As(err, &infErr):
		if infErr.Reason == inference.ReasonTimeout {
			return http.StatusGatewayTimeout
		} else if infErr.Reason == inference.ReasonAuth {
			return http.StatusUnauthorized
		}
		return http.StatusBadGateway
	case errors.As(err, &upErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// sendError writes err as a plain text response with the appropriate status code
func sendError(w http.ResponseWriter, err error) {
	www.SendError(w, err.Error(), errorStatus(err))
}
