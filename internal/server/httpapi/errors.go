package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/geocrypt/internal/blobstore"
	"github.com/dmitrijs2005/geocrypt/internal/common"
	"github.com/dmitrijs2005/geocrypt/internal/cryptox"
	"github.com/dmitrijs2005/geocrypt/internal/geo"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes. Envelope failures are
// 422 so clients do not retry them; only storage outages are 503.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, geo.ErrInvalidCoordinate),
		errors.Is(err, geo.ErrInvalidToken),
		errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrorNotFound),
		errors.Is(err, blobstore.ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrorAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, cryptox.ErrMalformedEnvelope),
		errors.Is(err, cryptox.ErrAuthenticationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, blobstore.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageFor is the client facing text for err. Internal details stay in
// the log.
func messageFor(status int, err error) string {
	switch status {
	case http.StatusInternalServerError:
		return "internal server error"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "access denied"
	case http.StatusNotFound:
		return "not found"
	case http.StatusUnprocessableEntity:
		return "could not decrypt file for this location"
	case http.StatusServiceUnavailable:
		return "storage temporarily unavailable"
	default:
		return err.Error()
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "status_code", status, "error", err.Error())
	} else {
		s.logger.Debug(r.Context(), "request rejected", "path", r.URL.Path, "status_code", status, "error", err.Error())
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, errorResponse{Error: messageFor(status, err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
