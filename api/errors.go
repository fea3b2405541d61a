package api

import (
	"errors"
	"fmt"
	"net/http"

	"library-api/library"
)

// Messages produced by the transport itself rather than the domain.
const (
	msgNotFound    = "Not found."
	msgServerError = "A server error occurred."
	msgNoAuth      = "Authentication credentials were not provided."
	msgNoCreds     = "Invalid token header. No credentials provided."
	msgSpaces      = "Invalid token header. Token string should not contain spaces."
)

func methodNotAllowed(method string) string {
	return fmt.Sprintf("Method %q not allowed.", method)
}

// writeError maps a domain error to its status code and writes the envelope.
// Unknown errors are logged and reported as 500 without their cause.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *library.ValidationError
		conflict *library.ConflictError
		notFound *library.NotFoundError
		authErr  *library.AuthenticationError
	)
	switch {
	case errors.As(err, &verr):
		WriteErrors(w, http.StatusBadRequest, verr)
	case errors.As(err, &conflict):
		WriteErrors(w, http.StatusBadRequest, conflict.Message)
	case errors.As(err, &notFound):
		WriteErrors(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &authErr):
		unauthorized(w, authErr.Message)
	default:
		s.log(r).WithError(err).Error("request failed")
		WriteErrors(w, http.StatusInternalServerError, msgServerError)
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	WriteErrors(w, http.StatusUnauthorized, msg)
}
