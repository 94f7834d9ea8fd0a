package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/andrebq/famvault/auth"
	"github.com/andrebq/famvault/internal/logutil"
	"github.com/andrebq/famvault/vault"
)

type (
	errorBody struct {
		Error  string `json:"error"`
		Detail string `json:"detail,omitempty"`
	}
)

const maxBodySize = 64 << 10

// WriteJSON writes v as the response body with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError translates err into a status code and a safe message.
// The raw error is only included when dev is true.
func WriteError(w http.ResponseWriter, r *http.Request, err error, dev bool) {
	status, msg := Classify(err)
	log := logutil.GetOrDefault(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	body := errorBody{Error: msg}
	if dev {
		body.Detail = err.Error()
	}
	WriteJSON(w, status, body)
}

// Classify maps an error to its HTTP status and public message
func Classify(err error) (int, string) {
	var verr auth.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, verr.Error()
	}
	for _, c := range []struct {
		err    error
		status int
	}{
		{auth.ErrInvalidCredentials, http.StatusBadRequest},
		{auth.ErrDuplicateUser, http.StatusBadRequest},
		{auth.ErrNotRegistered, http.StatusBadRequest},
		{auth.ErrNoPendingLogin, http.StatusBadRequest},
		{auth.ErrNoPendingCeremony, http.StatusBadRequest},
		{auth.ErrChallengeExpired, http.StatusBadRequest},
		{auth.ErrCredentialRejected, http.StatusBadRequest},
		{auth.ErrUnauthenticated, http.StatusUnauthorized},
		{auth.ErrForbidden, http.StatusForbidden},
		{auth.ErrUserNotFound, http.StatusNotFound},
		{auth.ErrVerification, http.StatusInternalServerError},
		{auth.ErrStoreUnavailable, http.StatusInternalServerError},
	} {
		if errors.Is(err, c.err) {
			return c.status, c.err.Error()
		}
	}
	if errors.As(err, &vault.FileNotFound{}) || errors.As(err, &vault.InvalidFileName{}) {
		return http.StatusNotFound, "file not found"
	}
	return http.StatusInternalServerError, "internal server error"
}

// DecodeJSON reads a size limited JSON body into out
func DecodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	body, err := ReadBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return auth.ValidationError{Reason: "request body is not valid json"}
	}
	return nil
}

// ReadBody returns the raw request body, limited to a few kilobytes
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, auth.ValidationError{Reason: "request body is too large or unreadable"}
	}
	return body, nil
}
