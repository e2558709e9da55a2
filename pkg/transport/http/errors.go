package httptransport

import (
	"encoding/json"
	"net/http"

	oerrors "github.com/porthorian/orgauthz/pkg/errors"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func StatusFor(err error) int {
	switch oerrors.CodeOf(err) {
	case "":
		return http.StatusOK
	case oerrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case oerrors.CodePermissionDenied:
		return http.StatusForbidden
	case oerrors.CodeNotFound:
		return http.StatusNotFound
	case oerrors.CodeInvalidInput:
		return http.StatusBadRequest
	case oerrors.CodeConflict:
		return http.StatusConflict
	case oerrors.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	case oerrors.CodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as JSON. Internal failures get a generic message so
// store and policy details stay server side.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	code := oerrors.CodeOf(err)

	body := errorBody{Error: string(code)}
	switch {
	case status == http.StatusUnauthorized:
		body.Message = "authentication required"
	case status == http.StatusForbidden:
		body.Message = oerrors.MessageAccessDenied
	case status >= http.StatusInternalServerError:
		body.Message = http.StatusText(status)
	default:
		body.Message = err.Error()
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
