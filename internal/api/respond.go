// ABOUTME: JSON response helpers: success bodies, the error envelope, body decoding
// ABOUTME: Unknown application errors are logged and surfaced as INTERNAL_ERROR

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/parley-chat/parley/internal/apperr"
)

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// itemsEnvelope wraps list responses.
type itemsEnvelope struct {
	Items any `json:"items"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		a.logger.Error("unhandled error", "error", err)
		appErr = apperr.Internal(err)
	}
	writeJSON(w, appErr.Kind.HTTPStatus(), errorEnvelope{Error: errorBody{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}})
}

// decodeJSON reads a request body strictly; unknown fields and malformed
// JSON both fail validation.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("Invalid request body").WithCause(err)
	}
	return nil
}
