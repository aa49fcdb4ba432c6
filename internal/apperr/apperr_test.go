// ABOUTME: Tests for the application error taxonomy
// ABOUTME: Covers kind-to-status mapping, code overrides, and errors.As interop

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, KindValidation.HTTPStatus())
	assert.Equal(t, http.StatusUnauthorized, KindAuthentication.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, KindForbidden.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, KindNotFound.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, KindInternal.HTTPStatus())
}

func TestConstructorsSetDefaultCode(t *testing.T) {
	assert.Equal(t, "VALIDATION_ERROR", Validation("bad input").Code)
	assert.Equal(t, "AUTHENTICATION_ERROR", Unauthorized("no token").Code)
	assert.Equal(t, "FORBIDDEN", Forbidden("not yours").Code)
	assert.Equal(t, "NOT_FOUND", NotFound("gone").Code)
	assert.Equal(t, "INTERNAL_ERROR", Internal(errors.New("boom")).Code)
}

func TestWithCodeOverride(t *testing.T) {
	err := Forbidden("Not a participant").WithCode("SEND_FAILED")
	assert.Equal(t, "SEND_FAILED", err.Code)
	assert.Equal(t, KindForbidden, err.Kind)
}

func TestInternalKeepsGenericMessage(t *testing.T) {
	cause := errors.New("sqlite disk io")
	err := Internal(cause)
	assert.Equal(t, "An unexpected error occurred", err.Message)
	assert.ErrorIs(t, err, cause)
}

func TestErrorsAsThroughWrapping(t *testing.T) {
	inner := NotFound("Message not found")
	wrapped := fmt.Errorf("handling frame: %w", inner)

	var appErr *Error
	require.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, KindNotFound, appErr.Kind)
	assert.Equal(t, "Message not found", appErr.Message)
}

func TestWithDetails(t *testing.T) {
	err := Validation("Invalid input").WithDetails(map[string]string{"username": "too short"})
	assert.Equal(t, "too short", err.Details["username"])
}
