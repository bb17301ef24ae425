package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"medinote/internal/auth"
	"medinote/internal/providers/clova"
	"medinote/internal/providers/deepgram"
	"medinote/internal/providers/openai"
	"medinote/internal/store"
	"medinote/internal/usecase"
)

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, errorEnvelope{Error: apiError{Message: msg, Code: code}})
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondFailure maps a service error onto a status and error code.
func respondFailure(c *gin.Context, err error) {
	status, code := classify(err)
	respondError(c, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, auth.ErrEmailTaken), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "email_taken"
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, usecase.ErrInvalidPatient), errors.Is(err, usecase.ErrConsentRequired):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, usecase.ErrEmptyTranscript):
		return http.StatusBadRequest, "empty_transcript"
	case errors.Is(err, store.ErrUnsupportedBundle):
		return http.StatusBadRequest, "unsupported_bundle"
	case errors.Is(err, usecase.ErrWrongStage),
		errors.Is(err, usecase.ErrNoActiveSession),
		errors.Is(err, usecase.ErrSessionFinalized),
		errors.Is(err, usecase.ErrSessionAbandoned):
		return http.StatusConflict, "wrong_stage"
	case errors.Is(err, openai.ErrMissingAPIKey), errors.Is(err, deepgram.ErrMissingAPIKey),
		errors.Is(err, clova.ErrMissingAPIKey):
		return http.StatusServiceUnavailable, "not_configured"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
