package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/testengine/internal/response"
	"github.com/stemsi/testengine/internal/service"
)

// statusFor maps a service error onto an HTTP status and API error code.
func statusFor(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrDuplicateAttempt):
		return http.StatusConflict, response.ErrDuplicateAttempt
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict, response.ErrInvalidTransition
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, response.ErrConflict
	case errors.Is(err, service.ErrNotCompleted):
		return http.StatusConflict, response.ErrNotCompleted
	case errors.Is(err, service.ErrTestExpired):
		return http.StatusGone, response.ErrTestExpired
	case errors.Is(err, service.ErrInvalidExtension):
		return http.StatusBadRequest, response.ErrInvalidExtension
	case errors.Is(err, service.ErrTestUnavailable):
		return http.StatusForbidden, response.ErrTestUnavailable
	case errors.Is(err, service.ErrNotOwner):
		return http.StatusForbidden, response.ErrNotOwner
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failService writes the error envelope for err, logging anything unexpected.
func failService(c *gin.Context, log zerolog.Logger, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	response.Fail(c, status, code)
}
