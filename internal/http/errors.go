package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/errs"
	"github.com/fyrsmithlabs/vidqa/internal/logging"
)

// messageNotInitialized is returned for turns against an empty knowledge base.
const messageNotInitialized = "knowledge base not initialized"

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrTranscriptUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrStoreNotFound):
		return http.StatusConflict
	case errors.Is(err, errs.ErrRetrieval), errors.Is(err, errs.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleError renders every error as an ErrorResponse. Messages are
// scrubbed of credentials before they are written.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		status int
		body   ErrorResponse
		he     *echo.HTTPError
	)
	switch {
	case errors.As(err, &he):
		status = he.Code
		body.Error = http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			body.Error = msg
		}
	default:
		status = statusFor(err)
		body.Code = errs.Code(err)
		body.Error = err.Error()
		if status == http.StatusConflict {
			body.Error = messageNotInitialized
		}
	}
	body.Error = s.scrubber.String(body.Error)

	fields := append(logging.ContextFields(c.Request().Context()),
		zap.Int("status", status),
		zap.String("code", body.Code),
		zap.String("error", body.Error),
	)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, body)
	}
	if writeErr != nil {
		s.logger.Warn("failed to write error response", zap.Error(writeErr))
	}
}
