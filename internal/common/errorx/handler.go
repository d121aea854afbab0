package errorx

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrorHandler provides unified error handling for HTTP responses
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
	}
}

// HandleError converts any error to APIError and writes the HTTP response
func (h *ErrorHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	apiErr := ConvertToAPIError(err).WithTraceID(uuid.New().String())

	fields := []zap.Field{
		zap.String("code", apiErr.Code),
		zap.String("category", string(apiErr.Category)),
		zap.String("trace_id", apiErr.TraceID),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	}
	switch apiErr.Severity {
	case SeverityCritical:
		h.logger.Error("request failed", fields...)
	case SeverityWarning, SeverityInfo:
		h.logger.Debug("request rejected", fields...)
	default:
		h.logger.Warn("request rejected", fields...)
	}

	c.JSON(apiErr.HTTPStatus, gin.H{
		"error": apiErr,
	})
}

// ConvertToAPIError converts any error to an APIError
func ConvertToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal
}
