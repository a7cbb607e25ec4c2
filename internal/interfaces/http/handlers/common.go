// File: internal/interfaces/http/handlers/common.go
// Shared request parsing and AppError to HTTP status mapping for the handlers.

// Package handlers implements the host API endpoints.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/pkg/errors"
)

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// writeError maps err to its HTTP status and writes a structured body.
// Server failures are masked unless retryable.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	code := errors.GetCode(err)
	if code == errors.CodeUnknown {
		code = errors.ErrCodeInternal
	}
	status := errors.HTTPStatusForCode(code)
	resp := ErrorResponse{Code: code.String(), Message: errors.DefaultMessageForCode(code)}
	var app *errors.AppError
	if (errors.IsClientError(code) || errors.IsRetryable(code)) && errors.As(err, &app) {
		resp.Message = app.Message
		resp.Detail = app.Detail
	}
	c.AbortWithStatusJSON(status, resp)
}

// bindJSON decodes the body into dst, answering 400 on failure.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, errors.Wrap(err, errors.CodeInvalidParam, "malformed request body"))
		return false
	}
	return true
}

// paneParam parses the :pane path parameter.
func paneParam(c *gin.Context) (pane.ID, bool) {
	id, err := pane.ParseID(c.Param("pane"))
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return id, true
}
