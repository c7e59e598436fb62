// Package httputil provides the shared JSON response envelope.
package httputil

import "github.com/gin-gonic/gin"

// APIError is the error payload of a failed response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// Response is the envelope wrapping every API reply.
type Response struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error,omitempty"`
}

// RespondOK writes a successful envelope with the given payload.
func RespondOK(c *gin.Context, data any) {
	c.JSON(200, Response{Success: true, Data: data})
}

// RespondError writes a failed envelope and aborts the request.
func RespondError(c *gin.Context, status int, code, message string, detail any) {
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error:   &APIError{Code: code, Message: message, Detail: detail},
	})
}
