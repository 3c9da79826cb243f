package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeConflict      = 409
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// Credit engine failures. Integrity and busy errors are safe to retry once
// the cause is cleared; validation errors are not.
const (
	CodeMemberNotFound     = 1001
	CodeEntryNotFound      = 1002
	CodeValidationFailed   = 1003
	CodeIntegrityViolation = 1004
	CodeSystemBusy         = 1005
)

// RequestIDKey is the gin context key the request-id middleware sets.
const RequestIDKey = "request_id"

type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func New(c *gin.Context, code int, message string, data interface{}) Response {
	return Response{
		Code:      code,
		Message:   message,
		RequestID: c.GetString(RequestIDKey),
		Data:      data,
	}
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, New(c, CodeSuccess, "success", data))
}

// Error always answers 200; the envelope code carries the outcome.
func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, New(c, code, message, nil))
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
