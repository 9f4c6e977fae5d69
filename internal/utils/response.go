// internal/utils/response.go
package utils

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sercom/internal/protocol"
)

const errorDetailsKey = "error_details"

// APIResponse is the envelope of every observer API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError describes a failed request. Details carries the device and
// session the request addressed and, for transport failures, the failing
// operation and address.
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Cause   string            `json:"cause,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// SetErrorDetail attaches context to any error response written later for
// this request
func SetErrorDetail(c *gin.Context, key, value string) {
	if value == "" {
		return
	}
	details, _ := c.Get(errorDetailsKey)
	m, ok := details.(map[string]string)
	if !ok {
		m = make(map[string]string)
		c.Set(errorDetailsKey, m)
	}
	m[key] = value
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: c.GetString("request_id"),
	})
}

// ErrorResponse sends an error response. The code names the device failure
// when err wraps one of the protocol errors, otherwise the HTTP status.
func ErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	apiError := &APIError{
		Code:    errorCode(statusCode, err),
		Message: message,
		Details: errorDetails(c, err),
	}
	if err != nil {
		apiError.Cause = err.Error()
	}

	c.JSON(statusCode, APIResponse{
		Success:   false,
		Message:   message,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: c.GetString("request_id"),
	})
}

func errorDetails(c *gin.Context, err error) map[string]string {
	details := make(map[string]string)
	if stored, ok := c.Get(errorDetailsKey); ok {
		for k, v := range stored.(map[string]string) {
			details[k] = v
		}
	}
	if id := c.Param("device_id"); id != "" {
		details["device_id"] = id
	}

	var transportErr *protocol.TransportError
	if errors.As(err, &transportErr) {
		details["operation"] = transportErr.Op
		details["address"] = transportErr.Address
	}

	if len(details) == 0 {
		return nil
	}
	return details
}

func errorCode(statusCode int, err error) string {
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrReconnectExhausted):
		return "RECONNECT_EXHAUSTED"
	case errors.Is(err, protocol.ErrNotConnected):
		return "NOT_CONNECTED"
	case errors.Is(err, protocol.ErrTransport):
		return "TRANSPORT_ERROR"
	case errors.Is(err, protocol.ErrClosed):
		return "CONNECTION_CLOSED"
	case errors.Is(err, protocol.ErrInvalidParameter):
		return "INVALID_PARAMETER"
	}

	switch statusCode {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusInternalServerError:
		return "INTERNAL_SERVER_ERROR"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "UNKNOWN_ERROR"
	}
}
