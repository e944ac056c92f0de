package app

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/slotplanner/internal/distribute"
)

// Error codes returned in the envelope.
const (
	CodeInvalidBody      = "invalid_body"
	CodeInvalidBase      = "invalid_base"
	CodeInvalidName      = "invalid_name"
	CodeNotFound         = "not_found"
	CodeCapacityExceeded = "CapacityExceeded"
	CodeStore            = "store_error"
	CodePlanning         = "planning_error"
	CodeNotConfigured    = "not_configured"
)

const errorKey = "api_error"

// Error is the body of a failed response. Cause is logged, never sent.
type Error struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	Cause       error             `json:"-"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Envelope wraps successful data or an error.
type Envelope struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

// AbortError records an error for the Errors middleware and aborts with status.
func AbortError(c *gin.Context, status int, code, message string, fields map[string]string) {
	abort(c, status, &Error{Code: code, Message: message, FieldErrors: fields})
}

// AbortStore reports a failed event file or backup operation. The cause goes
// to the log and message to the client.
func AbortStore(c *gin.Context, message string, cause error) {
	abort(c, http.StatusInternalServerError, &Error{Code: CodeStore, Message: message, Cause: cause})
}

// AbortCapacity answers 409 with the slot demand and the free slots.
func AbortCapacity(c *gin.Context, ce *distribute.CapacityError) {
	abort(c, http.StatusConflict, &Error{
		Code:    CodeCapacityExceeded,
		Message: ce.Error(),
		FieldErrors: map[string]string{
			"needed":    strconv.Itoa(ce.Needed),
			"available": strconv.Itoa(ce.Available),
		},
	})
}

func abort(c *gin.Context, status int, e *Error) {
	c.Set(errorKey, e)
	c.AbortWithStatus(status)
}

// Errors renders an aborted request's Error as an Envelope. Server errors are
// logged at error level, client errors at warn.
func Errors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		v, ok := c.Get(errorKey)
		if !ok {
			return
		}
		e, ok := v.(*Error)
		if !ok {
			return
		}
		status := c.Writer.Status()
		var ev *zerolog.Event
		if status >= http.StatusInternalServerError {
			ev = log.Ctx(c.Request.Context()).Error()
		} else {
			ev = log.Ctx(c.Request.Context()).Warn()
		}
		ev = ev.Int("status", status).Str("code", e.Code)
		if e.Cause != nil {
			ev = ev.Err(e.Cause)
		}
		if len(e.FieldErrors) > 0 {
			ev = ev.Interface("fields", e.FieldErrors)
		}
		ev.Msg(e.Message)
		c.JSON(status, Envelope{Error: e})
	}
}
