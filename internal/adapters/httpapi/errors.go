package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"herbtrace/internal/core"
	"herbtrace/pkg/domain"
)

// APIError is the body of every error response.
type APIError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
	Role     string `json:"role,omitempty"`
	Sequence int64  `json:"sequence,omitempty"`
}

// ErrorEnvelope wraps APIError as {"error": {...}}.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

const (
	codeNoArchive = "NoArchive"
	codeInternal  = "Internal"
)

var kindStatus = map[domain.ErrorKind]int{
	domain.KindUnauthorized:      http.StatusForbidden,
	domain.KindInvalidTransition: http.StatusConflict,
	domain.KindTerminalState:     http.StatusConflict,
	domain.KindValidationFailure: http.StatusUnprocessableEntity,
	domain.KindDuplicateConflict: http.StatusConflict,
	domain.KindCorruptLedger:     http.StatusInternalServerError,
	domain.KindNotFound:          http.StatusNotFound,
}

// statusFor maps err to an HTTP status and envelope.
func statusFor(err error) (int, ErrorEnvelope) {
	var de *domain.Error
	if errors.As(err, &de) {
		status, ok := kindStatus[de.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, ErrorEnvelope{Error: APIError{
			Code:     string(de.Kind),
			Message:  de.Message,
			Field:    de.Field,
			Role:     string(de.Role),
			Sequence: de.Sequence,
		}}
	}
	if errors.Is(err, core.ErrNoArchive) {
		return http.StatusNotImplemented, ErrorEnvelope{Error: APIError{Code: codeNoArchive, Message: err.Error()}}
	}
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return http.StatusInternalServerError, ErrorEnvelope{Error: APIError{Code: codeInternal, Message: msg}}
}

func respondError(c *gin.Context, err error) {
	status, env := statusFor(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, env)
}
