package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/narcissus123/continuity/pkg/apperr"
	log "github.com/sirupsen/logrus"
)

type JSONResponse struct {
	Success bool        `json:"success"`
	Reason  string      `json:"reason,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

func ResponseWithSuccess(
	c *gin.Context,
	statusCode int,
	message string,
	data interface{},
) {
	c.JSON(statusCode, JSONResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ResponseWithFailure writes a classified failure. Internal details are
// logged and never sent to the client.
func ResponseWithFailure(c *gin.Context, err error) {
	reason := apperr.ReasonOf(err)
	status := StatusFor(reason)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	} else {
		log.Debugf("%s %s rejected (%s): %v", c.Request.Method, c.FullPath(), reason, err)
	}
	c.AbortWithStatusJSON(status, JSONResponse{
		Success: false,
		Reason:  string(reason),
		Message: apperr.MessageOf(err),
	})
}

// StatusFor maps a failure reason to an HTTP status code.
func StatusFor(reason apperr.Reason) int {
	switch reason {
	case apperr.ReasonInvalidFormat, apperr.ReasonInvalidToken:
		return http.StatusBadRequest
	case apperr.ReasonUnauthenticated:
		return http.StatusUnauthorized
	case apperr.ReasonForbidden:
		return http.StatusForbidden
	case apperr.ReasonNotFound:
		return http.StatusNotFound
	case apperr.ReasonAlreadyRegistered, apperr.ReasonConflict, apperr.ReasonPhaseOrder:
		return http.StatusConflict
	case apperr.ReasonSendFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
