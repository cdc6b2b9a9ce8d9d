package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"autocare-platform/internal/apiclient"
	"autocare-platform/internal/appointments"
	"autocare-platform/internal/audit"
	"autocare-platform/internal/billing"
	"autocare-platform/internal/negotiator"
	"autocare-platform/internal/pricing"
	"autocare-platform/internal/reporting"
	"autocare-platform/internal/signaling"
	"autocare-platform/internal/video"
	"autocare-platform/pkg/logger"
)

// statusFor is the only place errors become HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, signaling.ErrNotReady),
		errors.Is(err, signaling.ErrStreamNotFound),
		errors.Is(err, billing.ErrNotFound),
		errors.Is(err, appointments.ErrNotFound),
		errors.Is(err, video.ErrNotLive):
		return http.StatusNotFound
	case errors.Is(err, signaling.ErrInvalid),
		errors.Is(err, audit.ErrInvalidEvent),
		errors.Is(err, billing.ErrValidation),
		errors.Is(err, appointments.ErrInvalidStatus),
		errors.Is(err, reporting.ErrInvalidRequest),
		errors.Is(err, pricing.ErrInvalidPricingReq),
		errors.Is(err, pricing.ErrPricingNotFound):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrConflict),
		errors.Is(err, appointments.ErrInvalidTransition),
		errors.Is(err, negotiator.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, signaling.ErrNetwork),
		errors.Is(err, negotiator.ErrTransportFailure),
		errors.Is(err, apiclient.ErrUnauthorized),
		errors.Is(err, billing.ErrMalformed),
		errors.Is(err, appointments.ErrMalformed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		if status == http.StatusInternalServerError {
			c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
			return
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
