package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"stock-stream/src/helpers"

	"github.com/gin-gonic/gin"
)

const msgDuplicate = "Connection already exists for these symbols"

// -----------------------------------------------------------------------------
// Error responses
// -----------------------------------------------------------------------------

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var (
		rejected   *helpers.AdmissionRejectedError
		validation *helpers.ValidationError
		configErr  *helpers.ConfigurationError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Message, "code": "INVALID_REQUEST"})

	case errors.As(err, &rejected):
		body := gin.H{"error": rejectionMessage(rejected), "code": string(rejected.Reason)}
		status := http.StatusTooManyRequests
		switch rejected.Reason {
		case helpers.RejectDuplicate:
			status = http.StatusConflict
		case helpers.RejectCircuitOpen:
			status = http.StatusServiceUnavailable
		}
		if rejected.Reason != helpers.RejectDuplicate {
			body["remainingTime"] = rejected.RetryAfterSeconds
			c.Header("Retry-After", strconv.Itoa(rejected.RetryAfterSeconds))
		}
		c.JSON(status, body)

	case errors.As(err, &configErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": configErr.Message, "code": "CONFIGURATION"})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": "INTERNAL"})
	}
}

func rejectionMessage(e *helpers.AdmissionRejectedError) string {
	switch e.Reason {
	case helpers.RejectDuplicate:
		return msgDuplicate
	case helpers.RejectCircuitOpen:
		return fmt.Sprintf("Upstream circuit open for these symbols, retry in %ds", e.RetryAfterSeconds)
	case helpers.RejectCooldown:
		return fmt.Sprintf("Cooling down after an upstream failure, retry in %ds", e.RetryAfterSeconds)
	default:
		return fmt.Sprintf("Too many connection attempts, retry in %ds", e.RetryAfterSeconds)
	}
}
