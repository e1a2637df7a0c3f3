package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
	"github.com/jmerrifield20/WipeLedger/internal/ingest"
)

// statusFor maps a service error to an HTTP status and client message.
// Storage and sequencing failures are reported as 500 without detail.
func statusFor(err error) (int, string) {
	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, ingest.ErrIntegrityMismatch):
		return http.StatusBadRequest, "Certificate integrity check failed"
	case errors.Is(err, certledger.ErrEmptyCode):
		return http.StatusBadRequest, "verification code is required"
	case errors.Is(err, certledger.ErrDuplicateID):
		return http.StatusConflict, "Certificate already exists"
	case errors.Is(err, certledger.ErrNotFound):
		return http.StatusNotFound, "certificate not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// respondError writes err as {"error": ...}; 5xx errors are logged.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}

// ingestOutcome labels an ingestion result for metrics.
func ingestOutcome(err error) string {
	var verr *ingest.ValidationError
	switch {
	case err == nil:
		return "uploaded"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ingest.ErrIntegrityMismatch):
		return "integrity_mismatch"
	case errors.Is(err, certledger.ErrDuplicateID):
		return "duplicate"
	default:
		return "error"
	}
}
