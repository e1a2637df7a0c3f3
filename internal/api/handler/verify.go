package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
)

// VerifyHandler resolves verification codes presented by certificate holders.
type VerifyHandler struct {
	ledger *certledger.Ledger
	logger *zap.Logger
}

// NewVerifyHandler creates a new VerifyHandler.
func NewVerifyHandler(ledger *certledger.Ledger, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{ledger: ledger, logger: logger}
}

// Register mounts the verification route on the given router group.
func (h *VerifyHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/verify", h.Verify)
}

// RegisterLegacy mounts the form endpoint used by the verification page.
func (h *VerifyHandler) RegisterLegacy(rg *gin.RouterGroup) {
	rg.POST("/verify_certificate", h.Verify)
}

type verifyRequest struct {
	VerificationCode string `json:"verification_code" form:"verification_code"`
}

// Verify handles POST /verify. The code may be sent as JSON or as a form
// field. A match marks the certificate verified.
func (h *VerifyHandler) Verify(c *gin.Context) {
	var req verifyRequest
	// An unparseable body is treated as an empty code.
	_ = c.ShouldBind(&req)
	if strings.TrimSpace(req.VerificationCode) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please enter a verification code"})
		return
	}

	rec, err := h.ledger.LookupByCode(c.Request.Context(), req.VerificationCode)
	switch {
	case err == nil:
		RecordVerificationLookup(true)
		c.JSON(http.StatusOK, gin.H{
			"verified":    true,
			"message":     "Certificate Verified Successfully",
			"certificate": newCertificateView(rec),
		})
	case errors.Is(err, certledger.ErrNotFound):
		RecordVerificationLookup(false)
		c.JSON(http.StatusNotFound, gin.H{
			"verified": false,
			"message":  "Invalid verification code. Certificate not found.",
		})
	default:
		respondError(c, h.logger, "ledger LookupByCode", err)
	}
}
