package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
	"github.com/jmerrifield20/WipeLedger/internal/identity"
	"github.com/jmerrifield20/WipeLedger/internal/issuance"
)

// IssueHandler issues first-party certificates.
type IssueHandler struct {
	svc    *issuance.Service
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewIssueHandler creates a new IssueHandler. Issuing is a ledger write, so
// it is gated by the same ingest tokens as uploads; tokens may be nil.
func NewIssueHandler(svc *issuance.Service, tokens *identity.TokenIssuer, logger *zap.Logger) *IssueHandler {
	return &IssueHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the issuance route on the given router group.
func (h *IssueHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/certificates/issue", identity.RequireIngestToken(h.tokens), h.Issue)
}

// Issue handles POST /certificates/issue. The verification code is returned
// once and cannot be recovered later.
func (h *IssueHandler) Issue(c *gin.Context) {
	var req issuance.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	issued, err := h.svc.Issue(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, "issue", err)
		return
	}
	RecordAppend(certledger.OriginIssued)

	if claims := identity.IngestClaimsFromCtx(c); claims != nil {
		h.logger.Info("certificate issued by station",
			zap.String("certificate_id", issued.Certificate.CertificateID),
			zap.String("station", claims.Subject),
		)
	}

	c.JSON(http.StatusCreated, gin.H{
		"certificate":       newCertificateView(issued.Certificate),
		"verification_code": issued.VerificationCode,
	})
}
