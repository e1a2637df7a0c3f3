package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
	"github.com/jmerrifield20/WipeLedger/internal/identity"
	"github.com/jmerrifield20/WipeLedger/internal/ingest"
)

// maxBatch bounds the number of certificates accepted by one sync request.
const maxBatch = 500

// IngestHandler accepts certificates from external wiping tools.
type IngestHandler struct {
	gateway *ingest.Gateway
	tokens  *identity.TokenIssuer
	logger  *zap.Logger
}

// NewIngestHandler creates a new IngestHandler. tokens may be nil, in which
// case uploads are accepted without a bearer token.
func NewIngestHandler(gateway *ingest.Gateway, tokens *identity.TokenIssuer, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{gateway: gateway, tokens: tokens, logger: logger}
}

// Register mounts the ingestion routes on the given router group.
func (h *IngestHandler) Register(rg *gin.RouterGroup) {
	auth := identity.RequireIngestToken(h.tokens)
	rg.POST("/certificates/upload", auth, h.Upload)
	rg.POST("/certificates/sync", auth, h.Sync)
	rg.GET("/desktop/status", h.Status)
}

// RegisterLegacy mounts the paths the existing wiper tool uses.
func (h *IngestHandler) RegisterLegacy(rg *gin.RouterGroup) {
	auth := identity.RequireIngestToken(h.tokens)
	rg.POST("/upload_certificate", auth, h.Upload)
	rg.POST("/sync_certificates", auth, h.Sync)
	rg.GET("/desktop_status", h.Status)
}

// Upload handles POST /certificates/upload.
func (h *IngestHandler) Upload(c *gin.Context) {
	var sub ingest.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		RecordIngest("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "No certificate data provided"})
		return
	}

	receipt, err := h.gateway.Ingest(c.Request.Context(), sub)
	RecordIngest(ingestOutcome(err))
	if err != nil {
		respondError(c, h.logger, "ingest", err)
		return
	}
	RecordAppend(certledger.OriginIngested)

	if claims := identity.IngestClaimsFromCtx(c); claims != nil {
		h.logger.Info("certificate uploaded",
			zap.String("certificate_id", receipt.CertificateID),
			zap.String("station", claims.Subject),
		)
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":                "Certificate uploaded successfully",
		"certificate_id":         receipt.CertificateID,
		"chain_index":            receipt.Position,
		"blockchain_hash":        receipt.ChainLink,
		"weak_verification_code": receipt.WeakVerificationCode,
	})
}

type syncRequest struct {
	Certificates []ingest.Submission `json:"certificates"`
}

// Sync handles POST /certificates/sync: ingests each certificate
// independently and reports per-item outcomes.
func (h *IngestHandler) Sync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Certificates == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No certificates data provided"})
		return
	}
	if len(req.Certificates) > maxBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many certificates in one sync request"})
		return
	}

	res := h.gateway.IngestBatch(c.Request.Context(), req.Certificates)
	for _, item := range res.Results {
		RecordIngest(ingestOutcome(item.Err()))
		if item.Uploaded {
			RecordAppend(certledger.OriginIngested)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Sync completed",
		"uploaded": res.Uploaded,
		"failed":   res.Failed,
		"total":    res.Total,
		"results":  res.Results,
	})
}

// Status handles GET /desktop/status.
func (h *IngestHandler) Status(c *gin.Context) {
	st, err := h.gateway.Status(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "ingest Status", err)
		return
	}
	c.JSON(http.StatusOK, st)
}
