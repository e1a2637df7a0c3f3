package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
)

// maxChainPage caps a single page of GET /chain when limit is given.
const maxChainPage = 1000

// LedgerHandler exposes read-only HTTP endpoints for the certificate chain.
type LedgerHandler struct {
	ledger *certledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledger *certledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger}
}

// Register mounts the chain routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	ch := rg.Group("/chain")
	{
		ch.GET("", h.List)
		ch.GET("/verify", h.VerifyAll)
		ch.GET("/root", h.Root)
		ch.GET("/certificates/:id", h.GetCertificate)
		ch.GET("/certificates/:id/verify", h.VerifyCertificate)
	}
}

// RegisterLegacy mounts the paths the existing wiper tool and dashboard use.
func (h *LedgerHandler) RegisterLegacy(rg *gin.RouterGroup) {
	rg.GET("/api/blockchain", h.List)
	rg.GET("/api/verify_chain/:id", h.VerifyCertificate)
}

// List handles GET /chain: the chain in position order plus the result of
// a full verification walk. offset and limit are optional.
func (h *LedgerHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	if limit > maxChainPage {
		limit = maxChainPage
	}

	// Verify first and cut the page to the verified length, so records
	// appended in between never show up past total_certificates.
	report, err := h.ledger.VerifyAll(ctx)
	if err != nil {
		respondError(c, h.logger, "ledger VerifyAll", err)
		return
	}
	RecordChainReport(report)

	recs, err := h.ledger.List(ctx, offset, limit)
	if err != nil {
		respondError(c, h.logger, "ledger List", err)
		return
	}

	entries := make([]ChainEntry, 0, len(recs))
	for _, rec := range recs {
		if rec.Position >= int64(report.Length) {
			break
		}
		entries = append(entries, newChainEntry(rec))
	}

	c.JSON(http.StatusOK, gin.H{
		"blockchain":         entries,
		"total_certificates": report.Length,
		"chain_valid":        report.Valid,
		"breaks":             report.Positions(),
	})
}

// VerifyAll handles GET /chain/verify: walks the full chain and reports
// every break.
func (h *LedgerHandler) VerifyAll(c *gin.Context) {
	report, err := h.ledger.VerifyAll(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "ledger VerifyAll", err)
		return
	}
	RecordChainReport(report)
	c.JSON(http.StatusOK, report)
}

// Root handles GET /chain/root: returns the chain length and current root.
func (h *LedgerHandler) Root(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		respondError(c, h.logger, "ledger Len", err)
		return
	}
	root, err := h.ledger.Root(ctx)
	if err != nil {
		respondError(c, h.logger, "ledger Root", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"length": count,
		"root":   root,
	})
}

// GetCertificate handles GET /chain/certificates/:id.
func (h *LedgerHandler) GetCertificate(c *gin.Context) {
	rec, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "ledger Get", err)
		return
	}
	c.JSON(http.StatusOK, newCertificateView(rec))
}

// VerifyCertificate handles GET /chain/certificates/:id/verify: the local
// one-hop check of a single record.
func (h *LedgerHandler) VerifyCertificate(c *gin.Context) {
	rec, ok, err := h.ledger.VerifyOne(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "ledger VerifyOne", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"certificate_id":   rec.CertificateID,
		"chain_index":      rec.Position,
		"chain_valid":      ok,
		"previous_hash":    previousHash(rec),
		"certificate_hash": rec.ChainLink,
		"content_hash":     rec.ContentHash,
	})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	s := c.Query(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
