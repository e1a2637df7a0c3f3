package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/WipeLedger/internal/health"
)

// HealthHandler reports liveness and the outcome of the last chain check.
type HealthHandler struct {
	checker *health.Checker
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Register mounts GET /healthz and GET /readyz.
func (h *HealthHandler) Register(r gin.IRoutes) {
	r.GET("/healthz", h.Live)
	r.GET("/readyz", h.Ready)
}

// Live handles GET /healthz.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles GET /readyz. It returns 503 until the first check has
// passed and whenever storage has been failing.
func (h *HealthHandler) Ready(c *gin.Context) {
	st := h.checker.Status()
	code := http.StatusOK
	if !h.checker.Ready() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}
