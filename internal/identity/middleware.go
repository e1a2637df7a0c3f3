package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxIngestClaims = "wipeledger.ingest_claims"

// RequireIngestToken returns a Gin middleware that enforces a valid ingest
// Bearer token. A nil issuer disables the check.
func RequireIngestToken(tokens *TokenIssuer) gin.HandlerFunc {
	if tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer ingest token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid ingest token",
			})
			return
		}

		c.Set(ctxIngestClaims, claims)
		c.Next()
	}
}

// IngestClaimsFromCtx returns the verified ingest claims, or nil when the
// route is unauthenticated.
func IngestClaimsFromCtx(c *gin.Context) *IngestClaims {
	v, ok := c.Get(ctxIngestClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*IngestClaims)
	return claims
}
