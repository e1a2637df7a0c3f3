package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RouteClass groups routes that share a rate budget.
type RouteClass string

const (
	// ClassRead covers chain listings, lookups and status.
	ClassRead RouteClass = "read"
	// ClassWrite covers every route that appends to the ledger.
	ClassWrite RouteClass = "write"
	// ClassVerify covers verification-code lookups. Its budget bounds how
	// fast a single client can guess codes.
	ClassVerify RouteClass = "verify"
)

// Limit is a token bucket: RPS steady-state requests per second with bursts
// of up to Burst. A zero RPS disables limiting for the class.
type Limit struct {
	RPS   float64
	Burst int
}

// RateLimits maps each route class to its per-client budget.
type RateLimits map[RouteClass]Limit

// ClassifyRoute returns the rate class of a matched route.
func ClassifyRoute(method, route string) RouteClass {
	switch {
	case method == http.MethodPost &&
		(strings.HasSuffix(route, "/verify") || strings.HasSuffix(route, "/verify_certificate")):
		return ClassVerify
	case method == http.MethodPost:
		return ClassWrite
	default:
		return ClassRead
	}
}

type bucketKey struct {
	class RouteClass
	ip    string
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware that enforces per-IP token buckets,
// one per route class, so a station syncing a backlog cannot starve
// auditors and code guessing has its own tight budget. Entries idle for 10
// minutes are evicted every 5 minutes until ctx is done.
func RateLimiter(ctx context.Context, limits RateLimits) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[bucketKey]*ipLimiter)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			mu.Lock()
			for k, l := range limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(limiters, k)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		class := ClassifyRoute(c.Request.Method, c.FullPath())
		lim := limits[class]
		if lim.RPS <= 0 {
			c.Next()
			return
		}
		key := bucketKey{class: class, ip: c.ClientIP()}

		mu.Lock()
		l, ok := limiters[key]
		if !ok {
			burst := lim.Burst
			if burst < 1 {
				burst = 1
			}
			l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(lim.RPS), burst)}
			limiters[key] = l
		}
		l.lastSeen = time.Now()
		mu.Unlock()

		res := l.limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			rateLimitedTotal.WithLabelValues(string(class)).Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
