package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xxxsen/mrag/internal/pkg/errcode"
	"github.com/xxxsen/mrag/internal/pkg/response"
)

const maxTrackedClients = 10000

// clientLimiter gives every (ip, user, route) one request per window. Idle
// buckets expire after a window, when they would be full again anyway.
type clientLimiter struct {
	window  time.Duration
	buckets *expirable.LRU[string, *rate.Limiter]
	now     func() time.Time
}

func newClientLimiter(window time.Duration) *clientLimiter {
	return &clientLimiter{
		window:  window,
		buckets: expirable.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, window),
		now:     time.Now,
	}
}

// RateLimit rejects a client's repeat request to the same route within window.
// A non-positive window disables the check.
func RateLimit(window time.Duration) gin.HandlerFunc {
	if window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return newClientLimiter(window).handle
}

func clientKey(c *gin.Context) (ip, user, route string) {
	ip = c.ClientIP()
	user = "-"
	if v, ok := c.Get(ContextUserKey); ok {
		if name, _ := v.(string); name != "" {
			user = name
		}
	}
	route = c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	return ip, user, route
}

func (l *clientLimiter) bucket(key string) *rate.Limiter {
	if b, ok := l.buckets.Get(key); ok {
		return b
	}
	b := rate.NewLimiter(rate.Every(l.window), 1)
	l.buckets.Add(key, b)
	return b
}

func (l *clientLimiter) handle(c *gin.Context) {
	ip, user, route := clientKey(c)
	now := l.now()
	r := l.bucket(ip + "|" + user + "|" + route).ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		logutil.GetLogger(c.Request.Context()).Warn("rate limit hit",
			zap.String("ip", ip),
			zap.String("user", user),
			zap.String("route", route),
			zap.Duration("retry_after", delay),
		)
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
		response.Error(c, errcode.ErrTooMany, http.StatusText(http.StatusTooManyRequests))
		c.Abort()
		return
	}
	c.Next()
}
