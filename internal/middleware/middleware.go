package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"communityhelp/internal/log"
	"communityhelp/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"

	limiterTableSize = 10000
	limiterIdleTTL   = 10 * time.Minute
)

// ErrorResponse 统一的错误响应体
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// RequestID 透传客户端带来的 X-Request-ID，没有就生成一个
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.New().String()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RateLimiter 每个客户端一个令牌桶，表项在 LRU 里按空闲时间过期
type RateLimiter struct {
	limiters          *utils.TTLCache[*rate.Limiter]
	rate              rate.Limit
	burst             int
	requestsPerMinute int
}

func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	table, err := utils.NewTTLCache[*rate.Limiter](limiterTableSize)
	if err != nil {
		// 只有 size <= 0 才会出错
		panic(err)
	}
	return &RateLimiter{
		limiters:          table,
		rate:              rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:             burst,
		requestsPerMinute: requestsPerMinute,
	}
}

// GetLimiter 取出或新建 key 对应的限流器，并刷新过期时间
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	limiter, ok := rl.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
	}
	rl.limiters.Set(key, limiter, limiterIdleTTL)
	return limiter
}

// Middleware 已登录按用户限流，否则按 IP
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if user := CurrentUser(c); user != nil {
			key = "user:" + strconv.FormatUint(uint64(user.ID), 10)
		}

		if !rl.GetLimiter(key).Allow() {
			log.Warn.Printf("rate limit exceeded for %s on %s", key, c.FullPath())
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate_limited",
				Message: fmt.Sprintf("Too many requests. Limit: %d requests per minute", rl.requestsPerMinute),
				Code:    http.StatusTooManyRequests,
			})
			return
		}
		c.Next()
	}
}
