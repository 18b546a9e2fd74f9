package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	HeaderUserName      = "X-User-Name"
	HeaderCorrelationId = "X-Correlation-Id"
	HeaderToken         = "token"
)

// SessionMiddleware puts the acting user on the request context. A session token is resolved
// through Redis ("Token:<token>"); without one the X-User-Name header is trusted, as set by
// the gateway in front of the service.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if token := strings.TrimSpace(c.GetHeader(HeaderToken)); token != "" {
			rdb := config.GetRedisDB()
			if rdb == nil {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
				return
			}
			userName, err := rdb.Get(ctx, "Token:"+token).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					config.LogError(config.GetLogger(), "SessionMiddleware", "SessionMiddleware", "redis get", nil, err)
				}
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			ctx = utils.SetUserNameInContext(ctx, userName)
		} else if userName := strings.TrimSpace(c.GetHeader(HeaderUserName)); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CorrelationMiddleware attaches the caller's correlation id, or a fresh one, to the request
// context and echoes it back.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if cid := strings.TrimSpace(c.GetHeader(HeaderCorrelationId)); cid != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, cid)
		}
		ctx, cid := utils.EnsureCorrelationId(ctx)
		c.Header(HeaderCorrelationId, cid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
