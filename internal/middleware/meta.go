package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const metaContextKey = "response_meta"

// WithResponseMeta gives handlers a per-request meta map and stamps the
// elapsed time once the chain returns.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		meta := ResponseMeta(c)
		c.Next()
		if _, ok := meta["processingTimeMs"]; !ok {
			meta["processingTimeMs"] = time.Since(start).Milliseconds()
		}
	}
}

// SetCacheHit flags whether the payload was served from cache.
func SetCacheHit(c *gin.Context, hit bool) {
	ResponseMeta(c)["cached"] = hit
}

// ResponseMeta returns the request's meta map, creating it on first use.
func ResponseMeta(c *gin.Context) map[string]interface{} {
	if value, ok := c.Get(metaContextKey); ok {
		if meta, ok := value.(map[string]interface{}); ok {
			return meta
		}
	}
	meta := make(map[string]interface{})
	c.Set(metaContextKey, meta)
	return meta
}
