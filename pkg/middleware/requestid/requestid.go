package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	header     = "X-Request-ID"
	contextKey = "request_id"
)

// Middleware tags every request with an id, honouring one supplied by the
// caller. The id is echoed on the response and picked up by the request log.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(header)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextKey, id)
		c.Writer.Header().Set(header, id)
		c.Next()
	}
}

// Value returns the request id, empty when the middleware did not run.
func Value(c *gin.Context) string {
	if v, ok := c.Get(contextKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
