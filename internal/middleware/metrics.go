package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edupoint-crm/lead-engine/internal/service"
)

// Metrics records method, route, status and latency for every request.
// The route template is preferred over the raw path to keep label
// cardinality bounded.
func Metrics(m *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		m.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
