package middleware

import (
	"strconv"

	"points-service/internal/metrics"

	"github.com/gin-gonic/gin"
)

// HTTPMetrics counts requests by matched route pattern.
func HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
