// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"time"

	"documind-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// RequestLogger 是一个 Gin 中间件，记录每个请求的方法、路径、状态码与耗时。
// 不缓冲响应体，流式响应（SSE、WebSocket）也能正常通过。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		log.Infow("HTTP 请求",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
		)
	}
}
