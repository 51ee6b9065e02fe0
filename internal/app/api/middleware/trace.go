package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/fatflowers/entitler/pkg/logctx"
	"github.com/fatflowers/entitler/pkg/tool"
)

const (
	HeaderRequestID = "X-Request-ID"
	maxTraceIDLen   = 128
)

// TraceMiddleware takes the caller's request id, or mints a UUIDv7 when it is
// missing or oversized, and stores it under "traceID" in gin.Context and in
// the request context.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(HeaderRequestID)
		if traceID == "" || len(traceID) > maxTraceIDLen {
			traceID = tool.GenerateUUIDV7()
		}
		c.Set("traceID", traceID)
		c.Request = c.Request.WithContext(logctx.WithTraceID(c.Request.Context(), traceID))
		c.Next()
	}
}
