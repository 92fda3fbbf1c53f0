package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messaging-service/internal/pipeline"
)

// RequestID propagates the inbound X-Request-Id header, minting one when
// absent, and threads it through the request context so the pipeline and
// audit layers see the same correlation id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Request = c.Request.WithContext(pipeline.WithCorrelationID(c.Request.Context(), requestID))
		c.Writer.Header().Set("X-Request-Id", requestID)
		c.Next()
	}
}
