// util/http_util.go
package util

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	logger "github.com/framelane/aegis/logging"
)

// RespondWithError logs the underlying error and answers with a one-line
// body. The wire never carries err itself; internals stay in the log.
func RespondWithError(c *gin.Context, code int, message string, err error) {
	logger.Error(message,
		zap.Error(err),
		zap.Int("status", code),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path))
	c.JSON(code, gin.H{"error": message})
}

// GetSubjectFromContext returns the authenticated subject set by the auth
// middleware; empty means anonymous.
func GetSubjectFromContext(c *gin.Context) string {
	subjectID, exists := c.Get("subjectID")
	if !exists {
		return ""
	}
	if s, ok := subjectID.(string); ok {
		return s
	}
	return ""
}
