// middleware/auth.go
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	logger "github.com/framelane/aegis/logging"
)

// SubjectKey is the gin context key carrying the authenticated subject.
const SubjectKey = "subjectID"

// SubjectExtractor resolves the caller's subject from a platform session
// token (HS256 bearer JWT). Requests without a token pass through as
// anonymous; requests with an invalid token are rejected.
func SubjectExtractor(sessionSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return sessionSecret, nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			logger.Warn("Rejected session token",
				zap.String("ip", c.ClientIP()),
				zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Next()
	}
}
