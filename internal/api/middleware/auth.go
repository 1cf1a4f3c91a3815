package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"payments/internal/api/jwt"
)

func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "jwt missing"})
			return
		}
		userId, address, role, err := jwt.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set("user_id", userId)
		c.Set("address", address)
		c.Set("role", role)
		c.Next()
	}
}

// Ops gates endpoints that mutate the ledger out of band.
func Ops() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != jwt.RoleOps {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "ops role required"})
			return
		}
		c.Next()
	}
}
