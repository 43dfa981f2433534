package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/narcissus123/continuity/pkg/apperr"
	"github.com/narcissus123/continuity/pkg/services"
	"github.com/narcissus123/continuity/pkg/utils"
	log "github.com/sirupsen/logrus"
)

// Gin context key for storing user claims.
const UserClaimsContextKey = "userClaims"

// AuthMiddleware authenticates requests with a Bearer JWT issued after
// email verification.
func AuthMiddleware(jwt *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Debug("AuthMiddleware: Missing Authorization header.")
			utils.ResponseWithFailure(c, apperr.New(apperr.ReasonUnauthenticated, "Authorization header required"))
			return
		}

		// Expected format: "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			log.Debugf("AuthMiddleware: Invalid Authorization header format: %s", authHeader)
			utils.ResponseWithFailure(c, apperr.New(apperr.ReasonUnauthenticated, "Invalid Authorization header format"))
			return
		}

		claims, err := jwt.ValidateToken(parts[1])
		if err != nil {
			log.Debugf("AuthMiddleware: Invalid or expired JWT token: %v", err)
			utils.ResponseWithFailure(c, apperr.Wrap(apperr.ReasonUnauthenticated, "Invalid or expired token", err))
			return
		}

		c.Set(UserClaimsContextKey, claims)
		log.Debugf("AuthMiddleware: User %s (ID: %s) authenticated successfully.", claims.Email, claims.UserID)

		c.Next()
	}
}

// GetUserClaimsFromContext extracts user claims from Gin context.
func GetUserClaimsFromContext(c *gin.Context) (*services.Claims, bool) {
	claims, exists := c.Get(UserClaimsContextKey)
	if !exists {
		return nil, false
	}
	userClaims, ok := claims.(*services.Claims)
	if !ok {
		return nil, false
	}
	return userClaims, true
}
