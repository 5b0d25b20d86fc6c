package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tariel-x/tutorlive/internal/presence"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var errInvalidToken = errors.New("invalid token")

// tokenIdentity validates an HS256 token issued by the auth service and returns the
// identity carried in its user_id and role claims.
func (h *Handlers) tokenIdentity(tokenString string) (presence.Identity, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(h.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return presence.Identity{}, errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return presence.Identity{}, errInvalidToken
	}
	userID, _ := claims["user_id"].(string)
	roleClaim, _ := claims["role"].(string)
	if userID == "" {
		return presence.Identity{}, fmt.Errorf("%w: missing user_id", errInvalidToken)
	}
	role, err := presence.ParseRole(roleClaim)
	if err != nil {
		return presence.Identity{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	return presence.Identity{ID: userID, Role: role}, nil
}

func (h *Handlers) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		id, err := h.tokenIdentity(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set("user_id", id.ID)
		c.Set("role", id.Role)
		c.Next()
	}
}

// RequireRole only lets identities holding role through. Use after AuthMiddleware.
func RequireRole(role presence.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if current, _ := c.Get("role"); current != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

func requestIdentity(c *gin.Context) presence.Identity {
	role, _ := c.Get("role")
	r, _ := role.(presence.Role)
	return presence.Identity{ID: c.GetString("user_id"), Role: r}
}
