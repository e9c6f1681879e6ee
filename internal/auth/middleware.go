package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userIDKey = "auth.user_id"
	localeKey = "auth.locale"
)

// Verifier checks bearer tokens.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// RequireUser rejects requests without a valid bearer token.
func RequireUser(verifier Verifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		identity, err := verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			logger.Debug("Rejected session token",
				slog.String("path", c.Request.URL.Path),
				slog.String("error", err.Error()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(userIDKey, identity.UserID)
		c.Set(localeKey, identity.Locale)
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" outside RequireUser.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// Locale returns the locale carried by the session token, if any.
func Locale(c *gin.Context) string {
	return c.GetString(localeKey)
}
