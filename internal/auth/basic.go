// Package auth provides the HTTP basic-auth gate and Google OAuth token
// loading for API access.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BasicAuthMiddleware guards every route with a single static credential
// pair. CORS preflights pass through unauthenticated. Empty credentials
// disable the gate entirely.
func BasicAuthMiddleware(username, password string) gin.HandlerFunc {
	enabled := username != "" && password != ""
	return func(c *gin.Context) {
		if !enabled || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		user, pass, ok := parseBasicAuth(c.GetHeader("Authorization"))
		if !ok || !constantTimeEqual(user, username) || !constantTimeEqual(pass, password) {
			c.Header("WWW-Authenticate", `Basic realm="tubevault"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func parseBasicAuth(header string) (string, string, bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return "", "", false
	}
	user, pass, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	return user, pass, true
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
