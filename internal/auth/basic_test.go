package auth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupRouter(user, pass string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(BasicAuthMiddleware(user, pass))
	router.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.OPTIONS("/api/status", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func basicHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestBasicAuthDisabledWithoutCredentials(t *testing.T) {
	router := setupRouter("", "")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/status", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBasicAuthRejectsMissingAndWrong(t *testing.T) {
	router := setupRouter("admin", "secret")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/status", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/status", nil)
	req.Header.Set("Authorization", basicHeader("admin", "wrong"))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/status", nil)
	req.Header.Set("Authorization", "Bearer token")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBasicAuthAccepts(t *testing.T) {
	router := setupRouter("admin", "secret")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/status", nil)
	req.Header.Set("Authorization", basicHeader("admin", "secret"))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBasicAuthSkipsPreflight(t *testing.T) {
	router := setupRouter("admin", "secret")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("OPTIONS", "/api/status", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
