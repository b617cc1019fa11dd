package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coveworks/memberd/config"
	"github.com/coveworks/memberd/internal/pkg/jwt"
	"github.com/coveworks/memberd/internal/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret"

func protectedRouter(mw ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	handlers := append(mw, func(c *gin.Context) {
		userID, _ := GetUserID(c)
		response.Success(c, gin.H{"user_id": userID, "is_admin": IsAdmin(c), "app_id": GetAppID(c)})
	})
	router.GET("/protected", handlers...)
	return router
}

func TestSessionAuth_RejectsMissingAndBadTokens(t *testing.T) {
	router := protectedRouter(SessionAuth(testSecret))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/protected", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionAuth_AcceptsCookieAndBearer(t *testing.T) {
	router := protectedRouter(SessionAuth(testSecret))
	token, err := jwt.GenerateToken(7, false, testSecret, 1)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminOnly(t *testing.T) {
	router := protectedRouter(SessionAuth(testSecret), AdminOnly())

	memberToken, err := jwt.GenerateToken(7, false, testSecret, 1)
	require.NoError(t, err)
	adminToken, err := jwt.GenerateToken(8, true, testSecret, 1)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+memberToken)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInterApp_OpenOutsideRelease(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Mode: "test"},
		Auth:   config.AuthConfig{AuthorizedApps: []string{"doorbot"}},
	}
	router := protectedRouter(InterApp(cfg))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/protected", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInterApp_EnforcedInRelease(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Mode: "release"},
		Auth:   config.AuthConfig{AuthorizedApps: []string{"doorbot"}},
	}
	router := protectedRouter(InterApp(cfg))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-App-Id", "rogue")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-App-Id", "doorbot")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
