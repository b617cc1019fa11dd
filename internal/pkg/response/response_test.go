package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.GET("/test", handler)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSuccess(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		Success(c, gin.H{"key": "value"})
	})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse(t, w)
	assert.Equal(t, "success", resp.Message)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "value", data["key"])
}

func TestRedirectCarriesLocation(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		Redirect(c, "https://example.com/next")
	})

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/next", w.Header().Get("Location"))
	assert.Contains(t, w.Body.String(), "https://example.com/next")
}

func TestErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		handler    gin.HandlerFunc
		wantStatus int
		wantMsg    string
	}{
		{"param", func(c *gin.Context) { ParamError(c, "") }, http.StatusBadRequest, "bad request"},
		{"validation", func(c *gin.Context) { ValidationError(c, "too short") }, http.StatusUnprocessableEntity, "too short"},
		{"auth", func(c *gin.Context) { AuthError(c, "") }, http.StatusUnauthorized, "authentication failed"},
		{"permission", func(c *gin.Context) { PermissionError(c, "") }, http.StatusForbidden, "permission denied"},
		{"not found", func(c *gin.Context) { NotFoundError(c, "") }, http.StatusNotFound, "not found"},
		{"rate limit", func(c *gin.Context) { RateLimitError(c, "") }, http.StatusTooManyRequests, "rate limited"},
		{"server", func(c *gin.Context) { ServerError(c, "") }, http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, tt.handler)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantMsg, parseResponse(t, w).Message)
		})
	}
}
