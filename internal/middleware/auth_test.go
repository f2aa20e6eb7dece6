package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret"

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(AuthMiddleware(testSecret))
	router.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"owner_id": OwnerID(c), "role": c.GetString(ContextRole)})
	})
	router.POST("/admin", RequireRole(RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func doRequest(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	token, err := IssueToken(testSecret, "owner-1", "", time.Hour)
	require.NoError(t, err)

	rec := doRequest(newAuthRouter(), http.MethodGet, "/me", token)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"owner_id":"owner-1","role":"user"}`, rec.Body.String())
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	expired, err := IssueToken(testSecret, "owner-1", RoleUser, -time.Minute)
	require.NoError(t, err)

	wrongKey, err := IssueToken("other-secret", "owner-1", RoleUser, time.Hour)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: RoleUser}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	router := newAuthRouter()
	for name, token := range map[string]string{
		"missing":    "",
		"expired":    expired,
		"wrong key":  wrongKey,
		"no subject": noSubject,
		"garbage":    "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			rec := doRequest(router, http.MethodGet, "/me", token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthMiddleware_RejectsNonBearerScheme(t *testing.T) {
	token, err := IssueToken(testSecret, "owner-1", RoleUser, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Key "+token)
	rec := httptest.NewRecorder()
	newAuthRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	router := newAuthRouter()

	userToken, err := IssueToken(testSecret, "owner-1", RoleUser, time.Hour)
	require.NoError(t, err)
	adminToken, err := IssueToken(testSecret, "admin-1", RoleAdmin, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, doRequest(router, http.MethodPost, "/admin", userToken).Code)
	assert.Equal(t, http.StatusNoContent, doRequest(router, http.MethodPost, "/admin", adminToken).Code)
}

func TestIdempotencyCacheKey_ScopedByOwnerAndRoute(t *testing.T) {
	a := idempotencyCacheKey("owner-a", http.MethodPost, "/v1/payments/initiate", "k1")
	b := idempotencyCacheKey("owner-b", http.MethodPost, "/v1/payments/initiate", "k1")
	c := idempotencyCacheKey("owner-a", http.MethodPost, "/v1/payments/verify", "k1")

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}
