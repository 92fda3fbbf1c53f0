package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func setupAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", AuthMiddleware(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt(UserIDKey)})
	})
	return r
}

func TestAuthAcceptsValidToken(t *testing.T) {
	router := setupAuthRouter()
	token, err := IssueToken(testSecret, 42, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id": 42}`, rec.Body.String())
}

func TestAuthMissingHeader(t *testing.T) {
	router := setupAuthRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMalformedHeader(t *testing.T) {
	router := setupAuthRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	router := setupAuthRouter()
	token, err := IssueToken("other-secret", 42, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	router := setupAuthRouter()
	token, err := IssueToken(testSecret, 42, -time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParseTokenRoundTrip(t *testing.T) {
	token, err := IssueToken(testSecret, 7, time.Minute)
	require.NoError(t, err)

	userID, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, 7, userID)
}
