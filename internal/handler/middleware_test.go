package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/apperrors"
)

func newAuthRouter(signingKey []byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware())
	router.GET("/whoami", AuthMiddleware(AuthConfig{SigningKey: signingKey}), func(c *gin.Context) {
		respond(c, http.StatusOK, gin.H{"owner_id": ownerID(c)})
	})
	return router
}

func signedToken(t *testing.T, signingKey []byte, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub})
	signed, err := token.SignedString(signingKey)
	require.NoError(t, err)
	return signed
}

func TestAuthMiddlewareRejectsMissingBearerToken(t *testing.T) {
	router := newAuthRouter([]byte("secret"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), string(apperrors.CodeForbidden))
}

func TestAuthMiddlewareRejectsTokenSignedWithWrongKey(t *testing.T) {
	router := newAuthRouter([]byte("secret"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, []byte("other-secret"), "owner-1"))

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthMiddlewareSetsOwnerFromValidToken(t *testing.T) {
	router := newAuthRouter([]byte("secret"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, []byte("secret"), "owner-1"))

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "owner-1")
}

func TestCorrelationIDMiddlewareGeneratesIDWhenMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CorrelationIDMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
}

func TestCorrelationIDMiddlewareReusesIncomingID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CorrelationIDMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Correlation-Id", "incoming-id")
	router.ServeHTTP(rec, req)

	assert.Equal(t, "incoming-id", rec.Header().Get("X-Correlation-Id"))
}

func TestErrorHandlerMiddlewareMapsAppErrorToEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware())
	router.GET("/boom", func(c *gin.Context) {
		c.Error(apperrors.NewConflictError("already exists"))
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), string(apperrors.CodeConflict))
	assert.Contains(t, rec.Body.String(), "already exists")
}

func TestErrorHandlerMiddlewareWrapsUnknownErrorAsInternal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware())
	router.GET("/boom", func(c *gin.Context) {
		c.Error(assert.AnError)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), string(apperrors.CodeInternalError))
}
