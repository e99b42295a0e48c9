// Package handler is the thin HTTP boundary (§6) framing the core services:
// gin handlers, request/response shapes, and the middleware chain. Grounded
// on internal/handler/model.go and internal/handler/system.go (kept,
// adapted) for the handler/response-envelope idiom, and on the teacher's
// golang-jwt/jwt/v5 dependency for the auth stub — full auth/user
// administration is explicitly out of scope (spec.md §1), so the middleware
// only resolves a caller ID from a bearer token, it does not manage users.
package handler

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ragcore/ragcore/internal/apperrors"
	"github.com/ragcore/ragcore/internal/idgen"
	"github.com/ragcore/ragcore/internal/logger"
)

// ownerContextKey is the gin context key the auth middleware sets and every
// handler reads to scope requests to their owner.
const ownerContextKey = "owner_id"

// CORSMiddleware allows browser-based clients, matching the teacher's
// gin-contrib/cors dependency.
func CORSMiddleware() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowHeaders = []string{"Authorization", "Content-Type", "X-Correlation-Id"}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	return cors.New(cfg)
}

// CorrelationIDMiddleware assigns a correlation ID to every request (reused
// from the client's X-Correlation-Id header if present) and attaches it to
// the logging context, matching SearchResponse.correlation_id (§6).
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-Id")
		if correlationID == "" {
			correlationID = idgen.New()
		}
		ctx := logger.WithCorrelationID(c.Request.Context(), correlationID)
		ctx = logger.WithRequestID(ctx, idgen.New())
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-Id", correlationID)
		c.Next()
	}
}

// AuthConfig controls the bearer-token verification the auth middleware
// performs.
type AuthConfig struct {
	SigningKey []byte
}

// AuthMiddleware resolves the caller's owner ID from a JWT bearer token's
// "sub" claim. It does not issue, refresh, or manage tokens — token issuance
// is out of scope (spec.md §1); this only consumes one.
func AuthMiddleware(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == "" || tokenString == header {
			c.Error(apperrors.NewForbiddenError("missing bearer token"))
			c.Abort()
			return
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return cfg.SigningKey, nil
		})
		if err != nil {
			c.Error(apperrors.NewForbiddenError("invalid bearer token"))
			c.Abort()
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			c.Error(apperrors.NewForbiddenError("token missing subject claim"))
			c.Abort()
			return
		}
		c.Set(ownerContextKey, sub)
		c.Next()
	}
}

// ownerID reads the authenticated caller set by AuthMiddleware.
func ownerID(c *gin.Context) string {
	v, _ := c.Get(ownerContextKey)
	s, _ := v.(string)
	return s
}

// ErrorHandlerMiddleware converts the last error a handler recorded via
// c.Error into the JSON envelope every handler below emits on success,
// mapping apperrors.AppError.HTTPStatus to the response status. Handlers
// never call c.JSON on the error path themselves; they call c.Error and
// return, the way internal/handler/model.go's handlers do.
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		appErr, ok := apperrors.As(err)
		if !ok {
			appErr = apperrors.NewInternalServerError(err.Error())
		}
		logger.ErrorWithFields(c.Request.Context(), appErr, map[string]interface{}{
			"code": appErr.Code,
			"path": c.Request.URL.Path,
		})
		c.JSON(appErr.HTTPStatus, gin.H{
			"success": false,
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
	}
}

// RequestLogMiddleware logs one line per request, mirroring the teacher's
// per-call logger.Infof call sites rather than a structured access-log
// library the pack carries no example of.
func RequestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Infof(c.Request.Context(), "%s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}
