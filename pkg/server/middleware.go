package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/craftscribe/craftscribe/pkg/auth"
	"github.com/craftscribe/craftscribe/pkg/types"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDKey = "requestId"
	principalKey = "principal"
	userTokenKey = "userToken"
)

// requestID assigns a correlation id to every request and echoes it back.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// requestLogger logs one line per request with grouped attributes.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.Info("Request handled",
			slog.Group("request",
				slog.String("id", c.GetString(requestIDKey)),
				slog.String("method", c.Request.Method),
				slog.String("path", c.Request.URL.Path),
				slog.Int("status", c.Writer.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("clientIp", c.ClientIP()),
			),
		)
	}
}

// recovery converts panics into the fixed 500 envelope. The catch-all
// boundary for truly unexpected defects lives here and nowhere else.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				fail(c, fmt.Errorf("panic: %v", r))
			}
		}()
		c.Next()
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{s.cfg.FrontendURL}
	}

	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Accept", "Accept-Language", "Content-Language", "Content-Type",
			"Authorization", "X-Requested-With", "stripe-signature",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (s *Server) securityHeaders() gin.HandlerFunc {
	production := s.cfg.Environment != "development"

	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "DENY")
		header.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if production {
			header.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			header.Set("Cache-Control", "no-store")
		}
		c.Next()
	}
}

// authRequired verifies the bearer token and stores the principal and the
// raw token (needed for user-scoped data access) in the request context.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			fail(c, fmt.Errorf("%w: missing bearer token", auth.ErrInvalidToken))
			return
		}

		principal, err := s.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			fail(c, err)
			return
		}

		c.Set(principalKey, principal)
		c.Set(userTokenKey, token)
		c.Next()
	}
}

// adminRequired gates a route on the service role. Runs after authRequired.
func (s *Server) adminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p := principalFrom(c); p == nil || !p.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{
				Success:    false,
				Error:      "forbidden",
				StatusCode: http.StatusForbidden,
				ErrorID:    uuid.NewString(),
			})
			return
		}
		c.Next()
	}
}

func principalFrom(c *gin.Context) *types.Principal {
	if v, exists := c.Get(principalKey); exists {
		if p, ok := v.(*types.Principal); ok {
			return p
		}
	}
	return nil
}

func userTokenFrom(c *gin.Context) string {
	return c.GetString(userTokenKey)
}
