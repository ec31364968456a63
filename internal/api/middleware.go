package api

import (
	"net/http"
	"strings"
	"time"

	"example.com/backstage/services/install/internal/auth"
	"example.com/backstage/services/install/internal/tracker"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	contextUserKey    = "user"
	contextSessionKey = "session_id"
	sessionHeader     = "X-Session-ID"
)

// RequestLogger logs HTTP requests
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		if raw != "" {
			path = path + "?" + raw
		}

		logger.WithFields(logrus.Fields{
			"status":     c.Writer.Status(),
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       path,
			"user_agent": c.Request.UserAgent(),
		}).Info("HTTP Request")
	}
}

// Recovery handles panics and prevents server crashes
func Recovery(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithFields(logrus.Fields{
					"error":  err,
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				}).Error("Panic recovered")

				c.JSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"message": "internal server error",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// CORS configures cross-origin access for the installer frontend.
func CORS() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", sessionHeader}
	cfg.ExposeHeaders = []string{sessionHeader}
	return cors.New(cfg)
}

// JWTAuthentication validates the bearer token and stores the claims on the
// request context.
func JWTAuthentication(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Access token required",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Invalid authorization format",
			})
			c.Abort()
			return
		}

		claims, err := authService.VerifyToken(parts[1])
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set(contextUserKey, claims)
		c.Next()
	}
}

// RequireRole allows only the given role through. Admins pass everything.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := currentUser(c)
		if claims == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Authentication required",
			})
			c.Abort()
			return
		}
		if claims.Role != role && claims.Role != auth.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Insufficient permissions",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *auth.Claims {
	v, exists := c.Get(contextUserKey)
	if !exists {
		return nil
	}
	claims, ok := v.(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

func trackerUser(claims *auth.Claims) tracker.User {
	return tracker.User{
		ID:       claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
		Name:     claims.Name,
	}
}

// TrackInstallation wraps the install endpoints with session accounting: it
// attaches the caller's session (reusing a submitted X-Session-ID or
// starting a new one), exposes the id in the response header and closes the
// session as completed when the request succeeds.
func TrackInstallation(t *tracker.Tracker, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := currentUser(c)
		if claims == nil {
			c.Next()
			return
		}

		sessionID := c.GetHeader(sessionHeader)
		if sessionID == "" {
			sessionID = t.CurrentSessionID(c.Request.Context(), claims.Subject)
		}
		if sessionID == "" {
			s, err := t.StartSession(c.Request.Context(), trackerUser(claims), nil)
			if err != nil {
				logger.WithError(err).Warn("Failed to start tracking session")
			} else {
				sessionID = s.SessionID
			}
		}

		if sessionID != "" {
			c.Set(contextSessionKey, sessionID)
			c.Header(sessionHeader, sessionID)
		}

		c.Next()

		if sessionID != "" && c.Writer.Status() >= 200 && c.Writer.Status() < 300 {
			if err := t.CompleteSession(c.Request.Context(), sessionID, tracker.ReasonCompleted); err != nil {
				logger.WithError(err).WithField("session_id", sessionID).
					Warn("Failed to complete tracking session")
			}
		}
	}
}

func sessionIDFrom(c *gin.Context) string {
	if v, exists := c.Get(contextSessionKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
