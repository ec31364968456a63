package api

import (
	"example.com/backstage/services/install/internal/auth"
	"example.com/backstage/services/install/internal/tracker"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes wires all endpoints onto the router.
func SetupRoutes(router *gin.Engine, handlers *Handlers, authService *auth.Service, t *tracker.Tracker, logger *logrus.Logger) {
	// Global middleware
	router.Use(Recovery(logger))
	router.Use(RequestLogger(logger))
	router.Use(CORS())

	// Health check (public)
	router.GET("/health", handlers.HealthCheck)

	api := router.Group("/api")

	// Auth (login is public, the rest requires a token)
	api.POST("/auth/login", handlers.Login)
	api.POST("/auth/logout", handlers.Logout)

	authed := api.Group("")
	authed.Use(JWTAuthentication(authService))
	{
		authed.GET("/auth/me", handlers.Me)
		authed.GET("/config", handlers.GetConfig)
		authed.GET("/health/gateway", handlers.GatewayHealth)

		authed.GET("/search-installations", handlers.SearchInstallations)
		authed.POST("/verify-imei", handlers.VerifyIMEI)
		authed.POST("/verify-sim", handlers.VerifySim)
		authed.GET("/device-status", handlers.DeviceStatus)
		authed.POST("/confirm-installation", handlers.ConfirmInstallation)
		authed.GET("/installation-status/:installationId", handlers.InstallationStatus)

		// Install endpoints carry session accounting.
		installs := authed.Group("")
		installs.Use(TrackInstallation(t, logger))
		{
			installs.POST("/install", handlers.Install)
			installs.POST("/secondary-install", handlers.SecondaryInstall)
		}

		// Activity tracking
		activity := authed.Group("/activity")
		{
			activity.GET("/summary", handlers.ActivitySummary)
			activity.GET("/incomplete", handlers.ActivityIncomplete)
			activity.GET("/session/:sessionId", handlers.ActivitySession)
			activity.GET("/current-session", handlers.CurrentSession)

			activity.GET("/all", RequireRole(auth.RoleAdmin), handlers.ActivityAll)
			activity.GET("/stats", RequireRole(auth.RoleAdmin), handlers.ActivityStats)
		}
		authed.POST("/track-step", handlers.TrackStep)
	}
}
