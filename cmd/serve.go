package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/backstage/services/install/internal/api"
	"example.com/backstage/services/install/internal/auth"
	"example.com/backstage/services/install/internal/core"
	"example.com/backstage/services/install/internal/gateway"
	"example.com/backstage/services/install/internal/infrastructure"
	"example.com/backstage/services/install/internal/tracker"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the installation workflow API server",
	Long:  `Launches the HTTP server handling installation workflows, device prechecks and activity tracking.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer() error {
	logger.Info("Initializing Installation Workflow Service...")

	// --- Infrastructure Setup ---
	logger.Info("Connecting to cache...")
	cache, err := infrastructure.NewCache(cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("Cache unavailable, continuing without it")
		cache = nil
	} else {
		defer cache.Close()
	}

	logger.Info("Connecting to messaging service...")
	messaging, err := infrastructure.NewMessaging(cfg.ServiceBus)
	if err != nil {
		logger.Warn("Messaging service unavailable, continuing without it")
		messaging = nil
	} else {
		defer messaging.Close()
	}

	// --- Tracker Store ---
	var store tracker.Store
	switch cfg.Tracker.Backend {
	case "postgres":
		logger.Info("Connecting to database...")
		db, err := infrastructure.NewDatabase(cfg.Database)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		store = tracker.NewGormStore(db.DB)
	default:
		fileStore, err := tracker.NewFileStore(cfg.Tracker.DataDir, logger)
		if err != nil {
			return fmt.Errorf("failed to open activity files: %w", err)
		}
		store = fileStore
	}

	activityTracker := tracker.New(store, cache, logger)
	sweeper := tracker.NewSweeper(activityTracker, cfg.Tracker.SweepInterval, cfg.Tracker.AbandonAfter)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sweeper.Start(sweepCtx)

	// --- Auth ---
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err := seedUsers(authService); err != nil {
		return err
	}

	// --- Service Layer Setup ---
	gw := gateway.NewClient(cfg.Gateway, logger)
	guard := core.NewGuardService(gw, logger)
	resolver := core.NewResolverService(gw, logger)
	sims := core.NewSimService(gw, logger)
	segments := core.NewSegmentService(gw, logger)
	devices := core.NewDeviceService(gw, cache, logger)
	search := core.NewSearchService(gw, logger)

	var publisher core.EventPublisher
	if messaging != nil {
		publisher = messaging
	}
	workflow := core.NewWorkflowService(guard, resolver, sims, segments, gw, activityTracker, publisher, logger)

	// --- API Layer Setup ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	handlers := api.NewHandlers(cfg, authService, gw, workflow, devices, sims, search, activityTracker, logger)
	api.SetupRoutes(router, handlers, authService, activityTracker, logger)

	// --- HTTP Server ---
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful Shutdown ---
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Infof("Installation Workflow API listening on %s", serverAddr)
		logger.Info("Service started successfully")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-shutdownChan

	logger.Warn("Shutdown signal received, initiating graceful shutdown...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	} else {
		logger.Info("Server stopped gracefully")
	}

	logger.Info("Installation Workflow Service shutdown complete")
	return nil
}

func seedUsers(authService *auth.Service) error {
	if len(cfg.Auth.Users) == 0 {
		logger.Warn("No users configured, seeding default operator accounts")
		if err := authService.AddUser("1", "admin", "admin123", auth.RoleAdmin, "Administrator"); err != nil {
			return err
		}
		return authService.AddUser("2", "installer", "installer123", auth.RoleInstaller, "Field Installer")
	}

	for _, u := range cfg.Auth.Users {
		if err := authService.AddUser(u.ID, u.Username, u.Password, u.Role, u.Name); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.Username, err)
		}
	}
	return nil
}
