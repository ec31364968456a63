package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"example.com/backstage/services/install/config"
	"example.com/backstage/services/install/internal/auth"
	"example.com/backstage/services/install/internal/core"
	"example.com/backstage/services/install/internal/gateway"
	"example.com/backstage/services/install/internal/tracker"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handlers bundles the HTTP handlers and their dependencies.
type Handlers struct {
	cfg      *config.Config
	auth     *auth.Service
	gw       *gateway.Client
	workflow *core.WorkflowService
	devices  *core.DeviceService
	sims     *core.SimService
	search   *core.SearchService
	tracker  *tracker.Tracker
	logger   *logrus.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(
	cfg *config.Config,
	authService *auth.Service,
	gw *gateway.Client,
	workflow *core.WorkflowService,
	devices *core.DeviceService,
	sims *core.SimService,
	search *core.SearchService,
	t *tracker.Tracker,
	logger *logrus.Logger,
) *Handlers {
	return &Handlers{
		cfg:      cfg,
		auth:     authService,
		gw:       gw,
		workflow: workflow,
		devices:  devices,
		sims:     sims,
		search:   search,
		tracker:  t,
		logger:   logger,
	}
}

// gatewayErrorStatus maps a gateway failure to the status this service
// reports: timeouts as 408, network failures as 503, upstream rejections
// pass their status through.
func gatewayErrorStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout
	}
	if gateway.IsUnreachable(err) {
		return http.StatusServiceUnavailable
	}
	if status := gateway.StatusOf(err); status != 0 {
		return status
	}
	return http.StatusInternalServerError
}

// HealthCheck reports service liveness.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "install",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// --- Auth ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies credentials and issues a token.
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Username and password are required",
		})
		return
	}

	user, err := h.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"message": "Invalid username or password",
		})
		return
	}

	token, err := h.auth.GenerateToken(user)
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Internal server error during login",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Login successful",
		"user":    user,
		"token":   token,
	})
}

// Logout acknowledges the logout; tokens simply expire.
func (h *Handlers) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logout successful",
	})
}

// Me returns the authenticated user's claims.
func (h *Handlers) Me(c *gin.Context) {
	claims := currentUser(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": gin.H{
			"id":       claims.Subject,
			"username": claims.Username,
			"role":     claims.Role,
			"name":     claims.Name,
		},
	})
}

// GetConfig exposes the frontend-safe configuration. Tokens never leave the
// server.
func (h *Handlers) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"environment":    h.cfg.Server.Environment,
		"testMode":       h.cfg.Workflow.TestMode,
		"gatewayBaseUrl": h.cfg.Gateway.ServicesBaseURL,
	})
}

// GatewayHealth probes upstream reachability.
func (h *Handlers) GatewayHealth(c *gin.Context) {
	status, latency, err := h.gw.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success":        false,
			"message":        "Gateway unreachable",
			"responseTimeMs": latency.Milliseconds(),
			"status":         status,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"status":         status,
		"responseTimeMs": latency.Milliseconds(),
	})
}

// --- Installations ---

// SearchInstallations filters the upstream installation list by client name
// or VIN.
func (h *Handlers) SearchInstallations(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Query parameter is required",
		})
		return
	}

	records, err := h.search.Search(c.Request.Context(), query)
	if err != nil {
		c.JSON(gatewayErrorStatus(err), gin.H{
			"success": false,
			"message": "Failed to search installations",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"installations": records,
		"totalFound":    len(records),
		"query":         query,
	})
}

// Install runs the primary installation workflow.
func (h *Handlers) Install(c *gin.Context) {
	var req core.InstallationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Missing one of clientName, primaryImei, vin, installationId",
		})
		return
	}

	if h.cfg.Workflow.TestMode {
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "Test mode: Complete workflow simulated successfully",
		})
		return
	}

	req.SessionID = sessionIDFrom(c)
	if claims := currentUser(c); claims != nil {
		req.Installer = claims.Username
	}

	details, err := h.workflow.Run(c.Request.Context(), &req)
	if err != nil {
		h.respondWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Complete installation workflow executed successfully",
		"details": details,
	})
}

type secondaryInstallRequest struct {
	InstallationID string `json:"installationId" binding:"required"`
	ClientName     string `json:"clientName" binding:"required"`
	VIN            string `json:"vin" binding:"required"`
	SecondaryIMEI  string `json:"secondaryImei" binding:"required"`
	SecondaryICCID string `json:"secondarySimIccid"`
}

// SecondaryInstall runs the standalone secondary-device workflow.
func (h *Handlers) SecondaryInstall(c *gin.Context) {
	var body secondaryInstallRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Missing one of clientName, secondaryImei, vin, installationId",
		})
		return
	}

	if h.cfg.Workflow.TestMode {
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "Test mode: Secondary device workflow simulated successfully",
		})
		return
	}

	req := core.InstallationRequest{
		InstallationID: body.InstallationID,
		ClientName:     body.ClientName,
		VIN:            body.VIN,
		PrimaryIMEI:    body.SecondaryIMEI,
		SecondaryIMEI:  body.SecondaryIMEI,
		SecondaryICCID: body.SecondaryICCID,
		SessionID:      sessionIDFrom(c),
	}
	if claims := currentUser(c); claims != nil {
		req.Installer = claims.Username
	}

	details, err := h.workflow.RunSecondary(c.Request.Context(), &req)
	if err != nil {
		h.respondWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Secondary device installation workflow executed successfully",
		"details": details,
	})
}

func (h *Handlers) respondWorkflowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrDuplicateInstallation):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Installation ID already exists in system - duplicate detected",
		})
	case errors.Is(err, core.ErrInvalidIccid):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "SIM ICCID format not recognized",
		})
	case errors.Is(err, core.ErrSimNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": "SIM not found on any gateway instance",
		})
	default:
		var bizErr core.BusinessError
		if errors.As(err, &bizErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": bizErr.Message,
				"code":    bizErr.Code,
			})
			return
		}
		c.JSON(gatewayErrorStatus(err), gin.H{
			"success": false,
			"message": "Internal server error during installation workflow",
			"error":   err.Error(),
		})
	}
}

// --- Device prechecks ---

type imeiRequest struct {
	IMEI string `json:"imei" binding:"required"`
}

// VerifyIMEI checks whether a device exists and is free to install.
func (h *Handlers) VerifyIMEI(c *gin.Context) {
	var req imeiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "IMEI is required",
		})
		return
	}

	verification, err := h.devices.VerifyLinkState(c.Request.Context(), req.IMEI)
	if err != nil {
		if gateway.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "Device not found - IMEI does not exist in the system",
			})
			return
		}
		var bizErr core.BusinessError
		if errors.As(err, &bizErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": bizErr.Message,
			})
			return
		}
		c.JSON(gatewayErrorStatus(err), gin.H{
			"success": false,
			"message": "Failed to verify IMEI",
			"error":   err.Error(),
		})
		return
	}

	if !verification.Usable {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":     false,
			"message":     "Device is already linked to a vehicle and cannot be used for installation",
			"deviceState": verification.State,
			"vehicleName": verification.VehicleName,
			"vehicleId":   verification.VehicleID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     "IMEI verified successfully",
		"deviceState": verification.State,
		"deviceData":  verification.Snapshot,
	})
}

type iccidRequest struct {
	ICCID string `json:"iccid" binding:"required"`
}

// VerifySim locates a SIM across the gateway instances without mutating it.
func (h *Handlers) VerifySim(c *gin.Context) {
	var req iccidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "ICCID is required",
		})
		return
	}

	result, err := h.sims.Lookup(c.Request.Context(), req.ICCID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidIccid):
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "SIM ICCID format not recognized",
			})
		case errors.Is(err, core.ErrSimNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "SIM not found on any gateway instance",
			})
		default:
			c.JSON(gatewayErrorStatus(err), gin.H{
				"success": false,
				"message": "Failed to verify SIM",
				"error":   err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "SIM located",
		"sim":     result,
	})
}

// DeviceStatus returns the device snapshot with freshness validation flags.
func (h *Handlers) DeviceStatus(c *gin.Context) {
	imei := c.Query("imei")
	if imei == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "IMEI query parameter is required",
		})
		return
	}

	status, err := h.devices.Status(c.Request.Context(), imei)
	if err != nil {
		c.JSON(gatewayErrorStatus(err), gin.H{
			"success": false,
			"message": "Failed to fetch device status",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"isReporting":         status.IsReporting,
		"isOnline":            status.IsOnline,
		"connectionState":     status.ConnectionState,
		"hasRecentConnection": status.HasRecentConnection,
		"hasRecentActivity":   status.HasRecentActivity,
		"valid":               status.Valid(),
		"deviceData":          status.Snapshot,
		"checkedAt":           status.CheckedAt.Format(time.RFC3339),
	})
}

// --- Confirmation ---

type confirmRequest struct {
	InstallationID string `json:"installationId" binding:"required"`
}

// ConfirmInstallation reports the review flags upstream. When the gateway
// cannot be reached at all and fallback mode is enabled, the confirmation is
// acknowledged locally so the installer can finish the visit. An upstream
// rejection always passes through with its status.
func (h *Handlers) ConfirmInstallation(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Installation ID is required",
		})
		return
	}

	if h.cfg.Workflow.TestMode {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Test mode: Confirmation simulated successfully",
		})
		return
	}

	result, err := h.gw.ConfirmInstallation(c.Request.Context(), req.InstallationID)
	if err != nil {
		if h.cfg.Workflow.ConfirmationFallback && gateway.IsUnreachable(err) {
			h.logger.WithError(err).WithField("installation_id", req.InstallationID).
				Warn("Gateway unreachable, responding in fallback mode")
			c.JSON(http.StatusOK, gin.H{
				"success":      true,
				"fallbackMode": true,
				"message":      "Confirmation recorded locally; gateway was unreachable",
			})
			return
		}
		c.JSON(gatewayErrorStatus(err), gin.H{
			"success": false,
			"message": "Failed to confirm installation",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Installation confirmed",
		"result":  result,
	})
}

// InstallationStatus returns the upstream record plus provisioning probes.
func (h *Handlers) InstallationStatus(c *gin.Context) {
	installationID := c.Param("installationId")
	if installationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Installation ID is required",
		})
		return
	}

	overview, err := h.search.Overview(c.Request.Context(), installationID)
	if err != nil {
		c.JSON(gatewayErrorStatus(err), gin.H{
			"success": false,
			"message": "Failed to fetch installation status",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"installationId": installationID,
		"status": gin.H{
			"installation": overview.Status,
			"vehicle":      overview.VehicleStatus,
			"group":        overview.GroupStatus,
			"lastUpdated":  overview.LastUpdated,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		},
		"details": overview.Record,
	})
}

// --- Activity ---

// ActivitySummary returns the caller's aggregate and recent sessions.
func (h *Handlers) ActivitySummary(c *gin.Context) {
	claims := currentUser(c)
	summary, err := h.tracker.UserSummary(c.Request.Context(), claims.Subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to load activity summary",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}

// ActivityIncomplete returns the caller's unfinished sessions.
func (h *Handlers) ActivityIncomplete(c *gin.Context) {
	claims := currentUser(c)
	sessions, err := h.tracker.IncompleteSessions(c.Request.Context(), claims.Subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to load incomplete sessions",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions})
}

// ActivityAll lists sessions across users, admin only.
func (h *Handlers) ActivityAll(c *gin.Context) {
	filter := tracker.Filter{
		UserID: c.Query("userId"),
		Status: c.Query("status"),
	}
	if from := c.Query("dateFrom"); from != "" {
		if ts, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = &ts
		}
	}
	if to := c.Query("dateTo"); to != "" {
		if ts, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &ts
		}
	}

	sessions, err := h.tracker.ListSessions(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to list sessions",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions, "total": len(sessions)})
}

// ActivityStats returns the cross-user aggregate, admin only.
func (h *Handlers) ActivityStats(c *gin.Context) {
	stats, err := h.tracker.OverallStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to compute activity stats",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// ActivitySession returns one session; installers only see their own.
func (h *Handlers) ActivitySession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	claims := currentUser(c)

	session, err := h.tracker.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, tracker.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "Session not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to load session",
		})
		return
	}

	if claims.Role != auth.RoleAdmin && session.UserID != claims.Subject {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "Insufficient permissions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

// CurrentSession returns the caller's open session id, if any.
func (h *Handlers) CurrentSession(c *gin.Context) {
	claims := currentUser(c)
	sessionID := h.tracker.CurrentSessionID(c.Request.Context(), claims.Subject)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sessionId": sessionID,
	})
}

type trackStepRequest struct {
	SessionID string                 `json:"sessionId"`
	Step      string                 `json:"step" binding:"required"`
	Data      map[string]interface{} `json:"data"`
}

// TrackStep records a completed workflow step for a session.
func (h *Handlers) TrackStep(c *gin.Context) {
	var req trackStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Step is required",
		})
		return
	}

	claims := currentUser(c)
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = h.tracker.CurrentSessionID(c.Request.Context(), claims.Subject)
	}
	if sessionID == "" {
		s, err := h.tracker.StartSession(c.Request.Context(), trackerUser(claims), nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "Failed to start tracking session",
			})
			return
		}
		sessionID = s.SessionID
	}

	session, err := h.tracker.UpdateProgress(c.Request.Context(), sessionID, req.Step, req.Data)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrUnknownStep):
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "Unknown workflow step",
			})
		case errors.Is(err, tracker.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "Session not found",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "Failed to record step",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sessionId": session.SessionID,
		"progress":  session.Progress,
	})
}
