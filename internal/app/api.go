package app

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/rulesmarket/relay/internal"
	"github.com/rulesmarket/relay/internal/auth"
	"github.com/rulesmarket/relay/internal/config"
	"github.com/rulesmarket/relay/internal/models"
	"github.com/rulesmarket/relay/internal/relay"
	"github.com/rulesmarket/relay/internal/storage"
	"github.com/rulesmarket/relay/internal/utils"
)

// API serves the companion plain-HTTP surface: health and dashboard
// snapshots, join-token issuance and the read-only admin views. These are
// polled, never pushed.
type API struct {
	hub         *relay.Hub
	registry    *relay.Registry
	recent      storage.Store
	health      *HealthManager
	issuer      *auth.Issuer
	adminSecret string
}

func NewAPI(hub *relay.Hub, registry *relay.Registry, recent storage.Store, health *HealthManager, issuer *auth.Issuer, adminSecret string) *API {
	return &API{
		hub:         hub,
		registry:    registry,
		recent:      recent,
		health:      health,
		issuer:      issuer,
		adminSecret: adminSecret,
	}
}

type servicesStatus struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
	Relay    string `json:"relay"`
}

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Uptime    float64        `json:"uptime"`
	Version   string         `json:"version"`
	Services  servicesStatus `json:"services"`
}

// HealthSnapshotHandler serves GET /api/health.
func (a *API) HealthSnapshotHandler(c echo.Context) error {
	status := "healthy"
	store := "connected"
	if !a.health.Healthy() {
		status = "unhealthy"
		store = "disconnected"
	}
	redisStatus := "disabled"
	if config.Config.Storage == "redis" {
		redisStatus = store
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:    status,
		Timestamp: models.Now(),
		Uptime:    a.health.Uptime().Seconds(),
		Version:   internal.RelayVersionRevision,
		Services: servicesStatus{
			Database: store,
			Redis:    redisStatus,
			Relay:    "connected",
		},
	})
}

type overview struct {
	ConnectedClients int     `json:"connectedClients"`
	AdminClients     int     `json:"adminClients"`
	UptimeSeconds    float64 `json:"uptimeSeconds"`
	Version          string  `json:"version"`
}

type realTimeMetrics struct {
	EventsRelayed uint64 `json:"eventsRelayed"`
	EventsDropped uint64 `json:"eventsDropped"`
}

type dashboardResponse struct {
	Overview        overview           `json:"overview"`
	RealTimeMetrics realTimeMetrics    `json:"realTimeMetrics"`
	RecentLogs      []models.LogEntry  `json:"recentLogs"`
	SystemStats     models.SystemStats `json:"systemStats"`
}

// DashboardHandler serves GET /api/dashboard.
func (a *API) DashboardHandler(c echo.Context) error {
	log := logrus.WithField("prefix", "DashboardHandler")

	total, admins := a.hub.Counts()
	relayed, dropped := a.hub.Counters()

	recentLogs, err := a.recent.Recent(c.Request().Context(), 50)
	if err != nil {
		log.Errorf("failed to read recent logs: %v", err)
		recentLogs = []models.LogEntry{}
	}

	return c.JSON(http.StatusOK, dashboardResponse{
		Overview: overview{
			ConnectedClients: total,
			AdminClients:     admins,
			UptimeSeconds:    a.hub.Uptime().Seconds(),
			Version:          internal.RelayVersionRevision,
		},
		RealTimeMetrics: realTimeMetrics{
			EventsRelayed: relayed,
			EventsDropped: dropped,
		},
		RecentLogs: recentLogs,
		SystemStats: models.SystemStats{
			ConnectedClients: total,
			AdminClients:     admins,
			Uptime:           a.hub.Uptime().Seconds(),
			Timestamp:        models.Now(),
		},
	})
}

type tokenRequest struct {
	Email  string `json:"email"`
	UserID string `json:"userId"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// IssueTokenHandler serves POST /api/admin/token: exchanges the operator
// secret for a short-lived admin-room join token.
func (a *API) IssueTokenHandler(c echo.Context) error {
	log := logrus.WithField("prefix", "IssueTokenHandler")

	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Email == "" || req.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "email and userId are required"})
	}

	token, err := a.issuer.Issue(req.Email, req.UserID)
	if err != nil {
		log.Errorf("failed to issue token: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "token issuance failed"})
	}
	ttl := time.Duration(config.Config.AdminTokenTTL) * time.Second
	log.WithFields(logrus.Fields{"email": req.Email, "user_id": req.UserID}).Info("join token issued")
	return c.JSON(http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(ttl).UTC().Format(time.RFC3339),
	})
}

type connectionView struct {
	SocketID    string `json:"socketId"`
	Admin       bool   `json:"admin"`
	ConnectedAt string `json:"connectedAt"`
}

// AdminUsersHandler serves GET /admin/users.
func (a *API) AdminUsersHandler(c echo.Context) error {
	peers := a.registry.Peers()
	views := make([]connectionView, 0, len(peers))
	for _, p := range peers {
		views = append(views, connectionView{
			SocketID:    p.ID(),
			Admin:       a.registry.IsAdmin(p.ID()),
			ConnectedAt: p.ConnectedAt().UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"connections": views})
}

// AdminLogsHandler serves GET /admin/logs.
func (a *API) AdminLogsHandler(c echo.Context) error {
	entries, err := a.recent.Recent(c.Request().Context(), 100)
	if err != nil {
		logrus.WithField("prefix", "AdminLogsHandler").Errorf("failed to read recent logs: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "log store unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"logs": entries})
}

// AdminMetricsHandler serves GET /admin/metrics.
func (a *API) AdminMetricsHandler(c echo.Context) error {
	total, admins := a.hub.Counts()
	relayed, dropped := a.hub.Counters()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"connectedClients": total,
		"adminClients":     admins,
		"eventsRelayed":    relayed,
		"eventsDropped":    dropped,
		"uptimeSeconds":    a.hub.Uptime().Seconds(),
	})
}

// AdminConfigHandler serves GET /admin/config with secrets removed.
func (a *API) AdminConfigHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"relayName":      config.Config.RelayName,
		"environment":    config.Config.Environment,
		"storage":        config.Config.Storage,
		"statsInterval":  config.Config.StatsInterval,
		"allowedOrigins": config.Config.AllowedOrigins,
		"version":        internal.RelayVersionRevision,
	})
}

// RequireAdminSecret guards the admin surface with the operator bearer secret.
func (a *API) RequireAdminSecret() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := utils.BearerToken(c.Request())
			if a.adminSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.adminSecret)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			return next(c)
		}
	}
}
