package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/rulesmarket/relay/internal"
	"github.com/rulesmarket/relay/internal/app"
	"github.com/rulesmarket/relay/internal/auth"
	"github.com/rulesmarket/relay/internal/config"
	relay_middleware "github.com/rulesmarket/relay/internal/middleware"
	"github.com/rulesmarket/relay/internal/relay"
	"github.com/rulesmarket/relay/internal/storage"
	"github.com/rulesmarket/relay/internal/utils"
	"golang.org/x/exp/slices"
	"golang.org/x/time/rate"
)

func main() {
	log.Info(fmt.Sprintf("Relay %s is running", internal.RelayVersionRevision))
	config.LoadConfig()
	app.InitMetrics()

	store := "memory"
	if config.Config.Storage != "" {
		store = config.Config.Storage
	}
	dbURI := ""
	switch store {
	case "redis", "valkey":
		log.Info("Using Redis storage for recent logs")
		dbURI = config.Config.RedisURI
	default:
		log.Info("Using in-memory storage for recent logs")
	}

	recent, err := storage.NewStore(store, dbURI, config.Config.RecentLogsCapacity)
	if err != nil {
		log.Fatalf("failed to create storage: %v", err)
	}
	if _, ok := recent.(*storage.MemStore); ok {
		app.SetRelayInfo(config.Config.RelayName, "memory")
	} else {
		app.SetRelayInfo(config.Config.RelayName, "redis")
	}

	healthManager := app.NewHealthManager()
	utils.RunWithRecovery(func() { healthManager.StartHealthMonitoring(recent) })

	extractor, err := utils.NewRealIPExtractor(config.Config.TrustedProxyRanges)
	if err != nil {
		log.Warnf("failed to create realIPExtractor: %v, using defaults", err)
		extractor, _ = utils.NewRealIPExtractor([]string{})
	}

	mux := http.NewServeMux()
	mux.Handle("/health", http.HandlerFunc(healthManager.HealthHandler))
	mux.Handle("/ready", http.HandlerFunc(healthManager.HealthHandler))
	mux.Handle("/version", http.HandlerFunc(app.VersionHandler))
	mux.Handle("/metrics", promhttp.Handler())
	if config.Config.PprofEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
	}
	go func() {
		log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", config.Config.MetricsPort), mux))
	}()

	registry := relay.NewRegistry()
	issuer := auth.NewIssuer(config.Config.AdminTokenSecret, time.Duration(config.Config.AdminTokenTTL)*time.Second)
	hub := relay.NewHub(registry, recent, issuer, config.Config.RelayName, time.Duration(config.Config.StatsInterval)*time.Second)
	utils.RunWithRecovery(func() { hub.RunStats(context.Background()) })

	e := echo.New()
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		Skipper:           nil,
		DisableStackAll:   true,
		DisablePrintStack: false,
	}))
	e.Use(app.LogrusLoggerMiddleware())
	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			if app.SkipRateLimitsByToken(c.Request()) || c.Path() != "/api/admin/token" {
				return true
			}
			return false
		},
		Store: middleware.NewRateLimiterMemoryStore(rate.Limit(config.Config.RPSLimit)),
	}))
	e.Use(app.ConnectionsLimitMiddleware(relay_middleware.NewConnectionLimiter(config.Config.ConnectionsLimit, extractor), func(c echo.Context) bool {
		if app.SkipRateLimitsByToken(c.Request()) || c.Path() != "/relay/events" {
			return true
		}
		return false
	}))

	if config.Config.CorsEnable {
		corsConfig := middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOriginFunc: func(origin string) (bool, error) {
				return utils.OriginAllowed(origin, config.Config.AllowedOrigins), nil
			},
			AllowMethods:     []string{echo.GET, echo.POST, echo.OPTIONS},
			AllowHeaders:     []string{"DNT", "Keep-Alive", "User-Agent", "X-Requested-With", "If-Modified-Since", "Cache-Control", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           86400,
		})
		e.Use(corsConfig)
	}

	h := relay.NewHandler(hub, config.Config.AllowedOrigins, extractor, config.Config.SendQueueSize, time.Duration(config.Config.WriteTimeout)*time.Second)
	api := app.NewAPI(hub, registry, recent, healthManager, issuer, config.Config.AdminTokenSecret)

	e.GET("/relay/events", h.EventsHandler)
	e.GET("/api/health", api.HealthSnapshotHandler)
	e.GET("/api/dashboard", api.DashboardHandler)
	e.POST("/api/admin/token", api.IssueTokenHandler, api.RequireAdminSecret())

	admin := e.Group("/admin", api.RequireAdminSecret())
	admin.GET("/users", api.AdminUsersHandler)
	admin.GET("/logs", api.AdminLogsHandler)
	admin.GET("/metrics", api.AdminMetricsHandler)
	admin.GET("/config", api.AdminConfigHandler)

	var existedPaths []string
	for _, r := range e.Routes() {
		existedPaths = append(existedPaths, r.Path)
	}
	p := prometheus.NewPrometheus("http", func(c echo.Context) bool {
		return !slices.Contains(existedPaths, c.Path())
	})
	e.Use(p.HandlerFunc)

	if config.Config.SelfSignedTLS {
		cert, key, err := utils.GenerateSelfSignedCertificate()
		if err != nil {
			log.Fatalf("failed to generate self signed certificate: %v", err)
		}
		log.Fatal(e.StartTLS(fmt.Sprintf(":%v", config.Config.Port), cert, key))
	} else {
		log.Fatal(e.Start(fmt.Sprintf(":%v", config.Config.Port)))
	}
}
