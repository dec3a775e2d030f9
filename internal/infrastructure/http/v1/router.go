// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	appctx "clinicstock/internal/core/context"
	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/security"
	"clinicstock/internal/infrastructure/http/v1/handlers"
	"clinicstock/internal/infrastructure/http/v1/middleware"
	"clinicstock/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Logger       *logger.Logger
	JWTValidator middleware.JWTValidator
	Calendar     calendar.Adapter

	AuthService     handlers.AuthService
	DeliveryService handlers.DeliveryService
	StockService    handlers.StockService
	ReportService   handlers.ReportService
	Rollup          handlers.RollupRunner

	// Idempotency is applied to ledger writes. Nil disables it.
	Idempotency middleware.IdempotencyStore

	Version      string
	HealthChecks map[string]handlers.CheckFunc
	PoolStats    func() any

	CORSAllowedOrigins []string
	Debug              bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.Use(middleware.ErrorHandler())

	base := handlers.NewBaseHandler(cfg.Calendar)
	api := router.Group("/api/v1")

	healthHandler := handlers.NewHealthHandler(cfg.Version, cfg.HealthChecks, cfg.PoolStats)
	api.GET("/health/live", healthHandler.Live)
	api.GET("/health/ready", healthHandler.Ready)
	api.GET("/info", healthHandler.Info)

	registerAuthRoutes(api, base, cfg)

	protected := api.Group("")
	protected.Use(middleware.Auth(cfg.JWTValidator))

	writes := []gin.HandlerFunc{}
	if cfg.Idempotency != nil {
		writes = append(writes, middleware.Idempotency(cfg.Idempotency))
	}

	registerDeliveryRoutes(protected, base, cfg, writes)
	registerInventoryRoutes(protected, base, cfg, writes)
	registerReportRoutes(protected, base, cfg)
	registerAdminRoutes(protected, base, cfg)

	return router
}

// registerAuthRoutes registers authentication endpoints.
func registerAuthRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.AuthService == nil {
		return
	}
	authHandler := handlers.NewAuthHandler(base, cfg.AuthService)

	publicAuth := rg.Group("/auth")
	protectedAuth := rg.Group("/auth")
	protectedAuth.Use(middleware.Auth(cfg.JWTValidator))

	authHandler.RegisterRoutes(publicAuth, protectedAuth)
}

// write builds a ledger write chain: permission check, then idempotency, then the handler.
func write(perm security.Permission, writes []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(writes)+2)
	out = append(out, middleware.RequirePermission(perm))
	out = append(out, writes...)
	return append(out, h)
}

func registerDeliveryRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig, writes []gin.HandlerFunc) {
	h := handlers.NewDeliveryHandler(base, cfg.DeliveryService, cfg.ReportService)

	g := rg.Group("/deliveries")
	g.POST("", write(security.PermissionDeliver, writes, h.Create)...)
	g.GET("", middleware.RequirePermission(security.PermissionRead), h.List)
}

func registerInventoryRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig, writes []gin.HandlerFunc) {
	h := handlers.NewInventoryHandler(base, cfg.StockService, cfg.ReportService)
	read := middleware.RequirePermission(security.PermissionRead)

	g := rg.Group("/inventory")
	g.POST("/initial-stock", write(security.PermissionPurchase, writes, h.InitialStock)...)
	g.POST("/purchase", write(security.PermissionPurchase, writes, h.Purchase)...)
	g.POST("/adjustments", write(security.PermissionAdjust, writes, h.Adjustment)...)

	g.GET("/current", read, h.Current)
	g.GET("/current/:drugId", read, h.CurrentByDrug)
	g.GET("/monthly-report", read, h.MonthlyReport)
	g.GET("/monthly-report/export", read, h.ExportMonthlyReport)
	g.GET("/low-stock-alerts", read, h.LowStockAlerts)
	g.GET("/transactions", read, h.Transactions)
	g.GET("/dashboard", read, h.Dashboard)
	g.GET("/lots", read, h.Lots)
}

func registerReportRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewReportsHandler(base, cfg.ReportService)
	read := middleware.RequirePermission(security.PermissionRead)

	g := rg.Group("/reports")
	g.GET("/monthly", read, h.Monthly)
	g.GET("/absent-patients", read, h.AbsentPatients)
}

func registerAdminRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Rollup == nil {
		return
	}
	h := handlers.NewAdminHandler(base, cfg.Rollup)

	g := rg.Group("/admin")
	g.Use(middleware.RequireRole(appctx.RoleAdmin))
	g.POST("/patient-statuses/refresh", middleware.RequirePermission(security.PermissionRunRollup), h.RefreshPatientStatuses)
}
