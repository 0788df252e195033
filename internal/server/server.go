// Package server assembles the HTTP application from configuration and a database.
package server

import (
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	"github.com/suteetoe/pharmadesk/internal/handler"
	"github.com/suteetoe/pharmadesk/internal/httperr"
	"github.com/suteetoe/pharmadesk/internal/middleware"
	"github.com/suteetoe/pharmadesk/internal/model"
	"github.com/suteetoe/pharmadesk/internal/otp"
	"github.com/suteetoe/pharmadesk/internal/registrar"
	"github.com/suteetoe/pharmadesk/internal/repository"
	"github.com/suteetoe/pharmadesk/internal/sequence"
	"github.com/suteetoe/pharmadesk/pkg/cache"
	"github.com/suteetoe/pharmadesk/pkg/config"
	"github.com/suteetoe/pharmadesk/pkg/jwtutil"
	"github.com/suteetoe/pharmadesk/pkg/logger"
	"github.com/suteetoe/pharmadesk/pkg/telemetry"
	"github.com/suteetoe/pharmadesk/prometheus"
)

// Options carries the optional collaborators that depend on external services.
type Options struct {
	Limiter     otp.Limiter
	Dispatcher  otp.Dispatcher
	Cache       *cache.Cache
	Now         func() time.Time
	GenerateOTP func() (string, error)
}

// Server is the assembled application.
type Server struct {
	Echo *echo.Echo
	OTP  *otp.Service
}

// New wires repositories, services, handlers and routes.
func New(cfg *config.Config, db *gorm.DB, opts Options) (*Server, error) {
	tokens, err := jwtutil.New(cfg.JWT)
	if err != nil {
		return nil, err
	}
	timeout := cfg.DB.QueryTimeout

	otpSvc := otp.NewService(db, otp.Options{
		TTL:          cfg.OTP.TTL,
		Cooldown:     cfg.OTP.Cooldown,
		QueryTimeout: timeout,
		Limiter:      opts.Limiter,
		Dispatcher:   opts.Dispatcher,
		Now:          opts.Now,
		Generate:     opts.GenerateOTP,
	})
	alloc := sequence.New(db, sequence.Floors{
		TenantCode: cfg.Sequence.TenantFloor,
		UserSuffix: cfg.Sequence.UserFloor,
	}, timeout)
	reg := registrar.New(db, alloc, otpSvc, cfg.Registration.MaxAttempts, timeout)

	users := repository.NewUserRepository(db, timeout)
	orders := repository.NewOrderRepository(db, timeout)
	tenants := repository.NewTenantRepository(db, timeout, opts.Cache)

	guard := middleware.NewGuard(tokens, users)
	echoCode := cfg.OTP.EchoCode && !cfg.Server.IsProduction()

	authHandler := handler.NewAuthHandler(otpSvc, reg, users, tokens, echoCode)
	userHandler := handler.NewUserHandler(reg, users, tenants)
	tenantHandler := handler.NewTenantHandler(tenants)
	orderHandler := handler.NewOrderHandler(orders)
	healthHandler := handler.NewHealthHandler(db, cfg.ServiceName, 0)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httperr.Handler

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.BodyLimit("1M"))
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware())
	e.Use(prometheus.MetricsMiddleware())
	e.Use(telemetry.Middleware(cfg.Tracing.ServiceName))

	// Public routes - no authentication required
	e.GET("/health", healthHandler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	auth := e.Group("/auth")
	auth.POST("/send-otp", authHandler.SendOTP)
	auth.POST("/verify-otp", authHandler.VerifyOTP)
	auth.POST("/register-tenant", authHandler.RegisterTenant)
	auth.POST("/login", authHandler.Login)

	// Tenant scoped routes - all require authentication
	userRoutes := e.Group("/users", guard.Authenticate)
	userRoutes.GET("/me", userHandler.Me)
	userRoutes.POST("/change-password", userHandler.ChangePassword)
	userRoutes.GET("", userHandler.ListUsers, middleware.RequireRole(model.RoleAdmin))
	userRoutes.POST("/add", userHandler.AddUser, middleware.RequireRole(model.RoleAdmin))

	e.GET("/tenant", tenantHandler.GetTenant, guard.Authenticate)

	orderRoutes := e.Group("/orders", guard.Authenticate, middleware.RequireRole(model.RoleStaff))
	orderRoutes.GET("", orderHandler.ListOrders)
	orderRoutes.POST("", orderHandler.CreateOrder)
	orderRoutes.GET("/:id", orderHandler.GetOrder)
	orderRoutes.PATCH("/:id", orderHandler.UpdateOrder)
	orderRoutes.DELETE("/:id", orderHandler.DeleteOrder)

	return &Server{Echo: e, OTP: otpSvc}, nil
}
