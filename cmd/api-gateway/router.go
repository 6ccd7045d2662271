package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/grievance-api/api/swagger"
	"github.com/noah-isme/grievance-api/internal/handler"
	"github.com/noah-isme/grievance-api/internal/middleware"
	"github.com/noah-isme/grievance-api/internal/models"
	"github.com/noah-isme/grievance-api/internal/service"
	"github.com/noah-isme/grievance-api/pkg/config"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
	"github.com/noah-isme/grievance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/grievance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/grievance-api/pkg/middleware/requestid"
	"github.com/noah-isme/grievance-api/pkg/response"
)

type routerDeps struct {
	gate          middleware.Authenticator
	metrics       *service.MetricsService
	loginLimiter  *middleware.RateLimiter
	auth          *handler.AuthHandler
	grievances    *handler.GrievanceHandler
	notifications *handler.NotificationHandler
	analytics     *handler.AnalyticsHandler
	attachments   *handler.AttachmentHandler
	system        *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.NoRoute(func(c *gin.Context) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "Route not found"))
	})
	r.NoMethod(func(c *gin.Context) {
		response.Error(c, appErrors.New("METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, "Method not allowed"))
	})

	r.GET("/health", deps.system.Health)
	r.GET("/ready", deps.system.Ready)
	r.GET("/metrics", deps.system.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	cookie := cfg.Session.CookieName
	anyUser := middleware.RequireAuth(deps.gate, cookie, middleware.AnyUser)
	member := middleware.RequireAuth(deps.gate, cookie, middleware.AccessPolicy{})
	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	limited := deps.loginLimiter.RateLimit()

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	auth := api.Group("/auth")
	auth.POST("/register", limited, deps.auth.Register)
	auth.POST("/login", limited, deps.auth.Login)
	auth.POST("/logout", deps.auth.Logout)
	auth.GET("/me", anyUser, deps.auth.Me)

	grievances := api.Group("/grievances")
	grievances.POST("", middleware.OptionalAuth(deps.gate, cookie), deps.grievances.Create)
	grievances.GET("", anyUser, deps.grievances.List)
	grievances.GET("/track", limited, deps.grievances.Track)
	grievances.GET("/stats", anyUser, deps.analytics.Stats)

	reports := grievances.Group("/analytics", member, adminOnly)
	reports.GET("", deps.analytics.Analytics)
	reports.GET("/export", deps.analytics.Export)

	grievances.GET("/:id", anyUser, deps.grievances.Get)
	grievances.PATCH("/:id", member, deps.grievances.Update)
	grievances.GET("/:id/attachments/:index", anyUser, deps.attachments.Link)

	api.GET("/attachments/download", deps.attachments.Download)

	notifications := api.Group("/notifications", member)
	notifications.GET("", deps.notifications.List)
	notifications.POST("/mark-read", deps.notifications.MarkRead)

	api.GET("/system/metrics", member, adminOnly, deps.system.Snapshot)

	return r
}
