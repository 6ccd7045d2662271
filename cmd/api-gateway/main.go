package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/grievance-api/internal/handler"
	"github.com/noah-isme/grievance-api/internal/middleware"
	"github.com/noah-isme/grievance-api/internal/repository"
	"github.com/noah-isme/grievance-api/internal/service"
	"github.com/noah-isme/grievance-api/pkg/cache"
	"github.com/noah-isme/grievance-api/pkg/config"
	"github.com/noah-isme/grievance-api/pkg/database"
	"github.com/noah-isme/grievance-api/pkg/jobs"
	"github.com/noah-isme/grievance-api/pkg/logger"
	"github.com/noah-isme/grievance-api/pkg/mailer"
	"github.com/noah-isme/grievance-api/pkg/storage"
)

// @title Grievance Portal API
// @version 1.0.0
// @description Grievance intake, case management, notifications and resolution analytics.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, using in-process cache", zap.Error(err))
		} else {
			redisRepo := repository.NewRedisCacheRepository(client, logr)
			defer redisRepo.Close() //nolint:errcheck
			cacheRepo = redisRepo
		}
	}
	if cacheRepo == nil {
		cacheRepo = repository.NewMemoryCacheRepository(cfg.Analytics.CacheTTL, 5*time.Minute)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Analytics.CacheTTL, logr, true)

	userRepo := repository.NewUserRepository(db)
	grievanceRepo := repository.NewGrievanceRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	authSvc := service.NewAuthService(userRepo, validator.New(), logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		AdminInviteCode:   cfg.Auth.AdminInviteCode,
	})

	var notificationSvc *service.NotificationService
	emailQueue := jobs.NewQueue("notification-email", func(ctx context.Context, job jobs.Job) error {
		return notificationSvc.HandleEmailJob(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	})
	notificationSvc = service.NewNotificationService(notificationRepo, userRepo, mailer.New(cfg.SMTP, logr), logr,
		service.WithEmailQueue(emailQueue),
		service.WithNotificationMetrics(metricsSvc),
		service.WithPortalBaseURL(cfg.Notifications.PortalBaseURL),
	)

	fileStore, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare attachment storage", zap.Error(err))
	}
	attachmentSvc := service.NewAttachmentService(
		fileStore,
		storage.NewSignedURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL),
		grievanceRepo,
		logr,
		service.AttachmentConfig{
			MaxFileSize:  cfg.Attachments.MaxFileSizeBytes,
			AllowedMIMEs: cfg.Attachments.AllowedMIMEs,
			APIPrefix:    cfg.APIPrefix,
		},
	)

	grievanceSvc := service.NewGrievanceService(grievanceRepo, notificationSvc, logr,
		service.WithGrievanceCache(cacheSvc),
		service.WithGrievanceMetrics(metricsSvc),
		service.WithAttachments(attachmentSvc),
	)
	analyticsSvc := service.NewAnalyticsService(grievanceRepo, cacheSvc, metricsSvc, logr, cfg.Analytics.CacheTTL)

	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()
	emailQueue.Start(queueCtx)

	r := newRouter(cfg, logr, routerDeps{
		gate:          authSvc,
		metrics:       metricsSvc,
		loginLimiter:  middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: middleware.PerMinute(cfg.RateLimit.LoginPerMinute), Burst: cfg.RateLimit.LoginBurst}),
		auth:          handler.NewAuthHandler(authSvc, handler.SessionCookie{Name: cfg.Session.CookieName, Secure: cfg.Session.Secure, MaxAge: cfg.Session.MaxAge}),
		grievances:    handler.NewGrievanceHandler(grievanceSvc, maxUploadBody(cfg)),
		notifications: handler.NewNotificationHandler(notificationSvc),
		analytics:     handler.NewAnalyticsHandler(analyticsSvc),
		attachments:   handler.NewAttachmentHandler(attachmentSvc),
		system:        handler.NewMetricsHandler(metricsSvc, db),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("server forced to shutdown", zap.Error(err))
	}
	emailQueue.Stop()
	logr.Info("server exited")
}

// maxUploadBody allows five attachments at the per-file limit plus form fields.
func maxUploadBody(cfg *config.Config) int64 {
	return cfg.Attachments.MaxFileSizeBytes*5 + 1<<20
}
