package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/codetribe/bootcamp-api/api/swagger"
	"github.com/codetribe/bootcamp-api/internal/handler"
	"github.com/codetribe/bootcamp-api/internal/middleware"
	"github.com/codetribe/bootcamp-api/internal/models"
	"github.com/codetribe/bootcamp-api/internal/repository"
	"github.com/codetribe/bootcamp-api/internal/service"
	"github.com/codetribe/bootcamp-api/pkg/cache"
	"github.com/codetribe/bootcamp-api/pkg/config"
	"github.com/codetribe/bootcamp-api/pkg/database"
	"github.com/codetribe/bootcamp-api/pkg/export"
	"github.com/codetribe/bootcamp-api/pkg/logger"
	corsmiddleware "github.com/codetribe/bootcamp-api/pkg/middleware/cors"
	reqidmiddleware "github.com/codetribe/bootcamp-api/pkg/middleware/requestid"
	"github.com/codetribe/bootcamp-api/pkg/storage"
)

// @title Bootcamp API
// @version 1.0.0
// @description Enrollment progress, certificate lifecycle and role-gated navigation for the bootcamp platform
// @BasePath /api/v1
// @schemes http
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The API stays up without Redis; caching simply turns off.
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	store, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init certificate storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	certificateRepo := repository.NewCertificateRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Catalog.CacheTTL, logr, redisClient != nil)

	authSvc := service.NewAuthService(userRepo, cfg.JWT, nil, logr)
	courseSvc := service.NewCourseService(courseRepo, cacheSvc, cfg.Catalog.CacheTTL, nil, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseSvc, certificateRepo, export.NewCSVExporter(), metricsSvc, nil, logr)
	certificateSvc := service.NewCertificateService(
		certificateRepo, enrollmentRepo, courseSvc, userRepo,
		export.NewCertificatePDFRenderer(), store, signer,
		cfg.Certificates.SerialPrefix, "Bootcamp Academy",
		metricsSvc, nil, logr,
	)
	dashboardSvc := service.NewDashboardService(enrollmentRepo, certificateRepo, cacheSvc, cfg.Dashboard.CacheTTL, cfg.Dashboard.Enabled, logr)
	guard := service.NewRouteGuard(logr)

	authHandler := handler.NewAuthHandler(authSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	certificateHandler := handler.NewCertificateHandler(certificateSvc)
	routeHandler := handler.NewRouteHandler(guard)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, redisClient)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.PUT("/password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	api.GET("/routes/resolve", middleware.OptionalJWT(authSvc), routeHandler.Resolve)

	courses := api.Group("/courses")
	{
		courses.GET("", courseHandler.List)
		courses.GET("/:id", courseHandler.Get)
		adminJWT := middleware.JWT(authSvc)
		adminRole := middleware.RequireRoles(models.RoleAdmin)
		adminAudit := middleware.Audit(userRepo, models.AuditActionCourseChange, "course")
		courses.POST("", adminJWT, adminRole, adminAudit, courseHandler.Create)
		courses.PUT("/:id", adminJWT, adminRole, adminAudit, courseHandler.Update)
		courses.PUT("/:id/curriculum", adminJWT, adminRole, adminAudit, courseHandler.UpdateCurriculum)
	}

	enrollments := api.Group("/enrollments", middleware.JWT(authSvc))
	{
		enrollments.GET("", enrollmentHandler.List)
		enrollments.POST("", enrollmentHandler.Create)
		enrollments.GET("/export", middleware.Operators(), enrollmentHandler.ExportRoster)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.DELETE("/:id", enrollmentHandler.Cancel)
		enrollments.POST("/:id/lessons", enrollmentHandler.CompleteLesson)
		enrollments.GET("/:id/progress", enrollmentHandler.Progress)
		enrollments.POST("/:id/certificate", certificateHandler.Apply)
		enrollments.GET("/:id/certificate", certificateHandler.Status)
		enrollments.GET("/:id/certificate/history", certificateHandler.History)
	}

	certificates := api.Group("/certificates")
	{
		certificates.GET("/download", certificateHandler.Download)
		certificates.GET("", middleware.JWT(authSvc), middleware.Operators(), certificateHandler.List)
		certificates.GET("/:id/download-url", middleware.JWT(authSvc), certificateHandler.DownloadURL)
		// Operators reach the handlers; the service enforces the admin-only
		// rule itself so denied attempts land in the audit log with the full
		// verdict payload. No audit middleware here for that reason.
		certificates.PUT("/:id/decision", middleware.JWT(authSvc), middleware.Operators(), certificateHandler.Decide)
		certificates.PUT("/:id/revoke", middleware.JWT(authSvc), middleware.Operators(), certificateHandler.Revoke)
	}

	api.GET("/dashboard/summary", middleware.JWT(authSvc), dashboardHandler.Summary)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
