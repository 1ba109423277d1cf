package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/ecollege/hse-api/api/swagger"
	"github.com/ecollege/hse-api/internal/handler"
	"github.com/ecollege/hse-api/internal/middleware"
	"github.com/ecollege/hse-api/internal/models"
	"github.com/ecollege/hse-api/internal/repository"
	"github.com/ecollege/hse-api/internal/service"
	"github.com/ecollege/hse-api/pkg/cache"
	"github.com/ecollege/hse-api/pkg/config"
	"github.com/ecollege/hse-api/pkg/database"
	"github.com/ecollege/hse-api/pkg/logger"
	corsmiddleware "github.com/ecollege/hse-api/pkg/middleware/cors"
	reqidmiddleware "github.com/ecollege/hse-api/pkg/middleware/requestid"
)

// @title HSE API
// @version 1.0.0
// @description Back office for teacher overtime session declarations
// @BasePath /api/v1
// @schemes http

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
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, settings cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	settingRepo := repository.NewSettingRepository(db)
	settingCache := repository.NewSettingCache(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "hse-api",
		Audience:           []string{"hse-clients"},
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	settingSvc := service.NewSettingService(settingRepo, settingCache, userRepo, logr,
		cfg.Settings.CacheTTL, cfg.Sessions.DefaultEditWindowMinutes)
	sessionSvc := service.NewSessionService(sessionRepo, settingSvc, userRepo, validate, logr,
		service.WithTransitionRecorder(metricsSvc))

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc)
	settingHandler := handler.NewSettingHandler(settingSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	sessions := api.Group("/sessions", middleware.JWT(authSvc))
	{
		sessions.POST("", middleware.RequireRoles(models.RoleTeacher), sessionHandler.Create)
		sessions.GET("", sessionHandler.List)
		sessions.GET("/export", middleware.RequireRoles(models.RoleSecretary, models.RolePrincipal, models.RoleAdmin), sessionHandler.Export)
		sessions.GET("/:id", sessionHandler.Get)
		sessions.GET("/:id/edit-status", sessionHandler.EditStatus)
		sessions.PATCH("/:id", sessionHandler.Update)
		sessions.POST("/:id/validate", middleware.RequireRoles(models.RolePrincipal), sessionHandler.Validate)
		sessions.DELETE("/:id", sessionHandler.Delete)
	}

	settings := api.Group("/settings", middleware.JWT(authSvc))
	{
		settings.GET("", settingHandler.List)
		settings.GET("/:key", settingHandler.Get)
		settings.PUT("/:key", middleware.RequireRoles(models.RoleAdmin), settingHandler.Update)
	}

	users := api.Group("/users", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		users.GET("", userHandler.List)
		users.GET("/:id", userHandler.Get)
		users.POST("", middleware.Audit(userRepo, models.AuditActionUserCreate, "users"), userHandler.Create)
		users.PUT("/:id", middleware.Audit(userRepo, models.AuditActionUserUpdate, "users"), userHandler.Update)
		users.DELETE("/:id", middleware.Audit(userRepo, models.AuditActionUserDelete, "users"), userHandler.Delete)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
