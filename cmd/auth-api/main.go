package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/auth-api/api/swagger"
	"github.com/noah-isme/auth-api/internal/handler"
	"github.com/noah-isme/auth-api/internal/middleware"
	"github.com/noah-isme/auth-api/internal/repository"
	"github.com/noah-isme/auth-api/internal/service"
	"github.com/noah-isme/auth-api/internal/token"
	"github.com/noah-isme/auth-api/pkg/cache"
	"github.com/noah-isme/auth-api/pkg/config"
	"github.com/noah-isme/auth-api/pkg/database"
	"github.com/noah-isme/auth-api/pkg/jobs"
	"github.com/noah-isme/auth-api/pkg/logger"
	"github.com/noah-isme/auth-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/auth-api/pkg/middleware/requestid"
)

// @title Auth API
// @version 1.0.0
// @description Session lifecycle service: registration, login, token refresh and revocation
// @BasePath /api/v1
// @schemes http https

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
		logr.Sugar().Warnw("redis unavailable, revocation checks fall back to postgres", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db, redisClient, logr)
	codec := token.NewCodec(cfg.JWT.Secret, cfg.JWT.Issuer)

	sender := buildSender(cfg, logr)
	notifier := mailer.NewNotifier(sender, cfg.Mail.SubjectPrefix)

	var metricsSvc *service.MetricsService
	if cfg.Metrics.Enabled {
		metricsSvc = service.NewMetricsService()
	}

	notifySvc := service.NewNotificationService(notifier, metricsSvc, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		BufferSize: cfg.Jobs.BufferSize,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
	}, logr)
	notifySvc.Start(ctx)
	defer notifySvc.Stop()

	authSvc := service.NewAuthService(userRepo, tokenRepo, codec, notifySvc, metricsSvc, nil, logr, service.AuthConfig{
		AccessTokenExpiry:  cfg.JWT.AccessExpiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
	})
	accountSvc := service.NewAccountService(userRepo, notifySvc, metricsSvc, nil, logr, service.AccountConfig{
		BaseURL:            cfg.BaseURL,
		ResetTokenValidity: cfg.Reset.TokenValidity,
	})

	// Expired rows in the outstanding token table are dead weight once past
	// their exp; prune them daily.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := tokenRepo.PurgeExpired(ctx, time.Now().UTC())
				if err != nil {
					logr.Sugar().Warnw("token purge failed", "error", err)
					continue
				}
				logr.Sugar().Infow("purged expired tokens", "count", purged)
			}
		}
	}()

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
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Metrics.Enabled {
		r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	accountHandler := handler.NewAccountHandler(accountSvc)

	auth := r.Group(cfg.APIPrefix + "/auth")
	{
		auth.POST("/register", accountHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/token/refresh", authHandler.Refresh)
		auth.POST("/token/verify", authHandler.Verify)
		auth.GET("/verify-email/:token", accountHandler.VerifyEmail)
		auth.POST("/resend-verification", accountHandler.ResendVerification)
		auth.POST("/password/reset", accountHandler.RequestPasswordReset)
		auth.POST("/password/reset/confirm", accountHandler.ConfirmPasswordReset)

		protected := auth.Group("")
		protected.Use(middleware.JWT(authSvc))
		protected.POST("/logout", authHandler.Logout)
		protected.POST("/password/change", authHandler.ChangePassword)
		protected.GET("/me", accountHandler.Me)
		protected.PATCH("/me", accountHandler.UpdateMe)
	}

	if cfg.Google.Enabled {
		oauthSvc := service.NewOAuthService(userRepo, authSvc, cfg.Google, logr)
		oauthHandler := handler.NewOAuthHandler(oauthSvc)
		auth.GET("/google/login", oauthHandler.Login)
		auth.GET("/google/callback", oauthHandler.Callback)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

func buildSender(cfg *config.Config, logr *zap.Logger) mailer.Sender {
	if cfg.Mail.Host == "" {
		return mailer.NewLogSender(logr)
	}
	smtp := mailer.NewSMTPSender(cfg.Mail)
	if cfg.Mail.ConsoleMirror {
		return mailer.NewMultiSender(smtp, mailer.NewLogSender(logr))
	}
	return smtp
}
