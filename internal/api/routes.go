package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"acadRepo/internal/api/middleware"
	"acadRepo/internal/auth"
	"acadRepo/internal/config"
	"acadRepo/internal/database"
	"acadRepo/internal/synopsis"
	"acadRepo/internal/upload"
)

// Dependencies are the collaborators shared by the HTTP handlers. Redis and Tasks may be nil.
type Dependencies struct {
	DB         *gorm.DB
	Auth       *auth.AuthService
	Redis      redis.UniversalClient
	Store      FileStore
	Mailer     Mailer
	Summarizer synopsis.Summarizer
	Tasks      TaskEnqueuer
	Uploads    *upload.Validator
	Logger     *slog.Logger
}

// RegisterRoutes mounts the versioned API under /v1.
func RegisterRoutes(router *gin.Engine, cfg *config.Config, deps Dependencies) {
	authHandler := NewAuthHandler(deps.DB, deps.Auth, deps.Redis, deps.Store, deps.Mailer, deps.Uploads, deps.Logger, cfg.Auth)
	projectHandler := NewProjectHandler(
		deps.DB, deps.Store, deps.Summarizer, deps.Tasks, deps.Uploads, deps.Logger,
		cfg.Uploads.PageSize, cfg.Uploads.SynopsisBackgroundRetries,
	)
	dashboardHandler := NewDashboardHandler(deps.DB, deps.Logger)
	exportHandler := NewExportHandler(deps.DB, deps.Logger)
	profileHandler := NewProfileHandler(deps.DB, deps.Store, deps.Uploads, deps.Logger)

	var counter redisRateCounter
	if deps.Redis != nil {
		counter = deps.Redis
	}
	synopsisHandler := NewSynopsisHandler(deps.Summarizer, counter, deps.Logger, cfg.Uploads.SynopsisRequestsPerHour)

	authMiddleware := middleware.AuthMiddleware(deps.Auth)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()

	v1 := router.Group("/v1")
	{
		if deps.Redis != nil {
			notifications := NewNotificationSocket(deps.Redis, deps.Auth, deps.Logger, cfg.API.AllowedOrigins)
			v1.GET("/ws", notifications.Serve)
		}

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authHandler.Logout)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
		}

		v1.GET("/projects", projectHandler.List)
		v1.GET("/projects/filters", projectHandler.Filters)
		v1.GET("/projects/:id", projectHandler.Get)
		v1.GET("/projects/:id/download", projectHandler.Download)
		v1.GET("/projects/:id/cover", projectHandler.Cover)
		v1.GET("/export", exportHandler.ExportCSV)

		protected := v1.Group("")
		protected.Use(authMiddleware, passwordGate)
		{
			protected.POST("/projects", middleware.RequireRole(database.RoleStudent, database.RoleAdmin), projectHandler.Create)
			protected.GET("/projects/mine", projectHandler.Mine)
			protected.PUT("/projects/:id", projectHandler.Update)
			protected.DELETE("/projects/:id", projectHandler.Delete)

			protected.GET("/dashboard", dashboardHandler.Dashboard)
			protected.GET("/admin/dashboard", middleware.RequireRole(database.RoleAdmin), dashboardHandler.AdminDashboard)

			protected.GET("/profile", profileHandler.Get)
			protected.PUT("/profile", profileHandler.Update)
			protected.GET("/profile/avatar", profileHandler.Avatar)

			protected.POST("/synopsis", synopsisHandler.Generate)
		}
	}
}
