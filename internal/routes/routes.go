package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"printflow/internal/authz"
	"printflow/internal/handlers"
	"printflow/internal/middleware"
)

func SetupRoutes(
	r *gin.Engine,
	jwtKey []byte,
	reminderHandler *handlers.ReminderHandler,
	feedHandler *handlers.FeedHandler,
	contactHandler *handlers.ContactHandler,
) *gin.Engine {

	// ---- public
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// ---- protected
	r.Use(middleware.AuthMiddleware(jwtKey))
	r.Use(middleware.ReadOnlyGuard())

	// PROJECTS
	projects := r.Group("/projects/:id")
	{
		projects.POST("/reminders", reminderHandler.Create)
		projects.GET("/reminders", reminderHandler.List)
		// status changes come from production staff and the order backend's service account
		projects.POST("/status-events",
			middleware.RequireRoles(authz.RoleProduction, authz.RoleManagement, authz.RoleAdmin),
			reminderHandler.StatusChanged)
	}

	// REMINDERS
	reminders := r.Group("/reminders")
	{
		reminders.GET("/due", reminderHandler.Due)
		reminders.GET("/:id", reminderHandler.Get)
		reminders.POST("/:id/snooze", reminderHandler.Snooze)
		reminders.POST("/:id/complete", reminderHandler.Complete)
		reminders.POST("/:id/cancel", reminderHandler.Cancel)
		reminders.POST("/:id/pause", reminderHandler.Pause)
		reminders.POST("/:id/resume", reminderHandler.Resume)
	}

	// FEED
	feed := r.Group("/feed")
	{
		feed.GET("", feedHandler.List)
		feed.GET("/ws", feedHandler.Socket)
		feed.POST("/:id/read", feedHandler.MarkRead)
	}

	// ME
	r.GET("/me/contact", contactHandler.Get)
	r.PUT("/me/contact", contactHandler.Update)

	return r
}
