package router

import (
	"github.com/cuongbtq/marketsync/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	if deps.Health != nil {
		r.GET("/health", handler.NewHealthHandler(deps).Health)
	}

	cronHandler := handler.NewCronHandler(deps)
	r.GET("/cron", cronHandler.Run)
	r.POST("/cron", cronHandler.Run)

	r.POST("/webhooks/:marketplace", handler.NewWebhookHandler(deps).Receive)

	jobHandler := handler.NewJobHandler(deps)
	taskHandler := handler.NewTaskHandler(deps)
	alertHandler := handler.NewAlertHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/retry", jobHandler.RetryJob)
		}

		v1.GET("/queue/stats", jobHandler.QueueStats)

		tasks := v1.Group("/tasks")
		{
			tasks.GET("", taskHandler.ListTasks)
			tasks.POST("/:name/run", taskHandler.RunTask)
			tasks.GET("/:name/stats", taskHandler.TaskStats)
		}

		alerts := v1.Group("/alerts")
		{
			alerts.GET("/rules", alertHandler.ListRules)
			alerts.GET("/events", alertHandler.ListEvents)
		}
	}

	return r
}
