package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/genqueue/internal/api/handler"
	"github.com/cuongbtq/genqueue/internal/auth"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, verifier auth.Verifier) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	jobHandler := handler.NewJobHandler(deps)
	appHandler := handler.NewAppHandler(deps)
	projectHandler := handler.NewProjectHandler(deps)
	notificationHandler := handler.NewNotificationHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(auth.RequireUser(verifier, deps.Logger))
	{
		v1.GET("/apps", appHandler.ListApps)

		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Queue a generation job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List the user's jobs
			jobs.GET("", jobHandler.ListJobs)

			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/retry", jobHandler.RetryJob)
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		projects := v1.Group("/projects")
		{
			projects.GET("", projectHandler.ListProjects)
			projects.DELETE("/:project_id", projectHandler.DeleteProject)
		}

		v1.GET("/notifications", notificationHandler.ListNotifications)
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		checks := make(gin.H, len(deps.Health))
		for name, checker := range deps.Health {
			if err := checker.HealthCheck(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":  state,
			"service": "genqueue-api",
			"checks":  checks,
		})
	}
}
