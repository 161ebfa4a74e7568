package routes

import (
	"net/http"

	"twmarket_backend/controllers"
	"twmarket_backend/middleware"
	"twmarket_backend/scheduler"
	"twmarket_backend/services/jobfeed"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, sched *scheduler.Scheduler, hub *jobfeed.Hub) {
	// Initialize controllers
	syncController := controllers.NewSyncController(sched, hub)
	dataController := controllers.NewDataController(db)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Read endpoints for synced data
		instruments := api.Group("/instruments")
		{
			instruments.GET("", dataController.GetInstruments)
			instruments.GET("/:id/bars", dataController.GetBars)
			instruments.GET("/:id/flows", dataController.GetFlows)
		}

		futures := api.Group("/futures")
		{
			futures.GET("/:root/contracts", dataController.GetContracts)
			futures.GET("/:root/continuous", dataController.GetContinuous)
		}

		// Operator endpoints: job control and integrity
		ops := api.Group("")
		ops.Use(middleware.OperatorAuthMiddleware())
		{
			jobs := ops.Group("/jobs")
			{
				jobs.GET("", syncController.ListJobs)
				jobs.POST("/:name/run", middleware.TriggerRateLimitMiddleware(), syncController.RunJob)
				jobs.GET("/:name/history", syncController.JobHistory)
			}

			integrity := ops.Group("/integrity")
			{
				integrity.GET("/reports", syncController.IntegrityReports)
				integrity.POST("/check", syncController.RunIntegrityCheck)
			}
		}
	}

	// Live job event stream
	router.GET("/ws/jobs", syncController.JobFeed)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "TW market sync service is running",
		})
	})

	// Readiness: verifies the database connection
	router.GET("/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}
