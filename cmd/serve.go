package cmd

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"twmarket_backend/config"
	"twmarket_backend/routes"
	"twmarket_backend/scheduler"
	"twmarket_backend/services/archive"
	"twmarket_backend/services/jobfeed"
	"twmarket_backend/services/notify"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCMD = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the background sync scheduler",
	Run: func(cmd *cobra.Command, args []string) {
		db := bootstrap()

		if config.AppConfig.Environment == "production" {
			gin.SetMode(gin.ReleaseMode)
		}

		router := gin.New()
		router.Use(gin.Recovery())
		router.Use(corsMiddleware())
		router.Use(requestLogger())

		// Live job feed plus optional webhook and Mongo mirrors of every
		// finished job run
		hub := jobfeed.NewHub()
		jobScheduler := scheduler.NewScheduler(db)
		jobScheduler.Guard().AddPublisher(hub)
		if archive.GlobalArchive != nil {
			jobScheduler.Guard().AddPublisher(archive.GlobalArchive)
		}
		if config.AppConfig.NotifyWebhookURL != "" {
			jobScheduler.Guard().AddPublisher(notify.NewNotifier(config.AppConfig.NotifyWebhookURL))
		}

		routes.SetupRoutes(router, db, jobScheduler, hub)

		server := &http.Server{
			Addr:              "0.0.0.0:" + config.AppConfig.Port,
			Handler:           router,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20, // 1 MB
		}

		go func() {
			log.Printf("Server listening on 0.0.0.0:%s", config.AppConfig.Port)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Server error: %v", err)
			}
		}()

		go jobScheduler.Start()

		gracefulShutdown(server, jobScheduler)
	},
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, jobScheduler *scheduler.Scheduler) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	// Stop scheduler first so no new job runs begin
	if jobScheduler != nil {
		jobScheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if archive.GlobalArchive != nil {
		archive.GlobalArchive.Close()
	}

	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}
