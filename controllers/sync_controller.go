package controllers

import (
	"net/http"
	"strconv"
	"time"

	"twmarket_backend/models"
	"twmarket_backend/scheduler"
	"twmarket_backend/services/jobfeed"

	"github.com/gin-gonic/gin"
)

// SyncController handles manual job triggers and job history
type SyncController struct {
	sched *scheduler.Scheduler
	hub   *jobfeed.Hub
}

// NewSyncController creates a new sync controller
func NewSyncController(sched *scheduler.Scheduler, hub *jobfeed.Hub) *SyncController {
	return &SyncController{sched: sched, hub: hub}
}

// ListJobs returns the registered job names
// GET /api/v1/jobs
func (sc *SyncController) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": sc.sched.JobNames()})
}

// RunJob triggers a job by name. Subject to the dedup guard unless
// force=true.
// POST /api/v1/jobs/:name/run
func (sc *SyncController) RunJob(c *gin.Context) {
	name := c.Param("name")
	force := c.Query("force") == "true"

	entry, err := sc.sched.RunJob(c.Request.Context(), name, force)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if entry.Status == models.JobStatusFailed {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{
		"job":     name,
		"status":  entry.Status,
		"summary": entry.Summary,
		"error":   entry.ErrorDetail,
	})
}

// JobHistory returns recent runs for a job
// GET /api/v1/jobs/:name/history
func (sc *SyncController) JobHistory(c *gin.Context) {
	name := c.Param("name")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	entries, err := sc.sched.Guard().History(c.Request.Context(), name, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch job history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": name, "history": entries})
}

// IntegrityReports returns recent integrity reports
// GET /api/v1/integrity/reports
func (sc *SyncController) IntegrityReports(c *gin.Context) {
	domain := c.DefaultQuery("domain", models.DomainDailyPrice)
	stockID := c.Query("stock_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	reports, err := sc.sched.Checker().Reports(c.Request.Context(), domain, stockID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch integrity reports"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"domain": domain, "reports": reports})
}

// checkRequest is the body for an ad-hoc integrity check
type checkRequest struct {
	Domain   string   `json:"domain" binding:"required"`
	StockIDs []string `json:"stock_ids"`
	Start    string   `json:"start" binding:"required"`
	End      string   `json:"end" binding:"required"`
	AutoFix  bool     `json:"auto_fix"`
}

// RunIntegrityCheck runs an integrity check over a requested window
// POST /api/v1/integrity/check
func (sc *SyncController) RunIntegrityCheck(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start date, use YYYY-MM-DD"})
		return
	}
	end, err := time.Parse("2006-01-02", req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end date, use YYYY-MM-DD"})
		return
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "End date before start date"})
		return
	}

	reports, err := sc.sched.Checker().Check(c.Request.Context(), req.Domain, req.StockIDs, start, end, req.AutoFix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var gaps, fixed int
	for _, r := range reports {
		gaps += r.GapCount
		fixed += r.FixedCount
	}
	c.JSON(http.StatusOK, gin.H{
		"domain":  req.Domain,
		"checked": len(reports),
		"gaps":    gaps,
		"fixed":   fixed,
		"reports": reports,
	})
}

// JobFeed upgrades the connection to the live job event stream
// GET /ws/jobs
func (sc *SyncController) JobFeed(c *gin.Context) {
	sc.hub.ServeWS(c.Writer, c.Request)
}
