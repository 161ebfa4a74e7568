package controllers

import (
	"net/http"
	"strconv"
	"time"

	"twmarket_backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// DataController serves the synced market data
type DataController struct {
	db *gorm.DB
}

// NewDataController creates a new data controller
func NewDataController(db *gorm.DB) *DataController {
	return &DataController{db: db}
}

// GetInstruments returns the tracked instruments
// GET /api/v1/instruments
func (dc *DataController) GetInstruments(c *gin.Context) {
	var instruments []models.Instrument

	query := dc.db.Model(&models.Instrument{})
	if t := c.Query("type"); t != "" {
		query = query.Where("type = ?", t)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Order("id").Find(&instruments).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch instruments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": instruments})
}

// GetBars returns bars for an instrument within a date range
// GET /api/v1/instruments/:id/bars
func (dc *DataController) GetBars(c *gin.Context) {
	id := c.Param("id")
	timeframe := c.DefaultQuery("timeframe", models.TimeframeDaily)
	start, end, ok := dc.parseRange(c)
	if !ok {
		return
	}

	var bars []models.Bar
	err := dc.db.Where("stock_id = ? AND timeframe = ? AND ts >= ? AND ts <= ?",
		id, timeframe, start, end).
		Order("ts").
		Find(&bars).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch bars"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stock_id":  id,
		"timeframe": timeframe,
		"count":     len(bars),
		"data":      bars,
	})
}

// GetFlows returns institutional flow rows for an instrument
// GET /api/v1/instruments/:id/flows
func (dc *DataController) GetFlows(c *gin.Context) {
	id := c.Param("id")
	start, end, ok := dc.parseRange(c)
	if !ok {
		return
	}

	var flows []models.InstitutionalFlow
	query := dc.db.Where("stock_id = ? AND date >= ? AND date <= ?", id, start, end)
	if cat := c.Query("category"); cat != "" {
		query = query.Where("category = ?", cat)
	}
	if err := query.Order("date").Find(&flows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch flows"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stock_id": id, "count": len(flows), "data": flows})
}

// GetContinuous returns the back-adjusted continuous series for a futures root
// GET /api/v1/futures/:root/continuous
func (dc *DataController) GetContinuous(c *gin.Context) {
	root := c.Param("root")
	start, end, ok := dc.parseRange(c)
	if !ok {
		return
	}

	var bars []models.Bar
	err := dc.db.Where("stock_id = ? AND timeframe = ? AND ts >= ? AND ts <= ?",
		models.ContinuousID(root), models.TimeframeDaily, start, end).
		Order("ts").
		Find(&bars).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch continuous series"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"root":  root,
		"id":    models.ContinuousID(root),
		"count": len(bars),
		"data":  bars,
	})
}

// GetContracts returns the known contracts for a futures root
// GET /api/v1/futures/:root/contracts
func (dc *DataController) GetContracts(c *gin.Context) {
	root := c.Param("root")

	var contracts []models.FuturesContract
	if err := dc.db.Where("root = ?", root).Order("expiry_date").Find(&contracts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch contracts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"root": root, "data": contracts})
}

// parseRange reads start/end query params, defaulting to the last 90 days.
func (dc *DataController) parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "90"))
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	if s := c.Query("start"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start date, use YYYY-MM-DD"})
			return time.Time{}, time.Time{}, false
		}
		start = parsed
	}
	if e := c.Query("end"); e != "" {
		parsed, err := time.Parse("2006-01-02", e)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end date, use YYYY-MM-DD"})
			return time.Time{}, time.Time{}, false
		}
		// range is inclusive of the end date
		end = parsed.AddDate(0, 0, 1).Add(-time.Second)
	}
	return start, end, true
}
