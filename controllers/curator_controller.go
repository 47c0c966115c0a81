package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"curator_backend/curator"
	"curator_backend/storage"
)

// CuratorController exposes the curator over HTTP.
type CuratorController struct {
	cur *curator.Curator
}

// NewCuratorController creates the controller.
func NewCuratorController(cur *curator.Curator) *CuratorController {
	return &CuratorController{cur: cur}
}

// FetchQuote fetches a live quote through the source chain. An optional
// source query parameter restricts the fetch to that single source.
// GET /api/v1/quotes/:ticker?source=alpha
func (cc *CuratorController) FetchQuote(c *gin.Context) {
	quote, err := cc.cur.FetchQuote(c.Request.Context(), c.Param("ticker"), c.Query("source"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if quote == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no source had data for ticker"})
		return
	}
	c.JSON(http.StatusOK, quote)
}

// FetchQuotesBatch fetches several tickers, omitting the ones with no data.
// POST /api/v1/quotes/batch
func (cc *CuratorController) FetchQuotesBatch(c *gin.Context) {
	var req struct {
		Tickers []string `json:"tickers" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tickers list is required"})
		return
	}

	quotes := cc.cur.FetchQuotesBatch(c.Request.Context(), req.Tickers)
	c.JSON(http.StatusOK, gin.H{
		"quotes":    quotes,
		"requested": len(req.Tickers),
		"returned":  len(quotes),
	})
}

// GetQuote serves a quote from cache, store or live fetch, in that order.
// GET /api/v1/quotes/:ticker/latest
func (cc *CuratorController) GetQuote(c *gin.Context) {
	quote, err := cc.cur.GetQuote(c.Request.Context(), c.Param("ticker"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if quote == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no quote available for ticker"})
		return
	}
	c.JSON(http.StatusOK, quote)
}

// FetchNews aggregates live news from every news-capable source.
// GET /api/v1/news?ticker=AAPL&limit=10&since=2026-08-01
func (cc *CuratorController) FetchNews(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := parseSince(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since parameter, use RFC3339 or YYYY-MM-DD"})
			return
		}
		since = &t
	}

	articles, err := cc.cur.FetchNews(c.Request.Context(), c.Query("ticker"), limit, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"articles": articles, "count": len(articles)})
}

// SearchNews searches stored articles.
// GET /api/v1/news/search?ticker=AAPL&q=earnings&since=2026-01-01&limit=10
func (cc *CuratorController) SearchNews(c *gin.Context) {
	filter := storage.NewsFilter{
		Ticker: c.Query("ticker"),
		Query:  c.Query("q"),
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "10")); err == nil {
		filter.Limit = limit
	}
	if since := c.Query("since"); since != "" {
		t, err := parseSince(since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since parameter, use RFC3339 or YYYY-MM-DD"})
			return
		}
		filter.Since = &t
	}

	articles, err := cc.cur.SearchNews(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"articles": articles, "count": len(articles)})
}

// GetBars serves stored OHLCV bars.
// GET /api/v1/bars/:ticker?interval=1day&limit=100
func (cc *CuratorController) GetBars(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	bars, err := cc.cur.GetOHLCV(c.Request.Context(), c.Param("ticker"), c.Query("interval"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bars": bars, "count": len(bars)})
}

// FetchBars pulls historical bars through the source chain and stores them.
// POST /api/v1/bars/:ticker/fetch?period=1M&interval=1day
func (cc *CuratorController) FetchBars(c *gin.Context) {
	bars, err := cc.cur.FetchHistoricalData(c.Request.Context(),
		c.Param("ticker"), c.DefaultQuery("period", "1M"), c.DefaultQuery("interval", "1day"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if bars == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no source had historical data for ticker"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bars": bars, "count": len(bars)})
}

// GetWatchlist returns the watched tickers.
// GET /api/v1/watchlist
func (cc *CuratorController) GetWatchlist(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tickers": cc.cur.Watchlist()})
}

// AddToWatchlist registers tickers with the background worker.
// POST /api/v1/watchlist
func (cc *CuratorController) AddToWatchlist(c *gin.Context) {
	var req struct {
		Tickers []string `json:"tickers" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tickers list is required"})
		return
	}
	cc.cur.AddToWatchlist(req.Tickers...)
	c.JSON(http.StatusOK, gin.H{"tickers": cc.cur.Watchlist()})
}

// RemoveFromWatchlist drops one ticker.
// DELETE /api/v1/watchlist/:ticker
func (cc *CuratorController) RemoveFromWatchlist(c *gin.Context) {
	cc.cur.RemoveFromWatchlist(c.Param("ticker"))
	c.JSON(http.StatusOK, gin.H{"tickers": cc.cur.Watchlist()})
}

// GetStats returns curation counters and gauges.
// GET /api/v1/stats
func (cc *CuratorController) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, cc.cur.GetStats())
}

// Health reports subsystem health, 503 when degraded.
// GET /health
func (cc *CuratorController) Health(c *gin.Context) {
	if !cc.cur.HealthCheck(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StartWorker starts the background refresh loop.
// POST /api/v1/admin/worker/start
func (cc *CuratorController) StartWorker(c *gin.Context) {
	var req struct {
		IntervalSeconds int `json:"interval_seconds"`
	}
	_ = c.ShouldBindJSON(&req)

	cc.cur.StartWorker(time.Duration(req.IntervalSeconds) * time.Second)
	c.JSON(http.StatusOK, gin.H{"worker_running": cc.cur.WorkerRunning()})
}

// StopWorker stops the background refresh loop.
// POST /api/v1/admin/worker/stop
func (cc *CuratorController) StopWorker(c *gin.Context) {
	cc.cur.StopWorker()
	c.JSON(http.StatusOK, gin.H{"worker_running": cc.cur.WorkerRunning()})
}

// ClearCache drops every cached quote.
// POST /api/v1/admin/cache/clear
func (cc *CuratorController) ClearCache(c *gin.Context) {
	cc.cur.ClearCache()
	c.JSON(http.StatusOK, gin.H{"status": "cache cleared"})
}

// RunImport runs a bulk import against a registered bulk source.
// POST /api/v1/admin/import
func (cc *CuratorController) RunImport(c *gin.Context) {
	var req struct {
		Source   string   `json:"source" binding:"required"`
		Prefix   string   `json:"prefix"`
		DataType string   `json:"data_type"`
		Keys     []string `json:"keys"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source is required"})
		return
	}

	// Explicit key lists import one data type; otherwise sweep the prefix.
	if len(req.Keys) > 0 {
		cc.runKeyedImport(c, req.Source, req.DataType, req.Keys)
		return
	}

	stats, err := cc.cur.ImportFromBulkSource(c.Request.Context(), req.Source, req.Prefix, req.DataType)
	if err != nil {
		var unknown *curator.UnknownBulkSourceError
		if errors.As(err, &unknown) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":         unknown.Error(),
				"known_sources": unknown.Known,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (cc *CuratorController) runKeyedImport(c *gin.Context, source, dataType string, keys []string) {
	var n int
	var err error
	switch dataType {
	case "quotes":
		n, err = cc.cur.ImportBulkQuotes(c.Request.Context(), source, keys)
	case "ohlcv":
		n, err = cc.cur.ImportBulkOHLCV(c.Request.Context(), source, keys)
	case "news":
		n, err = cc.cur.ImportBulkNews(c.Request.Context(), source, keys)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "data_type must be quotes, ohlcv or news when keys are given"})
		return
	}
	if err != nil {
		var unknown *curator.UnknownBulkSourceError
		if errors.As(err, &unknown) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":         unknown.Error(),
				"known_sources": unknown.Known,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n, "files": len(keys)})
}

// ListImportFiles lists the files a bulk source has under a prefix.
// GET /api/v1/admin/import/files?source=warehouse&prefix=2026/&suffix=.json
func (cc *CuratorController) ListImportFiles(c *gin.Context) {
	source := c.Query("source")
	if source == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source query parameter is required"})
		return
	}

	files, err := cc.cur.ListBulkFiles(c.Request.Context(), source, c.Query("prefix"), c.Query("suffix"))
	if err != nil {
		var unknown *curator.UnknownBulkSourceError
		if errors.As(err, &unknown) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":         unknown.Error(),
				"known_sources": unknown.Known,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files)})
}

// DescribeImportFile probes one object in a bulk source without downloading.
// GET /api/v1/admin/import/files/head?source=warehouse&key=2026/daily_bars.parquet
func (cc *CuratorController) DescribeImportFile(c *gin.Context) {
	source, key := c.Query("source"), c.Query("key")
	if source == "" || key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source and key query parameters are required"})
		return
	}

	info, err := cc.cur.DescribeBulkFile(c.Request.Context(), source, key)
	if err != nil {
		var unknown *curator.UnknownBulkSourceError
		if errors.As(err, &unknown) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":         unknown.Error(),
				"known_sources": unknown.Known,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func parseSince(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
