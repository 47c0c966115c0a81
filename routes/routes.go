package routes

import (
	"github.com/gin-gonic/gin"

	"curator_backend/config"
	"curator_backend/controllers"
	"curator_backend/curator"
	"curator_backend/middleware"
	"curator_backend/realtime"
)

// SetupRoutes sets up all API routes.
func SetupRoutes(router *gin.Engine, cfg *config.Config, cur *curator.Curator, hub *realtime.Hub) {
	curatorController := controllers.NewCuratorController(cur)
	authController := controllers.NewAuthController(cfg)

	api := router.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authController.Login)
		}

		quotes := api.Group("/quotes")
		{
			quotes.POST("/batch", curatorController.FetchQuotesBatch)
			quotes.GET("/:ticker", curatorController.FetchQuote)
			quotes.GET("/:ticker/latest", curatorController.GetQuote)
		}

		news := api.Group("/news")
		{
			news.GET("", curatorController.FetchNews)
			news.GET("/search", curatorController.SearchNews)
		}

		bars := api.Group("/bars")
		{
			bars.GET("/:ticker", curatorController.GetBars)
			bars.POST("/:ticker/fetch", curatorController.FetchBars)
		}

		watchlist := api.Group("/watchlist")
		{
			watchlist.GET("", curatorController.GetWatchlist)
			watchlist.POST("", curatorController.AddToWatchlist)
			watchlist.DELETE("/:ticker", curatorController.RemoveFromWatchlist)
		}

		api.GET("/stats", curatorController.GetStats)

		admin := api.Group("/admin", middleware.JWTAuthMiddleware(cfg.JWTSecret))
		{
			admin.POST("/worker/start", curatorController.StartWorker)
			admin.POST("/worker/stop", curatorController.StopWorker)
			admin.POST("/cache/clear", curatorController.ClearCache)
			admin.POST("/import", curatorController.RunImport)
			admin.GET("/import/files", curatorController.ListImportFiles)
			admin.GET("/import/files/head", curatorController.DescribeImportFile)
		}
	}

	router.GET("/health", curatorController.Health)

	router.GET("/ws/quotes", func(c *gin.Context) {
		hub.HandleWebSocket(c.Writer, c.Request)
	})
}
