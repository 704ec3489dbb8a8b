package api

import "github.com/gin-gonic/gin"

// SetupRoutes registers every operator route on router.
func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/health", handler.Health)
	router.HEAD("/health", handler.Health)
	if handler.metrics != nil {
		router.GET("/metrics", gin.WrapH(handler.metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		scans := v1.Group("/scans")
		{
			scans.POST("", handler.StartScan)
			scans.GET("/:id", handler.GetScan)
		}

		v1.GET("/sources", handler.ListSources)

		rules := v1.Group("/filter-rules")
		{
			rules.GET("", handler.GetFilterRules)
			rules.PUT("", handler.UpdateFilterRules)
			rules.POST("/exclusions", handler.AddExclusion)
		}

		v1.GET("/scoring/config", handler.GetScoringConfig)
		v1.PUT("/scoring/config", handler.UpdateScoringConfig)

		opps := v1.Group("/opportunities")
		{
			opps.POST("/rescore", handler.RescoreAll)
			opps.POST("/:id/score", handler.ScoreOne)
		}
	}
}
