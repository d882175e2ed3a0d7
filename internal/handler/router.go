package handler

import (
	"github.com/gin-gonic/gin"
)

// Register 注册 /api 路由
func Register(r *gin.Engine, sim *SimulationHandler, auth *Auth, limiter *RateLimiter) {
	api := r.Group("/api", Session())
	{
		api.GET("/health", sim.Health)
		api.GET("/ready", sim.Ready)
		api.POST("/auth/verify", auth.Verify)

		protected := api.Group("", auth.Middleware())
		protected.POST("/simulate", RateLimit(limiter), sim.Simulate)
		protected.POST("/demo", RateLimit(limiter), sim.Demo)
		protected.GET("/results/latest", sim.Latest)
		protected.GET("/runs", sim.Runs)
		protected.GET("/runs/:id", sim.Run)
	}
}
