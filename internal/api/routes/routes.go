package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/casescribe/internal/api/handlers"
	"github.com/yoockh/casescribe/internal/api/middleware"
)

type Deps struct {
	Analysis *handlers.AnalysisHandler
	Admin    *handlers.AdminHandler
	WS       *handlers.WSHandler
	Metrics  http.Handler
	Auth     middleware.JWTConfig
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	auth := r.Group("/")
	auth.Use(middleware.JWTAuth(d.Auth))

	auth.GET("/ws/realtime", d.WS.Realtime)

	v1 := auth.Group("/api/v1")
	v1.POST("/analyze", d.Analysis.Analyze)
	v1.GET("/jobs/:job_id", d.Analysis.GetJob)

	admin := v1.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.GET("/jobs", d.Admin.ListJobs)
	admin.GET("/sessions", d.Admin.ListSessions)
	admin.GET("/records", d.Admin.ListRecords)
}
