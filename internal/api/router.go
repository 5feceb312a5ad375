package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	Briefings     *BriefingHandler
	Jobs          *JobHandler
	Content       *ContentHandler
	Health        HealthChecker
	InternalToken string
	Logger        *slog.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(cfg.Logger))

	r.GET("/health", HealthCheck(cfg.Health))

	v1 := r.Group("/v1")
	if cfg.Briefings != nil {
		v1.POST("/briefings", cfg.Briefings.Submit)
		v1.GET("/briefings/:user_id/:local_date", cfg.Briefings.Get)
		v1.DELETE("/briefings/:user_id/:local_date", cfg.Briefings.Cancel)
	}

	internal := r.Group("/internal")
	internal.Use(RequireInternalToken(cfg.InternalToken))
	if cfg.Jobs != nil {
		internal.POST("/jobs/claim", cfg.Jobs.Claim)
		internal.POST("/jobs/reclaim", cfg.Jobs.Reclaim)
		internal.POST("/jobs/:job_id/complete", cfg.Jobs.Complete)
		internal.POST("/jobs/:job_id/fail", cfg.Jobs.Fail)
	}
	if cfg.Briefings != nil {
		internal.GET("/intake-log/:user_id", cfg.Briefings.History)
	}
	if cfg.Content != nil {
		internal.GET("/content", cfg.Content.Fresh)
		internal.POST("/content", cfg.Content.Append)
		internal.GET("/content/freshness", cfg.Content.Freshness)
	}

	return r
}
