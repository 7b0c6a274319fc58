package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xxxsen/mrag/internal/middleware"
)

type RouterDeps struct {
	Auth           *AuthHandler
	Documents      *DocumentHandler
	Query          *QueryHandler
	Status         *StatusHandler
	System         *SystemHandler
	JWTSecret      []byte
	QueryRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/auth/login", deps.Auth.Login)
	api.GET("/health", deps.System.Health)
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))
	authGroup.POST("/documents", deps.Documents.Upload)
	authGroup.GET("/documents", deps.Documents.List)
	authGroup.GET("/documents/:id", deps.Documents.Get)
	authGroup.GET("/documents/:id/chunks", deps.Documents.Chunks)
	authGroup.DELETE("/documents/:id", deps.Documents.Delete)

	authGroup.POST("/query", middleware.RateLimit(deps.QueryRateLimit), deps.Query.Ask)
	authGroup.GET("/query/logs", deps.Query.Logs)
	authGroup.GET("/cache", deps.Query.CacheStats)
	authGroup.DELETE("/cache", deps.Query.ClearCache)

	authGroup.GET("/status/stream", deps.Status.Stream)
	authGroup.GET("/status/:id", deps.Status.Get)

	authGroup.POST("/reindex", deps.System.Reindex)
}
