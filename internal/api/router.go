package api

import (
	"time"

	"github.com/apk-analysis/toolsetup/internal/api/handlers"
	"github.com/apk-analysis/toolsetup/internal/config"
	"github.com/apk-analysis/toolsetup/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRouter 注册状态服务的路由
// promMetrics 为 nil 时不挂载 /metrics。
func SetupRouter(cfg *config.Config, logger *logrus.Logger, runHandler *handlers.RunHandler, eventsHandler *handlers.EventsHandler, promMetrics *metrics.PrometheusMetrics) *gin.Engine {
	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	if promMetrics != nil {
		r.Use(promMetrics.HTTPMiddleware())
		r.GET("/metrics", promMetrics.Handler())
	}

	// 健康检查（无需认证）
	r.GET("/health", runHandler.Health)

	v1 := r.Group("/api/v1")
	if cfg.Server.Token != "" {
		v1.Use(AuthMiddleware(cfg.Server.Token))
	}
	{
		v1.GET("/profiles", runHandler.ListProfiles)
		v1.GET("/report", runHandler.GetReport)
		v1.POST("/verify", runHandler.Verify)
		v1.POST("/install", runHandler.Install)

		v1.GET("/history", runHandler.ListHistory)
		v1.GET("/history/:id", runHandler.GetHistory)

		if eventsHandler != nil {
			v1.GET("/events", eventsHandler.HandleWebSocket)
		}
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(startTime).Milliseconds(),
		}).Debug("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
