package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"songrelay/backend/internal/config"
	"songrelay/backend/internal/health"
	"songrelay/backend/internal/monitoring"
	"songrelay/backend/internal/transport/ws"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config  *config.Config
	Hub     *ws.Hub
	Health  *health.Checker
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
// 网关的全部业务都走 WebSocket，HTTP 面只有升级端点和运维端点。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(deps.Logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range deps.Config.CORS.AllowedOrigins {
		if origin == "*" {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	router.GET("/ws", ws.HandleWebSocket(deps.Hub))

	if deps.Health != nil {
		router.GET("/healthz", gin.WrapH(deps.Health.LiveHandler()))
		router.GET("/readyz", gin.WrapH(deps.Health.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

// requestLogger 记录每个 HTTP 请求的结构化日志。
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
