package routers

import (
	"net/http"

	"TalkingAvatar-server/logger"
	"TalkingAvatar-server/routers/api"
	"TalkingAvatar-server/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Options 路由层可选项
type Options struct {
	AllowedOrigins []string
	// Limiter 为 nil 时不限流
	Limiter *service.RateLimiter
	Log     *zap.Logger
}

func InitRouter(h *api.Handler, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(logger.GinLogger(opts.Log), gin.Recovery(), CORS(opts.AllowedOrigins))

	r.GET("/healthz", h.Healthz)

	limited := RateLimit(opts.Limiter)
	v1 := r.Group("/v1/api")
	{
		v1.POST("/generate-audio", limited, h.GenerateAudio)
		v1.POST("/generate-video", limited, h.GenerateVideo)
		v1.POST("/voice-preview", limited, h.VoicePreview)

		v1.POST("/projects", h.CreateProject)
		v1.GET("/projects", h.ListProjects)
		v1.GET("/projects/:project_id", h.GetProject)
		v1.GET("/avatars", h.ListAvatars)
		v1.GET("/jobs/:job_id", h.GetJob)
	}
	r.GET("/jobs/:job_id/wss", h.JobProgressWebSocket)
	return r
}

// CORS 所有接口响应预检请求；origins 为空时允许任意来源
func CORS(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := "*"
		if len(allowed) > 0 {
			origin = ""
			if o := c.GetHeader("Origin"); allowed[o] {
				origin = o
			}
		}
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// RateLimit 按客户端 IP 限流，超限返回 429
func RateLimit(limiter *service.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limiter.Allow(c.Request.Context(), service.ClientIP(c.Request)) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	}
}
