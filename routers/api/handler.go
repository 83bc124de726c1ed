package api

import (
	"errors"
	"net/http"
	"time"

	"TalkingAvatar-server/models"
	"TalkingAvatar-server/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler HTTP 接口依赖
type Handler struct {
	Store   models.Store
	Gen     *service.GenerationService
	Preview *service.VoicePreviewer
	// Queue 为 nil 时不支持 ?async=true
	Queue service.Enqueuer
	// Providers 已配置凭证的 provider，仅用于 /healthz 展示
	Providers []string
	Log       *zap.Logger
	// WSPollInterval websocket 推送时读取 DB 的间隔
	WSPollInterval time.Duration
}

// errorStatus 错误分类 -> HTTP 状态码
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrMissingParameter):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrProjectNotFound), errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
}

// Healthz GET /healthz
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"providers": h.Providers,
		"async":     h.Queue != nil,
	})
}
