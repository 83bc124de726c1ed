package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"TalkingAvatar-server/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// generationContext 客户端断开不会中止生成，生成只以轮询预算结束
func generationContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func wantsAsync(c *gin.Context) bool {
	return c.Query("async") == "true"
}

// 生成音频：POST /v1/api/generate-audio
func (h *Handler) GenerateAudio(c *gin.Context) {
	var req service.AudioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if wantsAsync(c) {
		h.enqueue(c, req.Validate, req.ProjectID, service.GenerationPayload{
			Kind:  service.GenerationKindAudio,
			Audio: &req,
		})
		return
	}

	res, err := h.Gen.GenerateAudio(generationContext(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// 生成说话头像视频：POST /v1/api/generate-video
func (h *Handler) GenerateVideo(c *gin.Context) {
	var req service.VideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if wantsAsync(c) {
		h.enqueue(c, req.Validate, req.ProjectID, service.GenerationPayload{
			Kind:  service.GenerationKindVideo,
			Video: &req,
		})
		return
	}

	res, err := h.Gen.GenerateVideo(generationContext(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// enqueue 校验、登记 job 后入队，返回 202
func (h *Handler) enqueue(c *gin.Context, validate func() error, projectID string, payload service.GenerationPayload) {
	if h.Queue == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "async mode is not enabled"})
		return
	}
	if err := validate(); err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	att, err := h.Gen.Begin(ctx, projectID)
	if err != nil {
		h.fail(c, err)
		return
	}
	payload.JobID = att.JobID
	if err := h.Queue.Enqueue(ctx, payload); err != nil {
		h.Gen.MarkFailed(ctx, projectID, att.JobID, err)
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":   true,
		"jobId":     att.JobID,
		"projectId": projectID,
	})
}

// 试听：POST /v1/api/voice-preview
func (h *Handler) VoicePreview(c *gin.Context) {
	var req struct {
		VoiceID string `json:"voiceId"`
		Text    string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	audio, err := h.Preview.Preview(c.Request.Context(), req.VoiceID, req.Text)
	if err != nil {
		if errors.Is(err, service.ErrMissingParameter) {
			h.fail(c, err)
			return
		}
		// 客户端可改用浏览器本地语音
		h.Log.Warn("voice preview failed", zap.String("voice_id", req.VoiceID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":    err.Error(),
			"fallback": true,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audioContent": base64.StdEncoding.EncodeToString(audio)})
}
